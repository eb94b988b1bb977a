package mcu

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "media_gateway",
		Subsystem: "mcu",
		Name:      "request_duration_seconds",
		Help:      "Длительность XML-RPC запросов к микшеру",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "media_gateway",
		Subsystem: "mcu",
		Name:      "request_errors_total",
		Help:      "Число неуспешных XML-RPC запросов к микшеру",
	}, []string{"method"})

	requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "media_gateway",
		Subsystem: "mcu",
		Name:      "request_timeouts_total",
		Help:      "Число XML-RPC запросов, брошенных по таймауту",
	}, []string{"method"})
)

func observeRequest(method string, elapsed time.Duration, err error) {
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		requestErrors.WithLabelValues(method).Inc()
	}
}

func observeTimeout(method string) {
	requestTimeouts.WithLabelValues(method).Inc()
}
