package conference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "media_gateway",
		Subsystem: "conference",
		Name:      "state_transitions_total",
		Help:      "Число переходов состояний участников",
	}, []string{"state"})

	connectedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "media_gateway",
		Subsystem: "conference",
		Name:      "connected_participants",
		Help:      "Число участников в состоянии CONNECTED",
	})

	negotiationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "media_gateway",
		Subsystem: "conference",
		Name:      "negotiation_failures_total",
		Help:      "Число неуспешных SDP переговоров",
	})
)

func observeTransition(from, to State) {
	stateTransitions.WithLabelValues(to.String()).Inc()
	if to == StateConnected {
		connectedParticipants.Inc()
	} else if from == StateConnected {
		connectedParticipants.Dec()
	}
}

func observeNegotiationFailure() {
	negotiationFailures.Inc()
}
