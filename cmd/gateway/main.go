// Команда gateway поднимает медиашлюз: SIP-сигнализацию, конференцию
// на удаленном микшере и HTTP-эндпоинт метрик.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/media_gateway/pkg/codecs"
	"github.com/arzzra/media_gateway/pkg/conference"
	"github.com/arzzra/media_gateway/pkg/mcu"
	"github.com/arzzra/media_gateway/pkg/sipsig"
)

func main() {
	var (
		listenAddr    = flag.String("listen", "0.0.0.0:5060", "SIP listen address")
		contactHost   = flag.String("contact-host", "", "Contact host for SIP dialogs")
		contactPort   = flag.Int("contact-port", 5060, "Contact port for SIP dialogs")
		mixerName     = flag.String("mixer-name", "mixer1", "Media mixer name")
		mixerURL      = flag.String("mixer-url", "http://127.0.0.1:8080", "Media mixer XML-RPC base URL")
		mixerIP       = flag.String("mixer-ip", "127.0.0.1", "Media mixer RTP address")
		mixerPublicIP = flag.String("mixer-public-ip", "", "Media mixer public RTP address")
		mixerNet      = flag.String("mixer-net", "", "Local network CIDR of the mixer")
		room          = flag.String("room", "room1", "Conference name on the mixer")
		metricsAddr   = flag.String("metrics", "127.0.0.1:9090", "Prometheus metrics address")
		debug         = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *listenAddr, *contactHost, *contactPort,
		*mixerName, *mixerURL, *mixerIP, *mixerPublicIP, *mixerNet,
		*room, *metricsAddr); err != nil {
		logger.Error("шлюз завершился с ошибкой", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, listenAddr, contactHost string, contactPort int,
	mixerName, mixerURL, mixerIP, mixerPublicIP, mixerNet, room, metricsAddr string) error {

	mixer, err := conference.NewMixer(conference.MixerConfig{
		Name:     mixerName,
		URL:      mixerURL,
		IP:       mixerIP,
		PublicIP: mixerPublicIP,
		LocalNet: mixerNet,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("ошибка подключения к микшеру: %w", err)
	}
	defer func() {
		if err := mixer.Close(); err != nil {
			logger.Error("ошибка закрытия клиента микшера", "error", err)
		}
	}()

	conf, err := conference.NewConference(conference.Config{
		Tag:          room,
		Mixer:        mixer,
		VADMode:      mcu.VADBasic,
		MosaicLayout: mcu.Mosaic2x2,
		MosaicSize:   mcu.CIF,
		AudioCodecs:  []int{codecs.PCMU, codecs.PCMA, codecs.OPUS},
		VideoCodecs:  []int{codecs.H264, codecs.H2631996, codecs.VP8},
		TextCodecs:   []int{codecs.T140RED, codecs.T140},
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("ошибка создания конференции: %w", err)
	}
	defer conf.End()

	sipCfg := sipsig.DefaultConfig()
	sipCfg.ListenAddr = listenAddr
	sipCfg.ContactHost = contactHost
	sipCfg.ContactPort = contactPort
	sipCfg.Logger = logger
	if sipCfg.ContactHost == "" {
		sipCfg.ContactHost = mixer.PublicAddress()
	}
	sipCfg.Router = func(target sip.Uri) (*conference.Conference, bool) {
		if target.User == room {
			return conf, true
		}
		return nil, false
	}

	stack, err := sipsig.NewStack(sipCfg)
	if err != nil {
		return fmt.Errorf("ошибка создания SIP-стека: %w", err)
	}
	defer stack.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stack.Start(ctx)
	logger.Info("SIP-стек запущен", "addr", listenAddr, "room", room)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Error("HTTP-сервер метрик завершился", "error", err)
		}
	}()
	logger.Info("метрики доступны", "addr", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("получен сигнал завершения", "signal", sig.String())
	return nil
}
