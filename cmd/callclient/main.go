package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/voicesession/internal/adapters/backend"
	"github.com/dkeye/voicesession/internal/adapters/devices"
	"github.com/dkeye/voicesession/internal/adapters/livekit"
	"github.com/dkeye/voicesession/internal/adapters/rtc"
	wssignal "github.com/dkeye/voicesession/internal/adapters/signal"
	"github.com/dkeye/voicesession/internal/app"
	"github.com/dkeye/voicesession/internal/app/managed"
	"github.com/dkeye/voicesession/internal/app/orch"
	"github.com/dkeye/voicesession/internal/app/peer"
	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/core"
	"github.com/dkeye/voicesession/internal/domain"
)

func main() {
	appointment := pflag.String("appointment", "", "appointment id to join")
	room := pflag.String("room", "", "group room id to join")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	cfg.WatchLogLevel()

	sess, err := pickSession(*appointment, *room)
	if err != nil {
		log.Fatal().Err(err).Msg("choose exactly one of --appointment or --room")
	}
	self, err := domain.NewUser(domain.UserID(cfg.Client.UserID), cfg.Client.DisplayName, domain.Role(cfg.Client.Role))
	if err != nil {
		log.Fatal().Err(err).Msg("client identity")
	}

	devs, err := devices.New(cfg.Media, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("capture devices")
	}
	caps := backend.NewClient(cfg.Backend, nil, log.Logger)
	dialer := wssignal.NewDialer(cfg.Signal, log.Logger)
	factory := rtc.NewFactory(devs.Codecs(), cfg.Signal.ICEFallback, log.Logger)
	connector := livekit.NewConnector(log.Logger)

	engines := map[domain.Provider]orch.EngineBuilder{
		domain.ProviderNative: func(c core.CapabilityProvider, store *app.Store) orch.Engine {
			return peer.New(peer.Config{Self: *self, SignalEndpoint: cfg.Signal.Endpoint, Constraints: cfg.Media},
				peer.Deps{Capabilities: c, Devices: devs, Connections: factory, Dialer: dialer, Store: store}, log.Logger)
		},
		domain.ProviderManaged: func(c core.CapabilityProvider, store *app.Store) orch.Engine {
			return managed.New(managed.Config{Self: *self, SignalEndpoint: cfg.Signal.Endpoint, Constraints: cfg.Media, URL: cfg.Managed.URL},
				managed.Deps{Capabilities: c, Devices: devs, Connector: connector, Dialer: dialer, Store: store}, log.Logger)
		},
	}
	o := orch.New(*self, caps, engines, log.Logger)
	defer o.Close()

	snaps, unsubscribe := o.Subscribe()
	defer unsubscribe()
	go logSnapshots(snaps)

	if err := o.Join(ctx, sess); err != nil {
		log.Error().Err(err).Str("session", sess.String()).Msg("join failed")
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(ctx, o, line) {
				return
			}
		}
	}
}

func logSnapshots(snaps <-chan app.Snapshot) {
	for s := range snaps {
		log.Info().Str("phase", s.Phase.String()).Bool("mic", s.MicOn).Bool("video", s.VideoOn).
			Bool("screen", s.ScreenSharing).Int("participants", len(s.Participants)).
			Int("streams", len(s.RemoteStreams)).Int("messages", len(s.Messages)).Msg("state")
		if n := len(s.Messages); n > 0 && !s.Messages[n-1].Local {
			m := s.Messages[n-1]
			log.Info().Str("from", m.Sender).Msg(m.Text)
		}
	}
}
