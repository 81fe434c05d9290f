package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicesession/internal/adapters/http"
	wssignal "github.com/dkeye/voicesession/internal/adapters/signal"
	"github.com/dkeye/voicesession/internal/config"
	"github.com/dkeye/voicesession/internal/relay"
	"github.com/dkeye/voicesession/internal/relay/archive"
)

func main() {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := router.Deps{Metrics: reg}
	var chats relay.ChatArchive
	if cfg.Relay.ArchivePath != "" {
		db, err := archive.Open(cfg.Relay.ArchivePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Relay.ArchivePath).Msg("open chat archive")
		}
		defer db.Close()
		chats, deps.History = db, db
		log.Info().Str("path", db.Path()).Msg("chat archive enabled")
	}

	deps.Relay = relay.New(cfg.Relay, chats, reg)
	deps.Signal = wssignal.NewSignalWSController(deps.Relay, cfg.Signal)

	r := router.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
