package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pennyauction/go/internal/auction/gateway"
	"github.com/mcdev12/pennyauction/go/internal/engineconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := engineconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid engine configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	// Pick up auctions that were live when the previous process stopped.
	recovered, err := services.Lifecycle.RecoverLiveAuctions(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to recover live auctions")
	}

	go services.Viewers.Start(ctx)

	go func() {
		if err := services.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler failed")
		}
	}()

	if services.Commands != nil {
		if err := services.Commands.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start command consumer")
		}
	}

	server := gateway.NewServer(gateway.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, services.Viewers, services.Lifecycle, services.Metrics.Handler())
	server.ReadHeaderTimeout = 10 * time.Second
	server.IdleTimeout = 120 * time.Second

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("storage", cfg.Storage).
			Int("recovered_auctions", recovered).
			Msg("auction engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if services.Commands != nil {
		if err := services.Commands.Stop(); err != nil {
			log.Error().Err(err).Msg("command consumer shutdown failed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Auctions stay live in storage; the next process restarts their timers.
	services.Lifecycle.Shutdown()

	log.Info().Msg("auction engine shutdown complete")
}
