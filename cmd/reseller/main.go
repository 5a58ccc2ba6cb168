package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/25x8/smm-reseller/internal/reseller/config"
	"github.com/25x8/smm-reseller/internal/reseller/logger"
	"github.com/25x8/smm-reseller/internal/reseller/server"
)

func main() {
	// Load configuration
	if err := config.LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	}
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("parse config")
	}
	logger.Setup(cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.NewServer(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info().Msg("shutting down server")
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
