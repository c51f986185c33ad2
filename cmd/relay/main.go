package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recording-ingress-service/internal/app"
	"recording-ingress-service/internal/config"
	"recording-ingress-service/internal/relay"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	logger := application.Logger

	hub := relay.NewHub(logger)
	relayServer := relay.NewServer(hub, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Relay.Port,
		Handler:           relayServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}

	go func() {
		logger.Info().Str("port", cfg.Relay.Port).Msg("Relay server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Relay serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Relay shutdown failed")
	}
	application.Shutdown()
}
