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
	"recording-ingress-service/internal/events"
	"recording-ingress-service/internal/httpapi"
	"recording-ingress-service/internal/observability"
	"recording-ingress-service/internal/recall"
	"recording-ingress-service/internal/relay"
	"recording-ingress-service/internal/service/dispatch"
	"recording-ingress-service/internal/service/transcripts"
	"recording-ingress-service/internal/store"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	logger := application.Logger

	st, err := store.Open(cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("Store open failed")
	}
	defer st.Close()

	// Kafka publisher for persisted-fragment and session-update events
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicFragment: cfg.Kafka.TopicTranscript,
		TopicSession:  cfg.Kafka.TopicSession,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()

	recallClient := recall.New(recall.Config{
		BaseURL:           cfg.Recall.BaseURL,
		APIKey:            cfg.Recall.APIKey,
		WebhookURL:        cfg.Recall.WebhookURL,
		RecordingAttempts: cfg.Recall.RecordingAttempts,
		RecordingInterval: cfg.Recall.RecordingInterval,
		ArtifactRounds:    cfg.Recall.ArtifactRounds,
		ArtifactInterval:  cfg.Recall.ArtifactInterval,
		RequestTimeout:    cfg.Recall.RequestTimeout,
	}, logger)

	gate := transcripts.NewGate(st, publisher, logger)
	pusher := relay.NewPusher(cfg.Relay.PushURL, logger)
	dispatcher := dispatch.New(st, gate, recallClient, pusher, logger)
	handlers := httpapi.NewHandlers(st, dispatcher, recallClient, logger)

	metricsServer := observability.NewServer(":" + cfg.Observability.MetricsPort)
	metricsServer.Start()

	server := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Startup failed")
	}

	go func() {
		logger.Info().Str("port", cfg.Service.HTTPPort).Msg("Ingress HTTP server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	// Let in-flight webhook processing land before the store closes.
	dispatcher.Drain()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	application.Shutdown()
}
