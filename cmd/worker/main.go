// Package main provides the entrypoint for the push fan-out worker. It
// consumes pass-change messages from Pub/Sub and dispatches background pushes
// to every registered device.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/database"
	"github.com/passrelay/passrelay/internal/notify"
	"github.com/passrelay/passrelay/internal/notify/apns"
	"github.com/passrelay/passrelay/internal/registration"
	"github.com/passrelay/passrelay/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "passrelay-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting push fan-out worker")

	// Worker also exposes a health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	pubsubProject := os.Getenv("PUBSUB_PROJECT_ID")
	if pubsubProject == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}

	subscription := os.Getenv("PUBSUB_SUBSCRIPTION")
	if subscription == "" {
		subscription = "pass-changes-worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Str("database", dbConfig.Database).
		Msg("database connected")

	regRepo := registration.NewPostgresRepository(pool)

	// APNs is mandatory here: a worker without a push channel has nothing to do.
	apnsCfg := apns.ConfigFromEnv()
	if apnsCfg.KeyFile == "" {
		log.Fatal().Msg("APNS_KEY_FILE is required")
	}
	pusher, err := apns.NewClientFromEnv(apnsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create APNs client")
	}
	log.Info().
		Bool("sandbox", apnsCfg.Sandbox).
		Msg("APNs client initialized")

	notifier := notify.NewNotifier(notify.NotifierConfig{
		Registrations: regRepo,
		Pusher:        pusher,
		Logger:        log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        pubsubProject,
		SubscriptionName: subscription,
		Notifier:         notifier,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer handler.Close()

	// Health check server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start consuming; Receive blocks until the context is cancelled.
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- handler.Start(ctx)
	}()

	// Wait for interrupt signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
	case err := <-consumerDone:
		if err != nil {
			log.Error().Err(err).Msg("consumer stopped with error")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
