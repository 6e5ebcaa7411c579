// Package main provides the entrypoint for the pass web service API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/api"
	"github.com/passrelay/passrelay/internal/api/handler"
	"github.com/passrelay/passrelay/internal/api/middleware"
	"github.com/passrelay/passrelay/internal/database"
	"github.com/passrelay/passrelay/internal/notify"
	"github.com/passrelay/passrelay/internal/notify/apns"
	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/passkit"
	"github.com/passrelay/passrelay/internal/pkpass"
	"github.com/passrelay/passrelay/internal/registration"
	"github.com/passrelay/passrelay/internal/storage"
	"github.com/passrelay/passrelay/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "passrelay-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting pass web service API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	passTypeID := os.Getenv("PASS_TYPE_ID")
	if passTypeID == "" {
		log.Fatal().Msg("PASS_TYPE_ID is required")
	}

	adminAPIKey := os.Getenv("ADMIN_API_KEY")
	if adminAPIKey == "" {
		log.Fatal().Msg("ADMIN_API_KEY is required")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	passRepo := pass.NewPostgresRepository(pool)
	regRepo := registration.NewPostgresRepository(pool)

	// Bundle signer: the pass type certificate, key, and WWDR intermediate
	// stay on disk and signing shells out to openssl.
	signer := pkpass.NewBundleSigner(pkpass.BundleSignerConfig{
		WebServiceURL: os.Getenv("WEB_SERVICE_URL"),
		TeamID:        os.Getenv("APPLE_TEAM_ID"),
		SignManifest: pkpass.CommandSignFunc(
			os.Getenv("PASS_CERT_FILE"),
			os.Getenv("PASS_KEY_FILE"),
			os.Getenv("WWDR_CERT_FILE"),
		),
	})
	log.Info().Msg("bundle signer initialized")

	// Object storage for operator distribution links (optional)
	var bundleStore pass.BundleStore
	var bundleLinker handler.BundleLinker
	if storageCfg := storage.ConfigFromEnv(); storageCfg.AccountID != "" {
		store := storage.NewR2Store(storageCfg)
		bundleStore = store
		bundleLinker = store
		log.Info().
			Str("bucket", storageCfg.Bucket).
			Msg("bundle storage initialized")
	} else {
		log.Warn().Msg("bundle storage not configured - no distribution links")
	}

	// Change announcements: publish to Pub/Sub when configured and let the
	// worker fan out, otherwise push in-process.
	var notifier pass.Notifier
	if pubsubProject := os.Getenv("PUBSUB_PROJECT_ID"); pubsubProject != "" {
		topic := os.Getenv("PUBSUB_TOPIC")
		if topic == "" {
			topic = "pass-changes"
		}

		publisher, err := notify.NewPubSubPublisher(ctx, notify.PubSubPublisherConfig{
			ProjectID: pubsubProject,
			TopicName: topic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub publisher")
		}
		defer publisher.Close()

		notifier = publisher
		log.Info().
			Str("topic", topic).
			Msg("pubsub publisher initialized")
	} else if apnsCfg := apns.ConfigFromEnv(); apnsCfg.KeyFile != "" {
		pusher, err := apns.NewClientFromEnv(apnsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create APNs client")
		}

		notifier = notify.NewDirectPublisher(notify.NewNotifier(notify.NotifierConfig{
			Registrations: regRepo,
			Pusher:        pusher,
			Logger:        log,
		}), log)
		log.Info().
			Bool("sandbox", apnsCfg.Sandbox).
			Msg("in-process push fan-out initialized")
	} else {
		log.Warn().Msg("no push channel configured - devices will rely on periodic polling")
	}

	passService := pass.NewService(pass.ServiceConfig{
		Repo:               passRepo,
		PassTypeIdentifier: passTypeID,
		Notifier:           notifier,
		Archiver:           signer,
		BundleStore:        bundleStore,
		Logger:             log,
	})
	log.Info().Msg("pass service initialized")

	passKitService := passkit.NewService(passkit.ServiceConfig{
		Passes:        passRepo,
		Registrations: regRepo,
		Signer:        signer,
		Logger:        log,
	})
	log.Info().Msg("passkit service initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		ServiceName:    serviceName,
		Metrics:        metrics,
		AdminAPIKey:    adminAPIKey,
		PassKitService: passKitService,
		PassService:    passService,
		BundleLinker:   bundleLinker,
		DB:             pool,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("pass_type_id", passTypeID).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
