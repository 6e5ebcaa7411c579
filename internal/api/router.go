// Package api provides the HTTP API: Apple's mandated PassKit web service
// layout plus a small operator surface.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/passrelay/passrelay/internal/api/handler"
	"github.com/passrelay/passrelay/internal/api/middleware"
	"github.com/passrelay/passrelay/internal/pass"
	"github.com/passrelay/passrelay/internal/passkit"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	AdminAPIKey string

	PassKitService *passkit.Service
	PassService    *pass.Service
	BundleLinker   handler.BundleLinker // optional
	DB             handler.Pinger       // optional
}

// NewRouter creates a new chi router with all routes configured.
//
// The /v1/devices and /v1/passes trees are the protocol surface Wallet talks
// to; their paths, methods, and status codes are Apple's contract and must
// not drift.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "passrelay-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	passKitHandler := handler.NewPassKitHandler(cfg.PassKitService, cfg.Logger)
	passHandler := handler.NewPassHandler(cfg.PassService, cfg.BundleLinker, cfg.Logger)
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.DB)

	adminAuth := middleware.APIKeyAuth(cfg.AdminAPIKey)
	deviceRateLimit := middleware.RateLimitByIP(middleware.DeviceRateLimit)
	logRateLimit := middleware.RateLimitByIP(middleware.LogSinkRateLimit)
	adminRateLimit := middleware.RateLimitByIP(middleware.AdminRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// PassKit web service (device-facing, Apple's layout)
		r.Route("/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}", func(r chi.Router) {
			r.Use(deviceRateLimit)
			// Update check carries no per-pass token; scoped by device only.
			r.Get("/", passKitHandler.ListUpdatedSerials)
			r.Route("/{serialNumber}", func(r chi.Router) {
				r.Use(middleware.ApplePassAuth)
				r.Post("/", passKitHandler.RegisterDevice)
				r.Delete("/", passKitHandler.UnregisterDevice)
			})
		})
		r.With(deviceRateLimit, middleware.ApplePassAuth).
			Get("/passes/{passTypeIdentifier}/{serialNumber}", passKitHandler.FetchUpdatedPass)
		r.With(logRateLimit).Post("/log", passKitHandler.Log)

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Operator endpoints (API-key authenticated)
		r.Route("/admin/passes", func(r chi.Router) {
			r.Use(adminAuth)
			r.Use(adminRateLimit)
			r.Post("/", passHandler.CreatePass)
			r.Route("/{serialNumber}", func(r chi.Router) {
				r.Get("/", passHandler.GetPass)
				r.Put("/message", passHandler.UpdateMessage)
				r.Delete("/", passHandler.DeletePass)
			})
		})
	})

	return r
}
