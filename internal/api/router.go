// Package api assembles the relay's HTTP surface: middleware chain,
// /v1 routes and the Prometheus endpoint.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/internal/api/middleware"
	"github.com/agentwire/agentwire/internal/handlers"
	"github.com/agentwire/agentwire/internal/store"
	"github.com/agentwire/agentwire/security"
)

// RouterConfig carries the router's dependencies.
type RouterConfig struct {
	Logger      zerolog.Logger
	DB          store.DataStore
	Redis       *store.RedisStore        // optional
	Verifier    *security.TokenVerifier  // nil disables auth
	Broadcaster *handlers.Broadcaster
	Whitelist   []string
	AutoBlock   bool
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(256 * 1024)) // command output rides in message bodies
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (no-op without Redis)
	var limiter *middleware.RateLimiter
	if cfg.Redis != nil {
		limiter = middleware.NewRateLimiter(cfg.Redis.Client(), cfg.Logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.Whitelist,
			AutoBlockEnabled: cfg.AutoBlock,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(cfg.DB, cfg.Redis, cfg.Broadcaster, cfg.Logger)
	auth := middleware.NewAuthMiddleware(cfg.Verifier)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)

	r.Route("/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Authenticated routes (bearer token when configured)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Get("/agents", h.ListAgents)
			r.Post("/agents", h.RegisterAgent)
			r.Post("/agents/{id}/heartbeat", h.Heartbeat)

			r.Get("/channels", h.ListChannels)
			r.Post("/channels", h.CreateChannel)

			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.PublishMessage)

			r.Get("/{table}/stream", h.Stream)
		})
	})

	return r
}
