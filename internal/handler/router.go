package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Chats   *ChatHandler
	Queries *QueryHandler
	Stream  *StreamHandler
	History *HistoryHandler
	Schema  *SchemaHandler
	Health  *HealthHandler

	JWTSecret          string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	QueryRateLimit     int
	CORSAllowedOrigins []string

	Logger *logger.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/schema", cfg.Schema.Get)

		r.Route("/chats", func(r chi.Router) {
			r.Post("/", cfg.Chats.Create)
			r.Get("/", cfg.Chats.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Chats.Get)
				r.Delete("/", cfg.Chats.Delete)
				r.Get("/transcript", cfg.Chats.Transcript)
				r.Post("/reset", cfg.Chats.Reset)
				r.Get("/events", cfg.History.List)
				r.Get("/stream", cfg.Stream.Stream)

				r.With(
					middleware.RequireScope(middleware.ScopeQuery),
					middleware.QueryRateLimit(cfg.QueryRateLimit, cfg.RateLimitWindow),
				).Post("/queries", cfg.Queries.Submit)
			})
		})
	})

	return r
}
