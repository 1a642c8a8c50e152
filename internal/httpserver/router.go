package httpserver

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tasklist-api/internal/handlers"
	"tasklist-api/internal/metrics"
	"tasklist-api/internal/middleware"
	"tasklist-api/internal/ratelimit"
)

const defaultMaxBodyBytes = 64 * 1024

type Deps struct {
	Logger      *zap.Logger
	Tasks       *handlers.TaskHandler
	Limiter     ratelimit.Limiter
	Ready       func(ctx context.Context) error
	JWTSecret   string
	Timeout     time.Duration
	MaxBodySize int64
}

// SetupRouter mounts health, metrics and the task API on r.
func SetupRouter(r *chi.Mux, d Deps) {
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	if d.MaxBodySize <= 0 {
		d.MaxBodySize = defaultMaxBodyBytes
	}

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(d.Logger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(d.Timeout))
	r.Use(middleware.MaxBodySize(d.MaxBodySize))

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Use(middleware.Identity(d.JWTSecret))
		r.Use(middleware.RateLimit(d.Limiter))
		r.Use(middleware.RequireUser)

		r.Get("/", d.Tasks.List)
		r.Post("/", d.Tasks.Create)
		r.Get("/stats/summary", d.Tasks.Stats)
		r.Get("/{id}", d.Tasks.Get)
		r.Put("/{id}", d.Tasks.Update)
		r.Delete("/{id}", d.Tasks.Delete)
	})

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz(d.Ready))

	r.Handle("/metrics", metrics.Handler())
}
