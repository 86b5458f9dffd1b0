package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. The API
// binds to localhost only; there is no auth layer.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/metrics", h.Metrics)
		r.Get("/retries", h.Retries)
		r.Delete("/retries/{id}", h.CancelRetry)
		r.Get("/last-run", h.LastRun)
		r.Post("/", h.TriggerSync)
	})

	return r
}
