package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/telemetry"
)

// NewRouter builds the HTTP surface using chi router
func NewRouter(handlers *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/statement", handlers.handleStatement)
		r.Get("/lock", handlers.handleLock)
	})

	r.Get("/healthz", handlers.handleHealth)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	log.Info().Msg("HTTP endpoints enabled at /v1/statement, /v1/lock, /healthz")
	return r
}
