/**
 * @description
 * This file sets up the HTTP router for the spenn service. The service exposes a small
 * internal surface: transaction history per payment reference, side simulation, an
 * on-demand reconciliation trigger, health and Prometheus metrics.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser-based tooling.
 * - github.com/prometheus/client_golang: For the /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, internalKey string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Internal-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Get("/oppdrag/{utbetalingsreferanse}", h.handleHistory)
		r.Post("/simulering", h.handleSimulate)
		r.Post("/avstemming", h.handleReconcile)
	})

	return r
}
