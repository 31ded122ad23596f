package routers

import (
	"net/http"

	"peerprep/proctoring/internal/handlers"

	"github.com/go-chi/chi/v5"
)

func HealthRoutes(router *chi.Mux, healthHandler *handlers.HealthHandler) {
	router.Get("/healthz", healthHandler.HealthzHandler)
	router.Get("/readyz", healthHandler.ReadyzHandler)
	router.Get("/api/health", healthHandler.HealthzHandler)
}

func MetricsRoutes(router *chi.Mux, metricsHandler http.Handler) {
	router.Handle("/metrics", metricsHandler)
}
