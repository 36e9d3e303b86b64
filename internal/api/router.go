package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/conductor/internal/infrastructure/metrics"
)

// healthCheckTimeout bounds each dependency probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(metrics.RequestMiddleware(s.metrics))
	}
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/timeline", s.handleGetTimeline)
		r.Put("/timeline", s.handlePutTimeline)
		r.Get("/mappings", s.handleGetMappings)
		r.Put("/mappings", s.handlePutMappings)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleAddDevice)
			r.Post("/make-ready", s.handleMakeReady)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Post("/clear-future", s.handleClearFuture)
				r.Get("/actions", s.handleListActions)
				r.Post("/actions/{action}", s.handleExecuteAction)
			})
		})

		r.Get("/commands", s.handleListCommands)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and dependency health. Any failing
// dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, checker := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"devices":        len(s.conductor.DeviceStatuses()),
		"ws_clients":     s.hub.ClientCount(),
		"ws_dropped":     s.hub.Dropped(),
		"event_panics":   s.conductor.Events().Panics(),
		"checks":         checks,
	})
}

// handleMetrics serves the Prometheus exposition.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeNotFound(w, "metrics are disabled")
		return
	}
	s.metrics.Handler(func() {
		s.metrics.SetEventsDropped(s.conductor.Events().Dropped())
	}).ServeHTTP(w, r)
}
