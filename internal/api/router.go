package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-lutron/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth, bind the API to a private address)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/bridges", func(r chi.Router) {
				r.With(requirePermission(auth.PermBridgeRead)).Get("/", s.handleListBridges)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(s.bridgeCtx)

					r.Group(func(r chi.Router) {
						r.Use(requirePermission(auth.PermBridgeRead))
						r.Get("/", s.handleGetBridge)
						r.Get("/devices", s.handleBridgeDevices)
						r.Get("/seen", s.handleBridgeSeen)
						r.Get("/history", s.handleBridgeHistory)
					})

					r.With(requirePermission(auth.PermBridgeOperate)).Post("/reconnect", s.handleReconnect)
				})
			})

			r.Route("/system", func(r chi.Router) {
				r.Use(requirePermission(auth.PermSystemAdmin))
				r.Get("/log-level", s.handleGetLogLevel)
				r.Put("/log-level", s.handleSetLogLevel)
			})

			r.With(requirePermission(auth.PermBridgeRead)).Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleMetrics serves the Prometheus registry.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer == nil {
		writeUnavailable(w, "metrics are not enabled")
		return
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
