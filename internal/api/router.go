package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Liveness check (no auth required)
		r.Get("/health", s.handleHealth)

		// Operator login (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Gateway telemetry ingestion: authenticated per-batch with the
		// gateway's bearer secret, not an operator JWT.
		r.Post("/ingest", s.handleIngest)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - operator must be logged in
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Gateway endpoints
			r.Route("/gateways", func(r chi.Router) {
				r.Get("/", s.handleListGateways)
				r.Post("/", s.handleProvisionGateway)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetGateway)
					r.Patch("/", s.handleUpdateGateway)

					r.Route("/calibration", func(r chi.Router) {
						r.Post("/", s.handleCalibrationStart)
						r.Post("/samples", s.handleCalibrationSample)
						r.Post("/commit", s.handleCalibrationCommit)
					})
				})
			})

			// Tag endpoints
			r.Route("/tags", func(r chi.Router) {
				r.Get("/", s.handleListTags)
				r.Post("/", s.handleIssueTag)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTag)
					r.Patch("/", s.handleUpdateTag)
					r.Get("/telemetry", s.handleTagTelemetry)
				})
			})

			// Telemetry queries
			r.Route("/telemetry", func(r chi.Router) {
				r.Get("/", s.handleQueryTelemetry)
				r.Get("/latest", s.handleLatestTelemetry)
			})

			// Event endpoints
			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Post("/{id}/resolve", s.handleResolveEvent)
			})

			// Store health report
			r.Get("/health/report", s.handleHealthReport)

			// Inventory reconciliation
			r.Post("/inventory/scans", s.handleInventoryScan)

			// Audit trail
			r.Get("/audit", s.handleListAudit)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server liveness status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
