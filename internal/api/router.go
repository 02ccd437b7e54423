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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Emergency stop is never gated. A stop request must not fail on
		// an expired token.
		r.Post("/commands/emergency-stop", s.handleEmergencyStop)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Status endpoints
			r.Get("/status", s.handleStatus)
			r.Get("/status/interlocks", s.handleInterlocks)
			r.Get("/status/fault", s.handleLastFault)

			// Event log
			r.Get("/events", s.handleListEvents)

			// Session commands
			r.Route("/commands", func(r chi.Router) {
				r.Post("/arm", s.handleArm)
				r.Post("/disarm", s.handleDisarm)
				r.Post("/engage", s.handleEngage)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/end-treatment", s.handleEndTreatment)
			})

			// Fault recovery. Supervisor clear demands the supervisor role;
			// the remaining reset steps run under operator credentials.
			r.Route("/recovery", func(r chi.Router) {
				r.With(s.requireSupervisor).Post("/supervisor-clear", s.handleSupervisorClear)
				r.Post("/reset-complete", s.handleResetComplete)
			})

			// Protocol lifecycle
			r.Route("/protocol", func(r chi.Router) {
				r.Post("/", s.handleLoadProtocol)
				r.Get("/progress", s.handleProtocolProgress)
				r.Post("/start", s.handleProtocolStart)
				r.Post("/pause", s.handleProtocolPause)
				r.Post("/resume", s.handleProtocolResume)
				r.Post("/abort", s.handleProtocolAbort)
			})

			// WebSocket event stream (token validated in handler; browsers
			// cannot set Authorization headers on WebSocket upgrades)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"state":   string(s.authority.State()),
	})
}
