package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/macroforge-core/internal/auth"
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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.requirePermission(auth.PermStatusRead)).Get("/metrics", s.handleMetrics)

			r.Route("/scripts", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermScriptRead)).Get("/", s.handleListScripts)
				r.With(s.requirePermission(auth.PermScriptManage)).Post("/", s.handleCreateScript)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermScriptRead)).Get("/", s.handleGetScript)
					r.With(s.requirePermission(auth.PermScriptManage)).Put("/", s.handleUpdateScript)
					r.With(s.requirePermission(auth.PermScriptManage)).Delete("/", s.handleDeleteScript)
					r.With(s.requirePermission(auth.PermRunExecute)).Post("/run", s.handleRunScript)
				})
			})

			r.Route("/runs", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermStatusRead))
				r.Get("/", s.handleListRuns)
				r.Get("/history", s.handleRunHistory)
				r.Get("/{id}", s.handleGetRun)
				r.With(s.requirePermission(auth.PermRunCancel)).Post("/{id}/cancel", s.handleCancelRun)
				r.With(s.requirePermission(auth.PermRunCancel)).Post("/{id}/pause", s.handlePauseRun)
				r.With(s.requirePermission(auth.PermRunCancel)).Post("/{id}/resume", s.handleResumeRun)
			})

			r.Route("/background", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/", s.handleListBackground)
				r.With(s.requirePermission(auth.PermBackgroundOps)).Post("/", s.handleStartBackground)
				r.With(s.requirePermission(auth.PermBackgroundOps)).Post("/{name}/stop", s.handleStopBackground)
				r.With(s.requirePermission(auth.PermBackgroundOps)).Post("/{name}/pause", s.handlePauseBackground)
				r.With(s.requirePermission(auth.PermBackgroundOps)).Post("/{name}/resume", s.handleResumeBackground)
			})

			r.Route("/queue", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/", s.handleGetQueue)
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/history", s.handleQueueHistory)
				r.With(s.requirePermission(auth.PermStatusRead)).Get("/history/{id}", s.handleGetQueueRun)
				r.With(s.requirePermission(auth.PermQueueOps)).Post("/", s.handleStartQueue)
				r.With(s.requirePermission(auth.PermQueueOps)).Post("/cancel", s.handleCancelQueue)
			})

			r.With(s.requirePermission(auth.PermSystemStop)).Post("/stop-all", s.handleStopAll)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStopAll halts the queue, every run and every background action.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.controller.StopAll()
	s.logger.Info("stop-all requested via API", "subject", subjectFrom(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}
