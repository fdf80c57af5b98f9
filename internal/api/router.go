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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Settings endpoints
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Post("/sync", s.handleSyncSettings)
			r.Post("/request", s.handleRequestSettings)
			r.Post("/frames", s.handleApplyFrame)
			r.Get("/{mode}", s.handleGetMode)
			r.Put("/{mode}", s.handleSubmitMode)
		})

		// Delivery queue endpoints
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleGetQueue)
			r.Delete("/", s.handleClearQueue)
		})

		// Dead letter endpoints
		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", s.handleListDeadLetters)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDeadLetter)
				r.Delete("/", s.handleDeleteDeadLetter)
				r.Post("/resend", s.handleResendDeadLetter)
			})
		})

		r.Get("/events", s.handleListEvents)

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
