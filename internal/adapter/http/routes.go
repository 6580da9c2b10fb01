package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. wsHandler is
// the WebSocket attachment endpoint, mounted here so the whole surface lives
// under one route table.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"relayd"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Sessions
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Get("/sessions/{id}/snapshot", h.GetSnapshot)

		// Event log
		r.Get("/sessions/{id}/events", h.ListEvents)
		r.Get("/sessions/{id}/stream", h.StreamEvents)

		// Turns
		r.Post("/sessions/{id}/turns", h.SubmitTurn)
		r.Post("/sessions/{id}/turns/{turnId}/cancel", h.CancelTurn)

		// Permissions
		r.Post("/sessions/{id}/permissions/{requestId}", h.ResolvePermission)

		// Live attachment over WebSocket
		r.Get("/sessions/{id}/ws", wsHandler)
	})
}
