package http

import (
	"net/http"

	"github.com/relayd-dev/relayd/internal/domain/session"
)

// CreateSession handles POST /api/v1/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.CreateRequest](w, r)
	if !ok {
		return
	}
	sess, err := h.mgr.CreateSession(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.mgr.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.mgr.GetSession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}. The session is closed;
// its event log is retained.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.DeleteSession(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSnapshot handles GET /api/v1/sessions/{id}/snapshot. It returns the
// current materialized projection; clients whose replay cursor fell below
// retention re-anchor here and reattach from the projection's seq.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	proj, err := h.mgr.Projection(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, proj)
}
