package http

import (
	"net/http"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
)

// eventPage is one page of the event log.
type eventPage struct {
	Events  []envelope.Envelope `json:"events"`
	HasMore bool                `json:"hasMore"`
}

// ListEvents handles GET /api/v1/sessions/{id}/events?afterSeq=N&limit=M.
// 410 means afterSeq predates retained history; the client must fetch the
// snapshot and resume from its seq.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	afterSeq, err := queryUint(r, "afterSeq")
	if err != nil {
		writeError(w, http.StatusBadRequest, "afterSeq must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	events, hasMore, err := h.mgr.Events(r.Context(), urlParam(r, "id"), afterSeq, limit)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if events == nil {
		events = []envelope.Envelope{}
	}
	writeJSON(w, http.StatusOK, eventPage{Events: events, HasMore: hasMore})
}
