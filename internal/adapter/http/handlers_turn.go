package http

import (
	"net/http"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
)

// SubmitTurn handles POST /api/v1/sessions/{id}/turns. The response reports
// admission state: "active" when the turn took the slot, "queued" otherwise.
func (h *Handlers) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[envelope.SubmitTurnRequest](w, r)
	if !ok {
		return
	}
	t, err := h.mgr.SubmitTurn(r.Context(), urlParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// CancelTurn handles POST /api/v1/sessions/{id}/turns/{turnId}/cancel.
func (h *Handlers) CancelTurn(w http.ResponseWriter, r *http.Request) {
	t, err := h.mgr.CancelTurn(r.Context(), urlParam(r, "id"), urlParam(r, "turnId"))
	if err != nil {
		writeDomainError(w, err, "turn not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
