package http

import (
	"net/http"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
)

// ResolvePermission handles POST /api/v1/sessions/{id}/permissions/{requestId}.
// The first decision wins; a caller that lost the race gets 409 with the
// winner's identity and decision.
func (h *Handlers) ResolvePermission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[envelope.PermissionDecisionRequest](w, r)
	if !ok {
		return
	}
	res, err := h.mgr.ResolvePermission(r.Context(), urlParam(r, "id"), urlParam(r, "requestId"), &req)
	if err != nil {
		writeDomainError(w, err, "permission request not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
