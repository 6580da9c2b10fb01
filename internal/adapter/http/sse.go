package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// StreamEvents handles GET /api/v1/sessions/{id}/stream: an SSE attachment
// with exactly-once replay-then-live delivery. Each SSE event carries one
// envelope; the SSE id field is the envelope seq so EventSource reconnects
// can resume via Last-Event-ID.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	afterSeq, err := queryUint(r, "afterSeq")
	if err != nil {
		writeError(w, http.StatusBadRequest, "afterSeq must be a non-negative integer")
		return
	}
	if afterSeq == 0 {
		if id, perr := parseLastEventID(r); perr == nil {
			afterSeq = id
		}
	}

	sub, err := h.mgr.Attach(r.Context(), urlParam(r, "id"), afterSeq)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case env, open := <-sub.C:
			if !open {
				// Dropped for falling behind; the client reconnects with
				// Last-Event-ID and replays the gap.
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				slog.Error("marshal envelope for sse", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.Seq, env.Event, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func parseLastEventID(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0, fmt.Errorf("no last event id")
	}
	var id uint64
	_, err := fmt.Sscanf(raw, "%d", &id)
	return id, err
}
