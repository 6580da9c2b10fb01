// Package ws implements the WebSocket adapter: a bidirectional session
// attachment that multiplexes the live envelope stream with control frames
// for turn submission, cancellation, and permission resolution.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/permission"
	"github.com/relayd-dev/relayd/internal/service"
)

// Handler upgrades session attachment requests to WebSocket.
type Handler struct {
	mgr *service.Manager
}

// NewHandler creates the WebSocket handler.
func NewHandler(mgr *service.Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Serve handles GET /api/v1/sessions/{id}/ws?afterSeq=N. Envelopes flow to
// the client with exactly-once replay-then-live delivery; control frames flow
// back and are answered with result or error frames. All writes go through a
// single writer goroutine so envelope order on the wire matches seq order.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	afterSeq := uint64(0)
	if raw := r.URL.Query().Get("afterSeq"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"afterSeq must be a non-negative integer"}`, http.StatusBadRequest)
			return
		}
		afterSeq = v
	}

	sub, err := h.mgr.Attach(r.Context(), sessionID, afterSeq)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrReplayTooOld):
			status = http.StatusGone
		}
		http.Error(w, `{"error":"attach failed"}`, status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		sub.Close()
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer sub.Close()

	slog.Info("websocket attached", "session_id", sessionID, "after_seq", afterSeq, "remote", r.RemoteAddr)

	// Control-frame responses merge into the same writer as envelopes.
	replies := make(chan Frame, 16)

	go h.readLoop(ctx, cancel, conn, sessionID, replies)

	for {
		select {
		case env, open := <-sub.C:
			if !open {
				// Dropped for falling behind; the client reattaches with its
				// last seen seq and replays the gap.
				_ = conn.Close(websocket.StatusTryAgainLater, "stream lagged, reattach")
				return
			}
			if !writeFrame(ctx, conn, envelopeFrame(env)) {
				return
			}
		case f := <-replies:
			if !writeFrame(ctx, conn, f) {
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// readLoop consumes control frames until the connection drops.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string, replies chan<- Frame) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.reply(ctx, replies, Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		h.handleControl(ctx, sessionID, f, replies)
	}
}

func (h *Handler) handleControl(ctx context.Context, sessionID string, f Frame, replies chan<- Frame) {
	switch f.Type {
	case FrameSubmitTurn:
		var req envelope.SubmitTurnRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			h.reply(ctx, replies, Frame{Type: FrameError, ID: f.ID, Error: "malformed submit_turn payload"})
			return
		}
		t, err := h.mgr.SubmitTurn(ctx, sessionID, &req)
		h.replyResult(ctx, replies, f.ID, t, err)

	case FrameCancelTurn:
		var p cancelTurnPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			h.reply(ctx, replies, Frame{Type: FrameError, ID: f.ID, Error: "malformed cancel_turn payload"})
			return
		}
		t, err := h.mgr.CancelTurn(ctx, sessionID, p.TurnID)
		h.replyResult(ctx, replies, f.ID, t, err)

	case FrameResolvePermission:
		var p resolvePermissionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			h.reply(ctx, replies, Frame{Type: FrameError, ID: f.ID, Error: "malformed resolve_permission payload"})
			return
		}
		req := &envelope.PermissionDecisionRequest{Decision: p.Decision, DecidedBy: p.DecidedBy}
		res, err := h.mgr.ResolvePermission(ctx, sessionID, p.RequestID, req)
		h.replyResult(ctx, replies, f.ID, res, err)

	default:
		h.reply(ctx, replies, Frame{Type: FrameError, ID: f.ID, Error: "unknown frame type " + f.Type})
	}
}

func (h *Handler) replyResult(ctx context.Context, replies chan<- Frame, id string, result any, err error) {
	if err != nil {
		msg := err.Error()
		var resolved *permission.AlreadyResolvedError
		if errors.As(err, &resolved) {
			msg = "already resolved by " + resolved.Winner + " (" + string(resolved.Decision) + ")"
		}
		h.reply(ctx, replies, Frame{Type: FrameError, ID: id, Error: msg})
		return
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		h.reply(ctx, replies, Frame{Type: FrameError, ID: id, Error: "internal error"})
		return
	}
	h.reply(ctx, replies, Frame{Type: FrameResult, ID: id, Payload: data})
}

func (h *Handler) reply(ctx context.Context, replies chan<- Frame, f Frame) {
	select {
	case replies <- f:
	case <-ctx.Done():
	}
}

func envelopeFrame(env *envelope.Envelope) Frame {
	data, err := json.Marshal(env)
	if err != nil {
		return Frame{Type: FrameError, Error: "internal error"}
	}
	return Frame{Type: FrameEnvelope, Payload: data}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return true
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
