package service

import (
	"context"
	"time"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/permission"
	"github.com/relayd-dev/relayd/internal/domain/turn"
	"github.com/relayd-dev/relayd/internal/port/agentworker"

	otelad "github.com/relayd-dev/relayd/internal/adapter/otel"
)

// runTurn drives one turn from admission to terminal state: it publishes
// turn_started, relays the worker's event stream as envelopes, arbitrates
// permission requests, and always releases the active slot so a crashing or
// cancelled worker can never wedge the queue.
func (m *Manager) runTurn(st *sessionState, t *turn.Turn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st.mu.Lock()
	st.cancelActive = cancel
	st.cancelActiveID = t.ID
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		if st.cancelActiveID == t.ID {
			st.cancelActive = nil
			st.cancelActiveID = ""
		}
		st.mu.Unlock()
	}()

	ctx, span := otelad.StartTurnSpan(ctx, t.SessionID, t.ID, t.WriterID)
	defer span.End()
	start := time.Now()

	if m.metrics != nil {
		m.metrics.TurnsStarted.Add(ctx, 1)
	}

	final := turn.StateCompleted
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("turn runner panic", "session_id", t.SessionID, "turn_id", t.ID, "panic", r)
			m.publishTurnError(ctx, st, t, "internal", "turn runner panicked")
			final = turn.StateErrored
		}
		// The terminal envelope must persist even when the turn context was
		// cancelled; a cancelled turn still ends with turn_completed.
		m.finishTurn(context.WithoutCancel(ctx), st, t, final, start)
	}()

	if _, err := m.publish(ctx, st, envelope.TypeTurnStarted, envelope.TurnStarted{
		TurnID:   t.ID,
		WriterID: t.WriterID,
		Mode:     string(t.Mode),
		Content:  t.Content,
	}); err != nil {
		m.log.Error("publish turn_started", "session_id", t.SessionID, "turn_id", t.ID, "error", err)
		final = turn.StateErrored
		return
	}

	events, err := m.worker.Run(ctx, agentworker.TurnInput{
		SessionID:  t.SessionID,
		TurnID:     t.ID,
		Model:      st.sess.Model,
		Mode:       t.Mode,
		Content:    t.Content,
		Transcript: st.transcriptView(),
	})
	if err != nil {
		m.publishTurnError(ctx, st, t, "worker_start", err.Error())
		final = turn.StateErrored
		return
	}

	terminal := false
	for ev := range events {
		switch ev.Type {
		case agentworker.EventContentDelta:
			st.queue.setStreaming(t.ID)
			m.relay(ctx, st, t, envelope.TypeTurnDelta, envelope.TurnDelta{TurnID: t.ID, Text: ev.Delta})

		case agentworker.EventToolCall:
			m.relay(ctx, st, t, envelope.TypeToolCall, envelope.ToolCall{
				TurnID: t.ID,
				CallID: ev.ToolCall.CallID,
				Tool:   ev.ToolCall.Tool,
				Input:  ev.ToolCall.Input,
			})

		case agentworker.EventToolResult:
			m.relay(ctx, st, t, envelope.TypeToolResult, envelope.ToolResult{
				TurnID:  t.ID,
				CallID:  ev.ToolResult.CallID,
				Success: ev.ToolResult.Success,
				Output:  ev.ToolResult.Output,
				Error:   ev.ToolResult.Error,
			})

		case agentworker.EventPermissionNeeded:
			m.arbitrate(ctx, st, t, ev.Permission)

		case agentworker.EventDone:
			terminal = true

		case agentworker.EventError:
			msg := "worker error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			m.publishTurnError(ctx, st, t, "worker", msg)
			final = turn.StateErrored
			terminal = true
		}
	}

	if !terminal && ctx.Err() == nil {
		m.publishTurnError(ctx, st, t, "worker", "event stream ended without terminal event")
		final = turn.StateErrored
	}
}

// relay publishes a stream envelope. A persist failure here fails that
// envelope only; the turn keeps running and the error is surfaced in logs.
func (m *Manager) relay(ctx context.Context, st *sessionState, t *turn.Turn, event envelope.Type, payload any) {
	if _, err := m.publish(ctx, st, event, payload); err != nil {
		m.log.Error("publish stream envelope", "session_id", t.SessionID, "turn_id", t.ID, "event", event, "error", err)
	}
}

func (m *Manager) publishTurnError(ctx context.Context, st *sessionState, t *turn.Turn, code, message string) {
	m.relay(ctx, st, t, envelope.TypeTurnError, envelope.TurnError{TurnID: t.ID, Code: code, Message: message})
	if m.metrics != nil {
		m.metrics.TurnsFailed.Add(ctx, 1)
	}
}

// arbitrate opens a permission request for the worker's gated action, blocks
// for the winning decision (or the timeout auto-deny), publishes both sides
// of the exchange, and unblocks the worker.
func (m *Manager) arbitrate(ctx context.Context, st *sessionState, t *turn.Turn, need *agentworker.PermissionNeed) {
	req, err := st.perm.open(t.SessionID, t.ID, need.Action, need.RiskLevel)
	if err != nil {
		// A second concurrent request would violate the one-pending-per-session
		// invariant; deny it rather than stack prompts.
		m.log.Warn("permission request rejected", "session_id", t.SessionID, "turn_id", t.ID, "error", err)
		select {
		case need.Reply <- permission.DecisionDenied:
		default:
		}
		return
	}

	pctx, span := otelad.StartPermissionSpan(ctx, t.SessionID, req.ID)
	defer span.End()
	if m.metrics != nil {
		m.metrics.PermissionRequests.Add(pctx, 1)
	}

	m.relay(pctx, st, t, envelope.TypePermissionRequest, envelope.PermissionRequested{
		RequestID: req.ID,
		TurnID:    t.ID,
		Action:    req.Action,
		RiskLevel: req.RiskLevel,
	})

	res := st.perm.await(pctx, m.permCfg.Timeout)
	if res.DecidedBy == permission.DecidedByTimeout && m.metrics != nil {
		m.metrics.PermissionTimeouts.Add(pctx, 1)
	}

	// The resolution is recorded even when awaiting ended via cancellation.
	m.relay(context.WithoutCancel(pctx), st, t, envelope.TypePermissionResolved, envelope.PermissionResolved{
		RequestID: res.RequestID,
		Decision:  string(res.Decision),
		DecidedBy: res.DecidedBy,
	})

	select {
	case need.Reply <- res.Decision:
	default:
	}
}

// finishTurn releases the active slot, publishes the terminal envelope, and
// starts the next queued turn. A turn cancelled while active keeps its
// cancelled state and reports status "cancelled".
func (m *Manager) finishTurn(ctx context.Context, st *sessionState, t *turn.Turn, final turn.State, start time.Time) {
	finished, view, next := st.queue.finish(t.ID, final)
	if !finished {
		return
	}

	// turn_error turns already carried their terminal envelope.
	if view.State != turn.StateErrored {
		m.relay(ctx, st, t, envelope.TypeTurnCompleted, envelope.TurnCompleted{
			TurnID: t.ID,
			Status: string(view.State),
		})
	}

	if m.metrics != nil {
		m.metrics.TurnsCompleted.Add(ctx, 1)
		m.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	m.log.Info("turn finished", "session_id", t.SessionID, "turn_id", t.ID, "state", view.State)

	if next != nil {
		go m.runTurn(st, next)
	}
}
