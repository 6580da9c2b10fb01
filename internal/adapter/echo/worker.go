// Package echo provides a built-in agent worker that streams the turn
// content back to the caller. It exists so the daemon runs end-to-end
// without a real execution engine: chat turns echo their content as deltas;
// do turns additionally exercise the permission and tool-call paths.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayd-dev/relayd/internal/domain/permission"
	"github.com/relayd-dev/relayd/internal/domain/turn"
	"github.com/relayd-dev/relayd/internal/port/agentworker"
)

// Worker implements agentworker.Worker.
type Worker struct {
	delay time.Duration // pause between deltas; zero in tests
}

// New creates an echo worker that pauses delay between deltas.
func New(delay time.Duration) *Worker {
	return &Worker{delay: delay}
}

// Name returns the backend identifier.
func (w *Worker) Name() string { return "echo" }

// Run streams the turn content back word by word. In "do" mode it first
// raises a permission request for the described action and, when allowed,
// emits a tool call/result pair.
func (w *Worker) Run(ctx context.Context, in agentworker.TurnInput) (<-chan agentworker.Event, error) {
	ch := make(chan agentworker.Event)
	go func() {
		defer close(ch)

		if in.Mode == turn.ModeDo {
			if !w.runGatedAction(ctx, in, ch) {
				return
			}
		}

		for _, word := range strings.Fields(in.Content) {
			if !w.emit(ctx, ch, agentworker.Event{Type: agentworker.EventContentDelta, Delta: word + " "}) {
				return
			}
			if w.delay > 0 {
				select {
				case <-time.After(w.delay):
				case <-ctx.Done():
					return
				}
			}
		}

		w.emit(ctx, ch, agentworker.Event{Type: agentworker.EventDone})
	}()
	return ch, nil
}

// runGatedAction raises a permission request and, when allowed, emits a tool
// call/result pair. Returns false when the stream should end early.
func (w *Worker) runGatedAction(ctx context.Context, in agentworker.TurnInput, ch chan agentworker.Event) bool {
	need := &agentworker.PermissionNeed{
		Action:    "execute: " + in.Content,
		RiskLevel: "medium",
		Reply:     make(chan permission.Decision, 1),
	}
	if !w.emit(ctx, ch, agentworker.Event{Type: agentworker.EventPermissionNeeded, Permission: need}) {
		return false
	}

	var decision permission.Decision
	select {
	case decision = <-need.Reply:
	case <-ctx.Done():
		return false
	}

	if decision != permission.DecisionAllowed {
		return w.emit(ctx, ch, agentworker.Event{Type: agentworker.EventContentDelta, Delta: "action denied. "})
	}

	callID := uuid.NewString()
	if !w.emit(ctx, ch, agentworker.Event{
		Type:     agentworker.EventToolCall,
		ToolCall: &agentworker.ToolCall{CallID: callID, Tool: "echo.exec"},
	}) {
		return false
	}
	return w.emit(ctx, ch, agentworker.Event{
		Type:       agentworker.EventToolResult,
		ToolResult: &agentworker.ToolResult{CallID: callID, Success: true, Output: in.Content},
	})
}

// emit sends ev unless the turn was cancelled. Returns false on cancellation.
func (w *Worker) emit(ctx context.Context, ch chan agentworker.Event, ev agentworker.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
