// Package agentworker defines the port to the external agent execution
// engine. The daemon treats the engine as an opaque async worker: it consumes
// a turn and emits a stream of content and tool events. Model selection,
// prompt construction, and tool semantics are the engine's business.
package agentworker

import (
	"context"
	"encoding/json"

	"github.com/relayd-dev/relayd/internal/domain/permission"
	"github.com/relayd-dev/relayd/internal/domain/session"
	"github.com/relayd-dev/relayd/internal/domain/turn"
)

// EventType identifies a worker stream event.
type EventType string

const (
	EventContentDelta     EventType = "content_delta"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventPermissionNeeded EventType = "permission_needed"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// ToolCall announces a tool invocation.
type ToolCall struct {
	CallID string
	Tool   string
	Input  json.RawMessage
}

// ToolResult reports the outcome of a tool invocation.
type ToolResult struct {
	CallID  string
	Success bool
	Output  string
	Error   string
}

// PermissionNeed is a gated action the worker cannot perform without a
// decision. The worker blocks reading Reply until the daemon delivers the
// winning (or timed-out) resolution.
type PermissionNeed struct {
	Action    string
	RiskLevel string
	Reply     chan permission.Decision
}

// Event is one item of a worker's output stream. Exactly one of the variant
// fields is set, selected by Type. The stream ends with Done or Error
// followed by channel close; after cancellation the daemon tolerates a late
// terminal event and treats it as a no-op.
type Event struct {
	Type       EventType
	Delta      string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Permission *PermissionNeed
	Err        error
}

// TurnInput is the context handed to the worker for one turn.
type TurnInput struct {
	SessionID  string
	TurnID     string
	Model      string
	Mode       turn.Mode
	Content    string
	Transcript []session.TranscriptEntry
}

// Worker is the port interface for the agent execution engine. Run returns a
// stream of events for the turn; cancelling ctx is the out-of-band
// cancellation signal, after which the worker closes the stream on its own
// schedule.
type Worker interface {
	Name() string
	Run(ctx context.Context, in TurnInput) (<-chan Event, error)
}
