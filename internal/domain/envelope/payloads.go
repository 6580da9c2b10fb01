package envelope

import "encoding/json"

// Payload shapes, one per event type. The wire names are stable; additions
// must be backwards compatible within a schema version.

// TurnStarted is emitted when a turn is admitted to the active slot. Content
// is carried here so a session transcript can be rebuilt from the log alone.
type TurnStarted struct {
	TurnID   string `json:"turnId"`
	WriterID string `json:"writerId"`
	Mode     string `json:"mode"`
	Content  string `json:"content"`
}

// TurnDelta carries a chunk of streamed agent output.
type TurnDelta struct {
	TurnID string `json:"turnId"`
	Text   string `json:"text"`
}

// ToolCall records the agent invoking a tool.
type ToolCall struct {
	TurnID string          `json:"turnId"`
	CallID string          `json:"callId"`
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ToolResult records the outcome of a tool call.
type ToolResult struct {
	TurnID  string `json:"turnId"`
	CallID  string `json:"callId"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PermissionRequested announces a gated action awaiting arbitration.
type PermissionRequested struct {
	RequestID string `json:"requestId"`
	TurnID    string `json:"turnId"`
	Action    string `json:"action"`
	RiskLevel string `json:"riskLevel"`
}

// PermissionResolved announces the winning decision for a request.
type PermissionResolved struct {
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decidedBy"`
}

// TurnCompleted marks a turn's terminal state. Status is "completed" or
// "cancelled".
type TurnCompleted struct {
	TurnID string `json:"turnId"`
	Status string `json:"status"`
}

// TurnError marks a turn that failed. The session itself continues.
type TurnError struct {
	TurnID  string `json:"turnId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionSnapshot announces that a snapshot was written at Seq. Clients that
// fell behind retention use it to re-anchor.
type SessionSnapshot struct {
	Seq uint64 `json:"seq"`
}
