package ws

import "encoding/json"

// Frame types. Server to client: "envelope" carries one stream envelope,
// "result" and "error" answer a control frame by its client-chosen id.
// Client to server: "submit_turn", "cancel_turn", "resolve_permission".
const (
	FrameEnvelope = "envelope"
	FrameResult   = "result"
	FrameError    = "error"

	FrameSubmitTurn        = "submit_turn"
	FrameCancelTurn        = "cancel_turn"
	FrameResolvePermission = "resolve_permission"
)

// Frame is the envelope for all WebSocket messages in both directions.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// cancelTurnPayload is the body of a cancel_turn control frame.
type cancelTurnPayload struct {
	TurnID string `json:"turnId"`
}

// resolvePermissionPayload is the body of a resolve_permission control frame.
type resolvePermissionPayload struct {
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decidedBy"`
}
