// Package envelope defines the versioned, sequenced unit of the relayd event
// stream and the request shapes shared by all transports.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/relayd-dev/relayd/internal/domain"
)

// SchemaVersion is the current envelope schema version. It is present on
// every envelope so an old client can recognize an envelope it cannot
// interpret and skip it.
const SchemaVersion = 1

// Type identifies the kind of event carried by an envelope.
type Type string

const (
	TypeTurnStarted        Type = "turn_started"
	TypeTurnDelta          Type = "turn_delta"
	TypeToolCall           Type = "tool_call"
	TypeToolResult         Type = "tool_result"
	TypePermissionRequest  Type = "permission_request"
	TypePermissionResolved Type = "permission_resolved"
	TypeTurnCompleted      Type = "turn_completed"
	TypeTurnError          Type = "turn_error"
	TypeSessionSnapshot    Type = "session_snapshot"
)

var knownTypes = map[Type]struct{}{
	TypeTurnStarted:        {},
	TypeTurnDelta:          {},
	TypeToolCall:           {},
	TypeToolResult:         {},
	TypePermissionRequest:  {},
	TypePermissionResolved: {},
	TypeTurnCompleted:      {},
	TypeTurnError:          {},
	TypeSessionSnapshot:    {},
}

// Known reports whether t is an event type this build understands. Unknown
// types still validate; clients are expected to skip them.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Envelope is a single immutable entry in a session's event stream. Seq is
// strictly increasing per session with no gaps and is the sole ordering key
// for replay.
type Envelope struct {
	Version   int             `json:"v"`
	Event     Type            `json:"event"`
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ValidationError identifies the offending field of a rejected envelope or
// request. It matches domain.ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid envelope: " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrValidation
}

// Validate decodes and checks a raw envelope. It never partially mutates
// caller state: on failure the returned envelope is nil and the error names
// the offending field. Unknown event types are accepted as long as the
// required fields are present, so old builds can pass newer envelopes through.
func Validate(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Field: "body", Reason: "not valid JSON: " + err.Error()}
	}
	if env.Version < 1 {
		return nil, &ValidationError{Field: "v", Reason: "missing or non-positive schema version"}
	}
	if env.Event == "" {
		return nil, &ValidationError{Field: "event", Reason: "missing event type"}
	}
	if env.SessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Reason: "missing session id"}
	}
	if env.Seq == 0 {
		return nil, &ValidationError{Field: "seq", Reason: "sequence must be positive"}
	}
	if env.Timestamp.IsZero() {
		return nil, &ValidationError{Field: "ts", Reason: "missing timestamp"}
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "empty payload"}
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
