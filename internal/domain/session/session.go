// Package session defines the Session domain entity and its compacted
// projection used for snapshot-anchored replay.
package session

import "time"

// State represents the session lifecycle. Idle sessions may be evicted from
// memory (never from durable storage) and rehydrated on next attach.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
	StateClosed State = "closed"
)

// Session is a persistent conversation context shared by any number of
// attached clients. MonotonicSeq is the last assigned envelope sequence
// number and is advanced only by the session manager's publish path.
type Session struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Title        string    `json:"title"`
	State        State     `json:"state"`
	MonotonicSeq uint64    `json:"monotonic_seq"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to open a new session.
type CreateRequest struct {
	Model string `json:"model"`
	Title string `json:"title,omitempty"`
}

// TranscriptEntry is one message in the projected conversation history.
// Role is "user", "assistant", or "tool".
type TranscriptEntry struct {
	TurnID  string `json:"turn_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PendingPermission is the projection of an unresolved permission request.
type PendingPermission struct {
	RequestID string `json:"request_id"`
	TurnID    string `json:"turn_id"`
	Action    string `json:"action"`
	RiskLevel string `json:"risk_level"`
}

// Projection is a compacted view of session state at a given Seq. It is the
// snapshot payload and bounds replay cost: a cold client loads the most
// recent projection, then replays only the log tail past its Seq.
type Projection struct {
	SessionID         string             `json:"session_id"`
	Seq               uint64             `json:"seq"`
	Transcript        []TranscriptEntry  `json:"transcript"`
	ActiveTurnID      string             `json:"active_turn_id,omitempty"`
	QueueDepth        int                `json:"queue_depth"`
	PendingPermission *PendingPermission `json:"pending_permission,omitempty"`
}

// Snapshot is a persisted projection. State holds the JSON-encoded
// Projection; writes are atomic so a crash mid-write never corrupts the
// previously valid snapshot.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	TakenAt   time.Time `json:"taken_at"`
	State     []byte    `json:"state"`
}
