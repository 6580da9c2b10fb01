// Package turn defines the Turn domain entity, one unit of submitted agent
// work within a session.
package turn

import "time"

// State represents the lifecycle of a turn. Exactly one turn per session may
// be active or streaming at any instant; all others wait in admission order.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
)

// Terminal reports whether the state is final. Terminal states are immutable.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateErrored:
		return true
	}
	return false
}

// Mode selects how the agent worker interprets the turn content.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeDo   Mode = "do"
)

// Turn is one submitted unit of work. Admission order is assigned by daemon
// receive time, never by client-claimed time.
type Turn struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	WriterID   string     `json:"writer_id"`
	Content    string     `json:"content"`
	Mode       Mode       `json:"mode"`
	State      State      `json:"state"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}
