// Package eventlog defines the port interface for the durable, append-only
// per-session event log and snapshot store.
package eventlog

import (
	"context"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/session"
)

// Iterator streams envelopes in ascending seq order, sql.Rows style. It is
// lazy and finite; callers must Close it.
type Iterator interface {
	// Next advances to the next envelope. It returns false when the stream
	// is exhausted or an error occurred; check Err afterwards.
	Next() bool

	// Envelope returns the current envelope. Valid only after Next returned
	// true.
	Envelope() *envelope.Envelope

	// Err returns the first error encountered while iterating.
	Err() error

	Close() error
}

// Store is the port interface for session rows, the append-only envelope log,
// and snapshots. Seq assignment is the session manager's (single writer per
// session); the store enforces the no-gap invariant on write.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	UpdateSessionState(ctx context.Context, id string, state session.State) error

	// Append persists env before returning. A persist failure is propagated,
	// never swallowed: the caller must not broadcast an envelope that is not
	// durably recorded.
	Append(ctx context.Context, env *envelope.Envelope) error

	// ReadSince returns a lazy iterator over all envelopes with seq > afterSeq.
	// If afterSeq predates the oldest retained history it returns
	// domain.ErrReplayTooOld rather than silently truncating.
	ReadSince(ctx context.Context, sessionID string, afterSeq uint64) (Iterator, error)

	// ReadPage is the bounded, eager variant used by the paged HTTP endpoint.
	ReadPage(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]envelope.Envelope, bool, error)

	// RetainedFloor returns the lowest afterSeq that can still be served:
	// attaches with afterSeq < floor must fall back to a snapshot fetch.
	RetainedFloor(ctx context.Context, sessionID string) (uint64, error)

	// WriteSnapshot atomically persists a snapshot at snap.Seq.
	WriteSnapshot(ctx context.Context, snap *session.Snapshot) error

	// LatestSnapshot returns the most recent snapshot, or domain.ErrNotFound.
	LatestSnapshot(ctx context.Context, sessionID string) (*session.Snapshot, error)

	// Prune deletes log rows and superseded snapshots no consumer needs. It
	// never deletes the most recent snapshot or any envelope past it.
	Prune(ctx context.Context, sessionID string, keepAfterSeq uint64) error

	Close() error
}
