package service

import (
	"sync"
	"time"

	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/session"
)

// subscriber is one attached event consumer. floor is the last seq the
// subscriber received (or will receive) via replay; the fan-out skips
// envelopes at or below it so replay-then-live delivery is exactly-once.
type subscriber struct {
	ch    chan *envelope.Envelope
	floor uint64
}

// sessionState is the in-memory half of a session: the single-writer publish
// state, the turn queue, the permission coordinator, and the live projection.
// mu serializes the publish path (seq assignment, durable append, projection
// fold, fan-out) and the subscriber set; the queue and coordinator carry
// their own locks.
type sessionState struct {
	mu            sync.Mutex
	sess          *session.Session
	lastSeq       uint64
	subs          map[*subscriber]struct{}
	queue         *turnQueue
	perm          *permCoordinator
	proj          *session.Projection
	sinceSnapshot int
	lastActivity  time.Time
	closed        bool

	// cancelActive aborts the running turn's worker context. Guarded by mu;
	// cancelActiveID scopes the func to one turn so a late cancel cannot hit
	// a successor.
	cancelActive   func()
	cancelActiveID string
}

func newSessionState(sess *session.Session, proj *session.Projection) *sessionState {
	return &sessionState{
		sess:         sess,
		lastSeq:      sess.MonotonicSeq,
		subs:         make(map[*subscriber]struct{}),
		queue:        newTurnQueue(),
		perm:         newPermCoordinator(),
		proj:         proj,
		lastActivity: time.Now(),
		closed:       sess.State == session.StateClosed,
	}
}

// transcriptView returns a copy of the projected transcript for worker input.
func (st *sessionState) transcriptView() []session.TranscriptEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]session.TranscriptEntry, len(st.proj.Transcript))
	copy(out, st.proj.Transcript)
	return out
}

// sessionView returns a copy of the session row reflecting in-memory seq.
func (st *sessionState) sessionView() session.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := *st.sess
	s.MonotonicSeq = st.lastSeq
	return s
}

// isClosed reports whether the session no longer accepts turns.
func (st *sessionState) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}
