package service

import (
	"sync"
	"time"

	"github.com/relayd-dev/relayd/internal/domain/turn"
)

// turnQueue enforces per-session ordering and the single-active-turn slot.
// Admission order is the order submissions reach the queue's lock (daemon
// receive time); ties are broken by insertion order, so every writer's turns
// interleave deterministically and no writer's turns reorder relative to
// themselves.
type turnQueue struct {
	mu      sync.Mutex
	active  *turn.Turn
	waiting []*turn.Turn
}

func newTurnQueue() *turnQueue {
	return &turnQueue{}
}

// submit admits t immediately when the active slot is free, otherwise
// appends it to the FIFO wait list. It never blocks the caller. The returned
// view is a stable copy safe to hand to transports.
func (q *turnQueue) submit(t *turn.Turn) (admitted bool, view turn.Turn) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil {
		q.admitLocked(t)
		return true, *t
	}
	q.waiting = append(q.waiting, t)
	return false, *t
}

func (q *turnQueue) admitLocked(t *turn.Turn) {
	now := time.Now().UTC()
	t.State = turn.StateActive
	t.StartedAt = &now
	q.active = t
}

// setStreaming transitions the active turn to streaming on its first delta.
func (q *turnQueue) setStreaming(turnID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil && q.active.ID == turnID && q.active.State == turn.StateActive {
		q.active.State = turn.StateStreaming
	}
}

// cancel marks the turn cancelled. A queued turn is removed directly with no
// side effects; an active turn keeps its slot until the worker unwinds
// (wasActive tells the caller to signal the worker).
func (q *turnQueue) cancel(turnID string) (view turn.Turn, wasActive, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if q.active != nil && q.active.ID == turnID && !q.active.State.Terminal() {
		q.active.State = turn.StateCancelled
		q.active.EndedAt = &now
		return *q.active, true, true
	}

	for i, t := range q.waiting {
		if t.ID == turnID {
			q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
			t.State = turn.StateCancelled
			t.EndedAt = &now
			return *t, false, true
		}
	}
	return turn.Turn{}, false, false
}

// finish releases the active slot for turnID and admits the next queued turn
// in FIFO order. A turn already in a terminal state (cancelled) keeps it; the
// final state applies otherwise. finished is false when turnID does not hold
// the slot — a late terminal event from a worker, treated as a no-op.
func (q *turnQueue) finish(turnID string, final turn.State) (finished bool, view turn.Turn, next *turn.Turn) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == nil || q.active.ID != turnID {
		return false, turn.Turn{}, nil
	}

	t := q.active
	if !t.State.Terminal() {
		now := time.Now().UTC()
		t.State = final
		t.EndedAt = &now
	}
	q.active = nil

	if len(q.waiting) > 0 {
		next = q.waiting[0]
		q.waiting = q.waiting[1:]
		q.admitLocked(next)
	}
	return true, *t, next
}

// drain cancels the active turn and discards every queued turn when a
// session closes. The active slot stays held until the worker unwinds;
// activeID is "" when no turn was running.
func (q *turnQueue) drain() (activeID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if q.active != nil {
		if !q.active.State.Terminal() {
			q.active.State = turn.StateCancelled
			q.active.EndedAt = &now
		}
		activeID = q.active.ID
	}
	for _, t := range q.waiting {
		t.State = turn.StateCancelled
		t.EndedAt = &now
	}
	q.waiting = nil
	return activeID
}

// activeID returns the id of the turn holding the slot, or "".
func (q *turnQueue) activeID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return ""
	}
	return q.active.ID
}

// waitingDepth returns the number of queued turns.
func (q *turnQueue) waitingDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
