package service

import (
	"fmt"
	"testing"

	"github.com/relayd-dev/relayd/internal/domain/turn"
)

func newTestTurn(id string) *turn.Turn {
	return &turn.Turn{ID: id, SessionID: "s1", WriterID: "w1", Content: "hello", Mode: turn.ModeChat, State: turn.StateQueued}
}

func TestQueueAdmitsFirstImmediately(t *testing.T) {
	q := newTurnQueue()

	admitted, view := q.submit(newTestTurn("t1"))
	if !admitted {
		t.Fatal("first turn not admitted")
	}
	if view.State != turn.StateActive {
		t.Errorf("state = %q, want active", view.State)
	}
	if view.StartedAt == nil {
		t.Error("StartedAt not set on admission")
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))
	for i := 2; i <= 5; i++ {
		admitted, view := q.submit(newTestTurn(fmt.Sprintf("t%d", i)))
		if admitted {
			t.Fatalf("t%d admitted while t1 active", i)
		}
		if view.State != turn.StateQueued {
			t.Errorf("t%d state = %q, want queued", i, view.State)
		}
	}
	if q.waitingDepth() != 4 {
		t.Fatalf("waitingDepth = %d, want 4", q.waitingDepth())
	}

	want := []string{"t2", "t3", "t4", "t5"}
	prev := "t1"
	for _, next := range want {
		finished, view, nxt := q.finish(prev, turn.StateCompleted)
		if !finished {
			t.Fatalf("finish(%s) not finished", prev)
		}
		if view.State != turn.StateCompleted {
			t.Errorf("%s final state = %q", prev, view.State)
		}
		if nxt == nil || nxt.ID != next {
			t.Fatalf("after %s expected %s admitted, got %+v", prev, next, nxt)
		}
		prev = next
	}
	if finished, _, nxt := q.finish(prev, turn.StateCompleted); !finished || nxt != nil {
		t.Errorf("final finish: finished=%v next=%v", finished, nxt)
	}
}

func TestQueueCancelQueuedRemovesSilently(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))
	q.submit(newTestTurn("t2"))
	q.submit(newTestTurn("t3"))

	view, wasActive, found := q.cancel("t2")
	if !found || wasActive {
		t.Fatalf("cancel queued: found=%v wasActive=%v", found, wasActive)
	}
	if view.State != turn.StateCancelled {
		t.Errorf("state = %q, want cancelled", view.State)
	}
	if q.waitingDepth() != 1 {
		t.Errorf("waitingDepth = %d, want 1", q.waitingDepth())
	}

	// t3 is admitted next, skipping the cancelled t2.
	_, _, next := q.finish("t1", turn.StateCompleted)
	if next == nil || next.ID != "t3" {
		t.Errorf("next = %+v, want t3", next)
	}
}

func TestQueueCancelActiveKeepsSlotUntilFinish(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))
	q.submit(newTestTurn("t2"))

	view, wasActive, found := q.cancel("t1")
	if !found || !wasActive {
		t.Fatalf("cancel active: found=%v wasActive=%v", found, wasActive)
	}
	if view.State != turn.StateCancelled {
		t.Errorf("state = %q, want cancelled", view.State)
	}
	if q.activeID() != "t1" {
		t.Errorf("activeID = %q, slot released before worker unwound", q.activeID())
	}

	// The runner's finish preserves the cancelled state and admits t2.
	finished, final, next := q.finish("t1", turn.StateCompleted)
	if !finished {
		t.Fatal("finish after cancel not finished")
	}
	if final.State != turn.StateCancelled {
		t.Errorf("final state = %q, want cancelled", final.State)
	}
	if next == nil || next.ID != "t2" {
		t.Errorf("next = %+v, want t2", next)
	}
}

func TestQueueDrainCancelsActiveAndDiscardsWaiting(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))
	q.submit(newTestTurn("t2"))
	q.submit(newTestTurn("t3"))

	activeID := q.drain()
	if activeID != "t1" {
		t.Fatalf("drained activeID = %q, want t1", activeID)
	}
	if q.activeID() != "t1" {
		t.Errorf("activeID = %q, slot released before worker unwound", q.activeID())
	}
	if q.waitingDepth() != 0 {
		t.Errorf("waitingDepth = %d, want 0", q.waitingDepth())
	}

	// The unwinding worker's finish keeps the cancelled state and admits
	// nothing.
	finished, view, next := q.finish("t1", turn.StateCompleted)
	if !finished {
		t.Fatal("finish after drain not finished")
	}
	if view.State != turn.StateCancelled {
		t.Errorf("final state = %q, want cancelled", view.State)
	}
	if next != nil {
		t.Errorf("next = %+v, want none after drain", next)
	}
}

func TestQueueDrainEmpty(t *testing.T) {
	q := newTurnQueue()
	if activeID := q.drain(); activeID != "" {
		t.Errorf("drain of empty queue returned %q", activeID)
	}
}

func TestQueueCancelUnknownNotFound(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))

	if _, _, found := q.cancel("nope"); found {
		t.Error("cancel of unknown turn reported found")
	}
}

func TestQueueLateFinishIsNoOp(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))
	q.finish("t1", turn.StateCompleted)

	if finished, _, _ := q.finish("t1", turn.StateErrored); finished {
		t.Error("late finish for released turn reported finished")
	}
}

func TestQueueSetStreaming(t *testing.T) {
	q := newTurnQueue()
	q.submit(newTestTurn("t1"))

	q.setStreaming("t1")
	_, view, _ := q.finish("t1", turn.StateCompleted)
	if view.State != turn.StateCompleted {
		t.Errorf("state = %q, want completed", view.State)
	}

	// setStreaming for a non-active turn is ignored.
	q.setStreaming("t2")
}
