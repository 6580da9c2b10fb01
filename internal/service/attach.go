package service

import (
	"context"

	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/envelope"
)

// Subscription is a live attachment to a session's event stream. Envelopes
// arrive on C in seq order with no duplicates and no gaps: replayed history
// first, then live publishes past the replay floor. C is closed when the
// subscription is detached or the consumer falls too far behind; a consumer
// seeing an unexpected close should reattach with its last seen seq.
type Subscription struct {
	C      <-chan *envelope.Envelope
	cancel context.CancelFunc
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Attach subscribes to a session's stream starting after afterSeq. The live
// subscriber is registered under the publish lock before replay begins, with
// its floor pinned at the current head: replay covers (afterSeq, floor] from
// the store, the live channel carries only seq > floor, so every envelope is
// delivered exactly once even when publishes land mid-replay.
//
// Returns domain.ErrReplayTooOld when afterSeq predates retained history; the
// caller should fetch the snapshot projection and reattach from its seq.
func (m *Manager) Attach(ctx context.Context, sessionID string, afterSeq uint64) (*Subscription, error) {
	st, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Fail the retention check before registering anything. A cold attach
	// (afterSeq 0) on a pruned session must fail here too, or the client
	// would see a silently closed stream instead of the snapshot-fallback
	// signal; a fresh session has floor 0 and passes.
	floor, err := m.store.RetainedFloor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if afterSeq < floor {
		return nil, domain.ErrReplayTooOld
	}

	st.mu.Lock()
	head := st.lastSeq
	sub := &subscriber{
		ch:    make(chan *envelope.Envelope, m.sessCfg.SubscriberBuffer),
		floor: head,
	}
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *envelope.Envelope, m.sessCfg.SubscriberBuffer)
	go m.pump(ctx, st, sub, out, sessionID, afterSeq, head)

	m.log.Info("client attached", "session_id", sessionID, "after_seq", afterSeq, "head", head)
	return &Subscription{C: out, cancel: cancel}, nil
}

// pump delivers replayed history up to head, then forwards the live channel.
// It owns closing out; the publish path owns closing sub.ch on overflow.
func (m *Manager) pump(ctx context.Context, st *sessionState, sub *subscriber, out chan<- *envelope.Envelope, sessionID string, afterSeq, head uint64) {
	defer close(out)
	defer func() {
		st.mu.Lock()
		if _, ok := st.subs[sub]; ok {
			delete(st.subs, sub)
			close(sub.ch)
		}
		st.mu.Unlock()
	}()

	if afterSeq < head {
		it, err := m.store.ReadSince(ctx, sessionID, afterSeq)
		if err != nil {
			m.log.Error("replay on attach", "session_id", sessionID, "after_seq", afterSeq, "error", err)
			return
		}
		replayed := int64(0)
		for it.Next() {
			// Copy before sending: the iterator's envelope is only valid
			// until the next call to Next, but out is consumed asynchronously.
			env := *it.Envelope()
			if env.Seq > head {
				break
			}
			select {
			case out <- &env:
				replayed++
			case <-ctx.Done():
				it.Close()
				return
			}
		}
		err = it.Err()
		it.Close()
		if err != nil {
			m.log.Error("replay on attach", "session_id", sessionID, "error", err)
			return
		}
		if m.metrics != nil && replayed > 0 {
			m.metrics.ReplayEnvelopes.Add(ctx, replayed)
		}
	}

	for {
		select {
		case env, ok := <-sub.ch:
			if !ok {
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
