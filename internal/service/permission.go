package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/permission"
)

// permCoordinator arbitrates a single pending permission request per session.
// Resolution is compare-and-swap: the first caller to transition the request
// out of pending wins, every other caller gets AlreadyResolvedError naming
// the winner.
type permCoordinator struct {
	mu       sync.Mutex
	pending  *permission.Request
	waitCh   chan permission.Resolution
	resolved map[string]permission.Resolution
}

func newPermCoordinator() *permCoordinator {
	return &permCoordinator{resolved: make(map[string]permission.Resolution)}
}

// open records a new pending request. It fails with ErrPermissionPending when
// one is already open for the session: callers must wait for its resolution.
func (c *permCoordinator) open(sessionID, turnID, action, riskLevel string) (permission.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		return permission.Request{}, domain.ErrPermissionPending
	}

	req := &permission.Request{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		TurnID:     turnID,
		Action:     action,
		RiskLevel:  riskLevel,
		Resolution: permission.ResolutionPending,
		CreatedAt:  time.Now().UTC(),
	}
	c.pending = req
	c.waitCh = make(chan permission.Resolution, 1)
	return *req, nil
}

// resolve applies the first decision for requestID and rejects the rest.
// Losers of the race get AlreadyResolvedError carrying the actual winner;
// unknown ids get domain.ErrNotFound.
func (c *permCoordinator) resolve(requestID string, d permission.Decision, decidedBy string) (permission.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil && c.pending.ID == requestID {
		res := permission.Resolution{
			RequestID: requestID,
			Decision:  d,
			DecidedBy: decidedBy,
			DecidedAt: time.Now().UTC(),
		}
		c.pending.Resolution = string(d)
		c.pending.DecidedBy = decidedBy
		c.resolved[requestID] = res
		c.pending = nil
		c.waitCh <- res
		return res, nil
	}

	if prev, ok := c.resolved[requestID]; ok {
		return permission.Resolution{}, &permission.AlreadyResolvedError{
			RequestID: requestID,
			Winner:    prev.DecidedBy,
			Decision:  prev.Decision,
		}
	}
	return permission.Resolution{}, domain.ErrNotFound
}

// await blocks until the pending request resolves, auto-denying after the
// timeout (decidedBy "timeout") or on ctx cancellation so a turn can never
// hang on an unanswered prompt. The auto-deny goes through resolve, keeping
// CAS the single resolution path; losing that race to a client at the
// deadline returns the client's decision instead.
func (c *permCoordinator) await(ctx context.Context, timeout time.Duration) permission.Resolution {
	c.mu.Lock()
	ch := c.waitCh
	var id string
	if c.pending != nil {
		id = c.pending.ID
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res
	case <-timer.C:
		if res, err := c.resolve(id, permission.DecisionDenied, permission.DecidedByTimeout); err == nil {
			return res
		}
		return <-ch
	case <-ctx.Done():
		if res, err := c.resolve(id, permission.DecisionDenied, permission.DecidedByCancelled); err == nil {
			return res
		}
		return <-ch
	}
}
