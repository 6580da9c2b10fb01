// Package permission defines the PermissionRequest entity and the
// single-resolution arbitration types.
package permission

import (
	"time"

	"github.com/relayd-dev/relayd/internal/domain"
)

// Decision is a terminal resolution of a permission request.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Resolution state of a request.
const (
	ResolutionPending = "pending"
)

// Synthetic decider identities for auto-resolutions.
const (
	DecidedByTimeout   = "timeout"
	DecidedByCancelled = "cancelled"
)

// Request is a gated action awaiting arbitration. At most one request per
// session is pending at a time; it is resolved exactly once.
type Request struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Action     string    `json:"action"`
	RiskLevel  string    `json:"risk_level"`
	Resolution string    `json:"resolution"`
	DecidedBy  string    `json:"decided_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Resolution records the winning decision for a request.
type Resolution struct {
	RequestID string    `json:"request_id"`
	Decision  Decision  `json:"decision"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// AlreadyResolvedError is returned to every resolve caller that lost the
// compare-and-swap race. It names the actual winner so the loser can report
// it; it is informational, not fatal.
type AlreadyResolvedError struct {
	RequestID string
	Winner    string
	Decision  Decision
}

func (e *AlreadyResolvedError) Error() string {
	return "permission request " + e.RequestID + " already resolved by " + e.Winner
}

func (e *AlreadyResolvedError) Is(target error) bool {
	return target == domain.ErrConflict
}
