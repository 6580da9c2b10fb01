package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "relayd"

// Metrics holds all relayd metric instruments.
type Metrics struct {
	EnvelopesAppended  metric.Int64Counter
	TurnsStarted       metric.Int64Counter
	TurnsCompleted     metric.Int64Counter
	TurnsFailed        metric.Int64Counter
	PermissionRequests metric.Int64Counter
	PermissionTimeouts metric.Int64Counter
	ReplayEnvelopes    metric.Int64Counter
	TurnDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EnvelopesAppended, err = meter.Int64Counter("relayd.envelopes.appended",
		metric.WithDescription("Envelopes durably appended to session logs"))
	if err != nil {
		return nil, err
	}

	m.TurnsStarted, err = meter.Int64Counter("relayd.turns.started",
		metric.WithDescription("Turns admitted to the active slot"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("relayd.turns.completed",
		metric.WithDescription("Turns reaching a terminal state without error"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("relayd.turns.failed",
		metric.WithDescription("Turns ending in turn_error"))
	if err != nil {
		return nil, err
	}

	m.PermissionRequests, err = meter.Int64Counter("relayd.permissions.requested",
		metric.WithDescription("Permission requests opened"))
	if err != nil {
		return nil, err
	}

	m.PermissionTimeouts, err = meter.Int64Counter("relayd.permissions.timeouts",
		metric.WithDescription("Permission requests auto-denied on timeout"))
	if err != nil {
		return nil, err
	}

	m.ReplayEnvelopes, err = meter.Int64Counter("relayd.replay.envelopes",
		metric.WithDescription("Envelopes delivered from replay on attach"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("relayd.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
