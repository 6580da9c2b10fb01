package service

import (
	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/session"
)

// foldEnvelope applies one envelope to the materialized session projection.
// Folding the full log from seq 1, or a snapshot plus the log tail past its
// seq, yields the same projection; replaying an envelope at or below p.Seq
// would double-apply and must be filtered by the caller.
func foldEnvelope(p *session.Projection, env *envelope.Envelope) {
	p.Seq = env.Seq

	switch env.Event {
	case envelope.TypeTurnStarted:
		var pl envelope.TurnStarted
		if env.Decode(&pl) != nil {
			return
		}
		p.Transcript = append(p.Transcript, session.TranscriptEntry{
			TurnID:  pl.TurnID,
			Role:    "user",
			Content: pl.Content,
		})
		p.ActiveTurnID = pl.TurnID

	case envelope.TypeTurnDelta:
		var pl envelope.TurnDelta
		if env.Decode(&pl) != nil {
			return
		}
		if n := len(p.Transcript); n > 0 && p.Transcript[n-1].TurnID == pl.TurnID && p.Transcript[n-1].Role == "assistant" {
			p.Transcript[n-1].Content += pl.Text
			return
		}
		p.Transcript = append(p.Transcript, session.TranscriptEntry{
			TurnID:  pl.TurnID,
			Role:    "assistant",
			Content: pl.Text,
		})

	case envelope.TypeToolResult:
		var pl envelope.ToolResult
		if env.Decode(&pl) != nil {
			return
		}
		p.Transcript = append(p.Transcript, session.TranscriptEntry{
			TurnID:  pl.TurnID,
			Role:    "tool",
			Content: pl.Output,
		})

	case envelope.TypePermissionRequest:
		var pl envelope.PermissionRequested
		if env.Decode(&pl) != nil {
			return
		}
		p.PendingPermission = &session.PendingPermission{
			RequestID: pl.RequestID,
			TurnID:    pl.TurnID,
			Action:    pl.Action,
			RiskLevel: pl.RiskLevel,
		}

	case envelope.TypePermissionResolved:
		p.PendingPermission = nil

	case envelope.TypeTurnCompleted, envelope.TypeTurnError:
		p.ActiveTurnID = ""
	}
}
