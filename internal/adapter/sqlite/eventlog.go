package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/session"
	"github.com/relayd-dev/relayd/internal/port/eventlog"
)

// Append persists env and advances the session's monotonic sequence in one
// transaction. The seq was assigned by the session manager; the guard on
// monotonic_seq turns any write that would create a gap or duplicate into
// domain.ErrConflict instead of corrupting the log.
func (s *Store) Append(ctx context.Context, env *envelope.Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append envelope: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET monotonic_seq = ?, updated_at = ? WHERE id = ? AND monotonic_seq = ?`,
		env.Seq, time.Now().UnixNano(), env.SessionID, env.Seq-1)
	if err != nil {
		return fmt.Errorf("append envelope: advance seq: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("append envelope %s/%d: %w", env.SessionID, env.Seq, domain.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO envelopes (session_id, seq, version, event, ts, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		env.SessionID, env.Seq, env.Version, string(env.Event),
		env.Timestamp.UnixNano(), []byte(env.Payload)); err != nil {
		return fmt.Errorf("append envelope %s/%d: %w", env.SessionID, env.Seq, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append envelope %s/%d: commit: %w", env.SessionID, env.Seq, err)
	}
	return nil
}

const envelopeColumns = `session_id, seq, version, event, ts, payload`

func scanEnvelope(scanner interface{ Scan(dest ...any) error }, env *envelope.Envelope) error {
	var ts int64
	var event string
	var payload []byte
	if err := scanner.Scan(&env.SessionID, &env.Seq, &env.Version, &event, &ts, &payload); err != nil {
		return err
	}
	env.Event = envelope.Type(event)
	env.Timestamp = time.Unix(0, ts).UTC()
	env.Payload = payload
	return nil
}

// RetainedFloor returns the lowest afterSeq that can still be served from
// the log. When the log holds envelopes it is oldest-1; when the log is empty
// it is the session's monotonic sequence (nothing older can be replayed).
func (s *Store) RetainedFloor(ctx context.Context, sessionID string) (uint64, error) {
	var latest uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT monotonic_seq FROM sessions WHERE id = ?`, sessionID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("retained floor %s: %w", sessionID, err)
	}

	var oldest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(seq) FROM envelopes WHERE session_id = ?`, sessionID).Scan(&oldest); err != nil {
		return 0, fmt.Errorf("retained floor %s: %w", sessionID, err)
	}
	if !oldest.Valid {
		return latest, nil
	}
	return uint64(oldest.Int64) - 1, nil
}

// ReadSince returns a lazy iterator over envelopes with seq > afterSeq, in
// ascending order. It fails with domain.ErrReplayTooOld when afterSeq
// predates retained history.
func (s *Store) ReadSince(ctx context.Context, sessionID string, afterSeq uint64) (eventlog.Iterator, error) {
	floor, err := s.RetainedFloor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if afterSeq < floor {
		return nil, fmt.Errorf("read since %s/%d (retained floor %d): %w",
			sessionID, afterSeq, floor, domain.ErrReplayTooOld)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes
		 WHERE session_id = ? AND seq > ? ORDER BY seq ASC`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read since %s/%d: %w", sessionID, afterSeq, err)
	}
	return &rowIterator{rows: rows}, nil
}

// rowIterator adapts sql.Rows to eventlog.Iterator.
type rowIterator struct {
	rows *sql.Rows
	cur  envelope.Envelope
	err  error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	it.cur = envelope.Envelope{}
	if err := scanEnvelope(it.rows, &it.cur); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *rowIterator) Envelope() *envelope.Envelope { return &it.cur }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error { return it.rows.Close() }

// ReadPage returns up to limit envelopes with seq > afterSeq plus a has-more
// flag, for the paged HTTP endpoint.
func (s *Store) ReadPage(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]envelope.Envelope, bool, error) {
	floor, err := s.RetainedFloor(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if afterSeq < floor {
		return nil, false, fmt.Errorf("read page %s/%d (retained floor %d): %w",
			sessionID, afterSeq, floor, domain.ErrReplayTooOld)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+envelopeColumns+` FROM envelopes
		 WHERE session_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		sessionID, afterSeq, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("read page %s/%d: %w", sessionID, afterSeq, err)
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		var env envelope.Envelope
		if err := scanEnvelope(rows, &env); err != nil {
			return nil, false, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// WriteSnapshot persists a snapshot at snap.Seq. The single-statement upsert
// inside SQLite's journal makes the write atomic: a crash mid-write leaves
// the previous snapshot intact.
func (s *Store) WriteSnapshot(ctx context.Context, snap *session.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, seq, taken_at, state) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, seq) DO UPDATE SET taken_at = excluded.taken_at, state = excluded.state`,
		snap.SessionID, snap.Seq, snap.TakenAt.UnixNano(), snap.State)
	if err != nil {
		return fmt.Errorf("write snapshot %s/%d: %w", snap.SessionID, snap.Seq, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for the session, or
// domain.ErrNotFound when none has been written yet.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, seq, taken_at, state FROM snapshots
		 WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)

	var snap session.Snapshot
	var takenAt int64
	if err := row.Scan(&snap.SessionID, &snap.Seq, &takenAt, &snap.State); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest snapshot %s: %w", sessionID, err)
	}
	snap.TakenAt = time.Unix(0, takenAt).UTC()
	return &snap, nil
}

// Prune deletes log rows and superseded snapshots up to keepAfterSeq. The
// most recent snapshot and every envelope past it survive regardless of
// keepAfterSeq, so cold replay always has an anchor.
func (s *Store) Prune(ctx context.Context, sessionID string, keepAfterSeq uint64) error {
	snap, err := s.LatestSnapshot(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil // nothing to anchor replay on, keep the whole log
	}
	if err != nil {
		return err
	}

	bound := keepAfterSeq
	if snap.Seq < bound {
		bound = snap.Seq
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune %s: begin: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM envelopes WHERE session_id = ? AND seq <= ?`, sessionID, bound); err != nil {
		return fmt.Errorf("prune %s envelopes: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ? AND seq < ?`, sessionID, snap.Seq); err != nil {
		return fmt.Errorf("prune %s snapshots: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("prune %s: commit: %w", sessionID, err)
	}
	return nil
}
