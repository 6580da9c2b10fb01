// Package service implements the session manager: the single authority over
// session lifecycle, turn admission, permission arbitration, and the durable
// publish path that assigns every envelope its sequence number.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayd-dev/relayd/internal/adapter/ristretto"
	"github.com/relayd-dev/relayd/internal/config"
	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/permission"
	"github.com/relayd-dev/relayd/internal/domain/session"
	"github.com/relayd-dev/relayd/internal/domain/turn"
	"github.com/relayd-dev/relayd/internal/port/agentworker"
	"github.com/relayd-dev/relayd/internal/port/eventlog"

	otelad "github.com/relayd-dev/relayd/internal/adapter/otel"
)

// Manager owns all sessions. Each session has exactly one publish path (its
// state's mutex), so sequence numbers are gap-free and strictly increasing
// per session no matter how many transports feed it.
type Manager struct {
	store   eventlog.Store
	worker  agentworker.Worker
	snaps   *ristretto.SnapshotCache // optional
	metrics *otelad.Metrics          // optional
	log     *slog.Logger

	sessCfg  config.Session
	storeCfg config.Store
	permCfg  config.Permission

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewManager wires the manager. snaps and metrics may be nil.
func NewManager(store eventlog.Store, worker agentworker.Worker, snaps *ristretto.SnapshotCache, metrics *otelad.Metrics, cfg *config.Config, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		worker:   worker,
		snaps:    snaps,
		metrics:  metrics,
		log:      log,
		sessCfg:  cfg.Session,
		storeCfg: cfg.Store,
		permCfg:  cfg.Permission,
		sessions: make(map[string]*sessionState),
	}
}

// CreateSession opens a new session and registers its in-memory state.
func (m *Manager) CreateSession(ctx context.Context, req *session.CreateRequest) (*session.Session, error) {
	if req.Model == "" {
		return nil, &envelope.ValidationError{Field: "model", Reason: "model is required"}
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:        uuid.NewString(),
		Model:     req.Model,
		Title:     req.Title,
		State:     session.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	st := newSessionState(sess, &session.Projection{SessionID: sess.ID})
	m.mu.Lock()
	m.sessions[sess.ID] = st
	m.mu.Unlock()

	m.log.Info("session created", "session_id", sess.ID, "model", sess.Model)
	view := *sess
	return &view, nil
}

// GetSession returns the session, preferring live in-memory state.
func (m *Manager) GetSession(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	st, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		view := st.sessionView()
		return &view, nil
	}
	return m.store.GetSession(ctx, id)
}

// ListSessions returns all sessions, with in-memory state overlaid.
func (m *Manager) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range rows {
		if st, ok := m.sessions[rows[i].ID]; ok {
			rows[i] = st.sessionView()
		}
	}
	return rows, nil
}

// DeleteSession closes the session: the active turn is cancelled, queued
// turns are discarded, new turns are rejected, and a final snapshot is taken.
// The event log is retained.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	st, err := m.state(ctx, id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.sess.State = session.StateClosed
	st.mu.Unlock()

	// Mark the active turn cancelled and empty the wait list before firing
	// the worker cancel, so its unwinding finish cannot admit a queued turn
	// on the closed session.
	activeID := st.queue.drain()
	if activeID != "" {
		st.mu.Lock()
		cancel := st.cancelActive
		if st.cancelActiveID != activeID {
			cancel = nil
		}
		st.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	if err := m.store.UpdateSessionState(ctx, id, session.StateClosed); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	st.mu.Lock()
	if err := m.snapshotLocked(ctx, st); err != nil {
		m.log.Error("final snapshot failed", "session_id", id, "error", err)
	}
	st.mu.Unlock()

	m.log.Info("session closed", "session_id", id)
	return nil
}

// SubmitTurn validates and enqueues a turn. Admission order is the order
// submissions reach the session's queue, not any client-claimed time. The
// returned view is the turn's state at admission (active or queued).
func (m *Manager) SubmitTurn(ctx context.Context, sessionID string, req *envelope.SubmitTurnRequest) (*turn.Turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode := turn.Mode(req.Mode)
	switch mode {
	case "":
		mode = turn.ModeChat
	case turn.ModeChat, turn.ModeDo:
	default:
		return nil, &envelope.ValidationError{Field: "mode", Reason: `must be "chat" or "do"`}
	}

	st, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.isClosed() {
		return nil, domain.ErrSessionClosed
	}

	t := &turn.Turn{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		WriterID:   req.WriterID,
		Content:    req.Content,
		Mode:       mode,
		State:      turn.StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	admitted, view := st.queue.submit(t)
	if admitted {
		go m.runTurn(st, t)
	}
	m.log.Info("turn submitted", "session_id", sessionID, "turn_id", t.ID, "writer_id", t.WriterID, "admitted", admitted)
	return &view, nil
}

// CancelTurn cancels a queued or active turn. A queued turn is removed with
// no side effects; an active turn gets its worker context cancelled and ends
// with a turn_completed envelope of status "cancelled".
func (m *Manager) CancelTurn(ctx context.Context, sessionID, turnID string) (*turn.Turn, error) {
	st, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view, wasActive, found := st.queue.cancel(turnID)
	if !found {
		return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	if wasActive {
		st.mu.Lock()
		cancel := st.cancelActive
		if st.cancelActiveID != turnID {
			cancel = nil
		}
		st.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	m.log.Info("turn cancelled", "session_id", sessionID, "turn_id", turnID, "was_active", wasActive)
	return &view, nil
}

// ResolvePermission applies a decision to the session's pending permission
// request. The first decision wins; losers get AlreadyResolvedError naming
// the winner. The permission_resolved envelope is published by the turn
// runner, which owns the publish ordering for its turn.
func (m *Manager) ResolvePermission(ctx context.Context, sessionID, requestID string, req *envelope.PermissionDecisionRequest) (*permission.Resolution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	st, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res, err := st.perm.resolve(requestID, permission.Decision(req.Decision), req.DecidedBy)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Projection returns the current materialized view of the session. It is the
// snapshot fallback for clients whose replay cursor fell below retention.
func (m *Manager) Projection(ctx context.Context, sessionID string) (*session.Projection, error) {
	st, err := m.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	view := *st.proj
	view.Transcript = make([]session.TranscriptEntry, len(st.proj.Transcript))
	copy(view.Transcript, st.proj.Transcript)
	if st.proj.PendingPermission != nil {
		pp := *st.proj.PendingPermission
		view.PendingPermission = &pp
	}
	view.QueueDepth = st.queue.waitingDepth()
	return &view, nil
}

// Events returns one page of the event log after afterSeq. ErrReplayTooOld
// means the cursor predates retention and the client must re-anchor on a
// snapshot.
func (m *Manager) Events(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]envelope.Envelope, bool, error) {
	if limit <= 0 || limit > m.sessCfg.EventPageLimit {
		limit = m.sessCfg.EventPageLimit
	}
	return m.store.ReadPage(ctx, sessionID, afterSeq, limit)
}

// publish assigns the next seq, durably appends, folds the projection, and
// fans out to subscribers, all under the session's publish lock.
func (m *Manager) publish(ctx context.Context, st *sessionState, event envelope.Type, payload any) (*envelope.Envelope, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	env, err := m.appendLocked(ctx, st, event, payload)
	if err != nil {
		return nil, err
	}

	st.sinceSnapshot++
	if m.storeCfg.SnapshotEvery > 0 && st.sinceSnapshot >= m.storeCfg.SnapshotEvery {
		if err := m.snapshotLocked(ctx, st); err != nil {
			m.log.Error("periodic snapshot failed", "session_id", st.sess.ID, "error", err)
		}
	}
	return env, nil
}

// appendLocked is the single writer for a session's log. Callers hold st.mu.
// An envelope that fails to persist is never broadcast.
func (m *Manager) appendLocked(ctx context.Context, st *sessionState, event envelope.Type, payload any) (*envelope.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	env := &envelope.Envelope{
		Version:   envelope.SchemaVersion,
		Event:     event,
		SessionID: st.sess.ID,
		Seq:       st.lastSeq + 1,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
	if err := m.store.Append(ctx, env); err != nil {
		return nil, fmt.Errorf("append %s envelope: %w", event, err)
	}

	st.lastSeq = env.Seq
	st.sess.MonotonicSeq = env.Seq
	st.lastActivity = time.Now()
	foldEnvelope(st.proj, env)

	for sub := range st.subs {
		if env.Seq <= sub.floor {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			// A full buffer means the consumer stalled; closing forces the
			// transport to reattach with replay rather than lose envelopes.
			delete(st.subs, sub)
			close(sub.ch)
			m.log.Warn("dropping slow subscriber", "session_id", st.sess.ID, "seq", env.Seq)
		}
	}

	if m.metrics != nil {
		m.metrics.EnvelopesAppended.Add(ctx, 1)
	}
	return env, nil
}

// snapshotLocked persists the current projection, caches it, and announces it
// in-band. Callers hold st.mu.
func (m *Manager) snapshotLocked(ctx context.Context, st *sessionState) error {
	st.proj.QueueDepth = st.queue.waitingDepth()
	state, err := json.Marshal(st.proj)
	if err != nil {
		return fmt.Errorf("marshal projection: %w", err)
	}
	snap := &session.Snapshot{
		SessionID: st.sess.ID,
		Seq:       st.lastSeq,
		TakenAt:   time.Now().UTC(),
		State:     state,
	}
	if err := m.store.WriteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if m.snaps != nil {
		m.snaps.Set(snap)
	}
	st.sinceSnapshot = 0

	_, err = m.appendLocked(ctx, st, envelope.TypeSessionSnapshot, envelope.SessionSnapshot{Seq: snap.Seq})
	return err
}

// state returns the in-memory state for a session, rehydrating it from the
// latest snapshot plus the log tail when it was evicted.
func (m *Manager) state(ctx context.Context, sessionID string) (*sessionState, error) {
	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State == session.StateIdle {
		// Rehydration means a client is attaching or submitting again.
		sess.State = session.StateActive
		if err := m.store.UpdateSessionState(ctx, sessionID, session.StateActive); err != nil {
			m.log.Error("reactivate session", "session_id", sessionID, "error", err)
		}
	}
	proj := m.loadProjection(ctx, sess)

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		// Lost the rehydration race; the winner's state is authoritative.
		return st, nil
	}
	st = newSessionState(sess, proj)
	m.sessions[sessionID] = st
	m.log.Info("session rehydrated", "session_id", sessionID, "seq", sess.MonotonicSeq)
	return st, nil
}

// loadProjection rebuilds the projection from the most recent snapshot (cache
// first, then store) plus the log tail past its seq. A missing or unreadable
// snapshot degrades to a full log replay.
func (m *Manager) loadProjection(ctx context.Context, sess *session.Session) *session.Projection {
	var proj *session.Projection

	if m.snaps != nil {
		if snap, ok := m.snaps.Get(sess.ID); ok {
			proj = decodeProjection(snap, m.log)
		}
	}
	if proj == nil {
		if snap, err := m.store.LatestSnapshot(ctx, sess.ID); err == nil {
			proj = decodeProjection(snap, m.log)
			if proj != nil && m.snaps != nil {
				m.snaps.Set(snap)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			m.log.Error("load snapshot", "session_id", sess.ID, "error", err)
		}
	}
	if proj == nil {
		proj = &session.Projection{SessionID: sess.ID}
	}

	it, err := m.store.ReadSince(ctx, sess.ID, proj.Seq)
	if err != nil {
		m.log.Error("replay log tail", "session_id", sess.ID, "after_seq", proj.Seq, "error", err)
		return proj
	}
	defer it.Close()
	for it.Next() {
		foldEnvelope(proj, it.Envelope())
	}
	if err := it.Err(); err != nil {
		m.log.Error("replay log tail", "session_id", sess.ID, "error", err)
	}
	return proj
}

func decodeProjection(snap *session.Snapshot, log *slog.Logger) *session.Projection {
	var proj session.Projection
	if err := json.Unmarshal(snap.State, &proj); err != nil {
		log.Error("corrupt snapshot state", "session_id", snap.SessionID, "seq", snap.Seq, "error", err)
		return nil
	}
	return &proj
}

// Run drives periodic maintenance until ctx is cancelled: idle session
// eviction and wall-clock snapshots for sessions with unsnapshotted activity.
func (m *Manager) Run(ctx context.Context) error {
	evict := time.NewTicker(time.Minute)
	defer evict.Stop()
	snap := time.NewTicker(m.storeCfg.SnapshotInterval)
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-evict.C:
			m.evictIdle(ctx)
		case <-snap.C:
			m.snapshotAll(ctx)
		}
	}
}

// evictIdle snapshots and drops in-memory state for sessions with no
// subscribers, no running turn, and no recent activity. Durable state stays;
// the next attach rehydrates.
func (m *Manager) evictIdle(ctx context.Context) {
	m.mu.RLock()
	candidates := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		candidates = append(candidates, st)
	}
	m.mu.RUnlock()

	cutoff := time.Now().Add(-m.sessCfg.IdleEvictAfter)
	for _, st := range candidates {
		m.mu.Lock()
		st.mu.Lock()
		idle := len(st.subs) == 0 &&
			st.queue.activeID() == "" &&
			st.queue.waitingDepth() == 0 &&
			st.lastActivity.Before(cutoff)
		if !idle {
			st.mu.Unlock()
			m.mu.Unlock()
			continue
		}
		id := st.sess.ID
		wasClosed := st.closed
		if st.sinceSnapshot > 0 {
			if err := m.snapshotLocked(ctx, st); err != nil {
				m.log.Error("eviction snapshot failed", "session_id", id, "error", err)
				st.mu.Unlock()
				m.mu.Unlock()
				continue
			}
		}
		delete(m.sessions, id)
		st.mu.Unlock()
		m.mu.Unlock()

		if !wasClosed {
			if err := m.store.UpdateSessionState(ctx, id, session.StateIdle); err != nil {
				m.log.Error("mark session idle", "session_id", id, "error", err)
			}
		}
		m.log.Info("session evicted", "session_id", id)
	}
}

// snapshotAll snapshots every resident session with activity past its last
// snapshot.
func (m *Manager) snapshotAll(ctx context.Context) {
	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		if st.sinceSnapshot > 0 {
			if err := m.snapshotLocked(ctx, st); err != nil {
				m.log.Error("interval snapshot failed", "session_id", st.sess.ID, "error", err)
			}
		}
		id, lastSeq := st.sess.ID, st.lastSeq
		st.mu.Unlock()

		if retain := uint64(m.storeCfg.RetainEnvelopes); retain > 0 && lastSeq > retain {
			if err := m.store.Prune(ctx, id, lastSeq-retain); err != nil {
				m.log.Error("prune event log", "session_id", id, "error", err)
			}
		}
	}
}

// Shutdown snapshots all resident sessions so a restart rehydrates from a
// fresh anchor. Session rows keep their state: durable sessions survive
// daemon restarts and accept turns again once rehydrated.
func (m *Manager) Shutdown(ctx context.Context) {
	m.snapshotAll(ctx)
}
