// Package ristretto provides an in-process cache for session snapshots,
// keeping rehydration of recently evicted sessions off the database.
package ristretto

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/relayd-dev/relayd/internal/domain/session"
)

// SnapshotCache caches the latest snapshot per session, keyed by session id.
// Cost is the encoded projection size so the cache bounds memory, not entry
// count.
type SnapshotCache struct {
	c *ristretto.Cache[string, *session.Snapshot]
}

// New creates a snapshot cache holding at most maxCostBytes of encoded
// projections.
func New(maxCostBytes int64) (*SnapshotCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *session.Snapshot]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{c: c}, nil
}

// Get returns the cached latest snapshot for a session.
func (c *SnapshotCache) Get(sessionID string) (*session.Snapshot, bool) {
	return c.c.Get(sessionID)
}

// Set caches snap as the latest snapshot for its session.
func (c *SnapshotCache) Set(snap *session.Snapshot) {
	c.c.Set(snap.SessionID, snap, int64(len(snap.State)))
}

// Delete drops the cached snapshot for a session.
func (c *SnapshotCache) Delete(sessionID string) {
	c.c.Del(sessionID)
}

// Close shuts down the cache and releases resources.
func (c *SnapshotCache) Close() {
	c.c.Close()
}
