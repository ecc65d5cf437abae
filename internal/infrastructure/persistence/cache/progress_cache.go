// Package cache stores progress snapshots as JSON in any progress.KVStore.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath/internal/domain/progress"
)

// ProgressCache implements progress.SnapshotCache on top of a KV store.
// It does not serialize writers; callers hold the per-scope lock.
type ProgressCache struct {
	store progress.KVStore
}

var _ progress.SnapshotCache = (*ProgressCache)(nil)

// NewProgressCache wraps store.
func NewProgressCache(store progress.KVStore) *ProgressCache {
	return &ProgressCache{store: store}
}

// GetSnapshot returns the scope's snapshot, or an empty one on a miss.
// A stored value that fails to decode is returned as a data error.
func (c *ProgressCache) GetSnapshot(ctx context.Context, scope progress.ScopeID) (*progress.Snapshot, error) {
	scope = scope.Normalize()

	data, err := c.store.Get(ctx, scope.CacheKey())
	if err != nil {
		if errors.Is(err, progress.ErrKeyNotFound) {
			return progress.NewSnapshot(scope), nil
		}
		return nil, fmt.Errorf("get snapshot %s: %w", scope, err)
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", scope, err)
	}
	snap.ScopeID = scope
	return &snap, nil
}

// SetSnapshot replaces the scope's snapshot.
func (c *ProgressCache) SetSnapshot(ctx context.Context, scope progress.ScopeID, snap *progress.Snapshot) error {
	scope = scope.Normalize()

	stored := snap.Clone()
	stored.ScopeID = scope
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", scope, err)
	}
	if err := c.store.Set(ctx, scope.CacheKey(), data); err != nil {
		return fmt.Errorf("set snapshot %s: %w", scope, err)
	}
	return nil
}

// MarkModuleCompleted inserts moduleID into the scope's completed set.
// An already completed module leaves the stored snapshot untouched.
func (c *ProgressCache) MarkModuleCompleted(ctx context.Context, moduleID string, scope progress.ScopeID, now time.Time) (*progress.Snapshot, bool, error) {
	snap, err := c.GetSnapshot(ctx, scope)
	if err != nil {
		return nil, false, err
	}

	changed, err := snap.MarkModuleCompleted(moduleID, now)
	if err != nil || !changed {
		return snap, false, err
	}

	if err := c.SetSnapshot(ctx, scope, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Delete removes the scope's snapshot.
func (c *ProgressCache) Delete(ctx context.Context, scope progress.ScopeID) error {
	if err := c.store.Delete(ctx, scope.CacheKey()); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", scope, err)
	}
	return nil
}
