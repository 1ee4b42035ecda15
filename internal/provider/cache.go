package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/types"
)

// RefreshFunc loads the full record list from the provider.
type RefreshFunc func(ctx context.Context) ([]types.Record, error)

// RecordCache is the per-provider in-memory snapshot of the records in a
// zone. Mutations triggered by adapter calls are applied before the call
// returns, so consecutive reads inside one reconcile cycle observe a
// consistent view. A full refresh happens on first use and whenever the
// snapshot is older than the freshness horizon.
//
// The cache serializes its own access; the reconciler additionally holds the
// per-provider mutex around whole cycles.
type RecordCache struct {
	provider string
	horizon  time.Duration
	refresh  RefreshFunc

	mu          sync.Mutex
	records     []types.Record
	lastUpdated time.Time
}

// NewRecordCache creates a cache with the given freshness horizon.
func NewRecordCache(provider string, horizon time.Duration, refresh RefreshFunc) *RecordCache {
	return &RecordCache{provider: provider, horizon: horizon, refresh: refresh}
}

// Records returns the current snapshot, refreshing first when forceRefresh is
// set or the snapshot is older than the freshness horizon.
func (c *RecordCache) Records(ctx context.Context, forceRefresh bool) ([]types.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if forceRefresh || c.stale() {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}

	out := make([]types.Record, len(c.records))
	copy(out, c.records)
	return out, nil
}

// Refresh reloads the snapshot unconditionally.
func (c *RecordCache) Refresh(ctx context.Context) ([]types.Record, error) {
	return c.Records(ctx, true)
}

// Find returns the first cached record with the given identity. The name is
// compared case-insensitively. It never triggers a refresh.
func (c *RecordCache) Find(recordType types.RecordType, name string) (types.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	canonical := types.CanonicalName(name)
	for _, r := range c.records {
		if r.Type == recordType && types.CanonicalName(r.Name) == canonical {
			return r, true
		}
	}
	return types.Record{}, false
}

// Upsert inserts or replaces a record, keyed by external ID when present,
// otherwise by (type, name, content).
func (c *RecordCache) Upsert(r types.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := r.Key()
	for i, existing := range c.records {
		if existing.Key() == key {
			c.records[i] = r
			return
		}
	}
	// An update may change the content while keeping the same external ID;
	// match on ID alone as a fallback before appending.
	if r.ExternalID != "" {
		for i, existing := range c.records {
			if existing.ExternalID == r.ExternalID {
				c.records[i] = r
				return
			}
		}
	}
	c.records = append(c.records, r)
}

// Remove deletes a record by the same key discipline as Upsert.
func (c *RecordCache) Remove(r types.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := r.Key()
	for i, existing := range c.records {
		if existing.Key() == key {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return
		}
	}
}

// RemoveByID deletes a record by external ID.
func (c *RecordCache) RemoveByID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.records {
		if existing.ExternalID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return
		}
	}
}

// Invalidate marks the snapshot stale so the next read refreshes.
func (c *RecordCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdated = time.Time{}
}

// LastUpdated returns the time of the last successful refresh.
func (c *RecordCache) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Len returns the current record count without refreshing.
func (c *RecordCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *RecordCache) stale() bool {
	if c.lastUpdated.IsZero() {
		return true
	}
	return time.Since(c.lastUpdated) > c.horizon
}

func (c *RecordCache) refreshLocked(ctx context.Context) error {
	records, err := c.refresh(ctx)
	if err != nil {
		return WrapOp(c.provider, "refresh cache", err)
	}
	c.records = records
	c.lastUpdated = time.Now()

	log.Debug().
		Str("provider", c.provider).
		Int("records", len(records)).
		Msg("Record cache refreshed")
	return nil
}
