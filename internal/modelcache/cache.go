// Package modelcache holds the last successfully fetched model list in
// memory and in a persistent store, and serves stale data when a live
// fetch fails.
package modelcache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gollms/internal/core"
)

// Snapshot is one cached model list. Endpoint records which backend the
// list came from; a snapshot from a different endpoint is never served.
type Snapshot struct {
	Endpoint  string                 `json:"endpoint"`
	UpdatedAt time.Time              `json:"updated_at"`
	Models    []core.ModelDescriptor `json:"models"`
}

// Store is the persistent layer behind the in-memory copy.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the persisted snapshot. Returns nil, nil when none
	// exists yet.
	Get(ctx context.Context) (*Snapshot, error)

	// Set replaces the persisted snapshot.
	Set(ctx context.Context, snap *Snapshot) error

	// Clear removes the persisted snapshot.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Fetcher retrieves a fresh model list from the network.
type Fetcher func(ctx context.Context) ([]core.ModelDescriptor, error)

// Cache composes the in-memory copy, the persistent store and the network
// fetcher. The in-memory copy is swapped as a whole value, so concurrent
// readers during a refresh see either the old or the new list, never a
// partial one.
type Cache struct {
	endpoint string
	store    Store
	fetch    Fetcher
	logger   *slog.Logger

	mem atomic.Pointer[Snapshot]
}

// New creates a cache bound to one endpoint identity. store may be nil,
// which leaves only the in-memory layer.
func New(endpoint string, store Store, fetch Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{endpoint: endpoint, store: store, fetch: fetch, logger: logger}
}

// Get returns the model list. Without force it serves the in-memory copy
// first, then adopts a persisted copy, and only then fetches. A failed
// fetch falls back to any persisted copy, even a stale one, with a logged
// warning; the failure propagates only when no fallback exists.
func (c *Cache) Get(ctx context.Context, force bool) ([]core.ModelDescriptor, error) {
	if !force {
		if snap := c.mem.Load(); snap != nil {
			return snap.Models, nil
		}
		if snap := c.loadPersisted(ctx); snap != nil {
			c.mem.Store(snap)
			return snap.Models, nil
		}
	}

	models, err := c.fetch(ctx)
	if err != nil {
		if snap := c.loadPersisted(ctx); snap != nil {
			c.logger.Warn("model fetch failed, serving cached list",
				"error", err, "cached_at", snap.UpdatedAt, "models", len(snap.Models))
			c.mem.Store(snap)
			return snap.Models, nil
		}
		return nil, err
	}

	snap := &Snapshot{Endpoint: c.endpoint, UpdatedAt: time.Now().UTC(), Models: models}
	c.mem.Store(snap)
	if c.store != nil {
		if err := c.store.Set(ctx, snap); err != nil {
			c.logger.Warn("failed to persist model list", "error", err)
		}
	}
	return models, nil
}

// Invalidate clears both the in-memory and persisted copies. Called when
// the endpoint identity of the configuration changes.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mem.Store(nil)
	if c.store == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Close releases the persistent store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// loadPersisted reads the persisted snapshot, discarding entries recorded
// for a different endpoint.
func (c *Cache) loadPersisted(ctx context.Context) *Snapshot {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Get(ctx)
	if err != nil {
		c.logger.Warn("failed to read persisted model list", "error", err)
		return nil
	}
	if snap == nil || snap.Endpoint != c.endpoint {
		return nil
	}
	return snap
}
