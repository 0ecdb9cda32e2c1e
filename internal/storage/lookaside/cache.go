// Package lookaside fronts a discovery.Cache with an in-process LRU and an
// optional shared Redis tier for confirmed rows.
package lookaside

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Remote is a shared tier holding ConfirmedExists rows. Such rows are
// write-once, so a remote copy never goes stale.
type Remote interface {
	Load(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, bool, error)
	Store(ctx context.Context, entry discovery.CacheEntry) error
	Close() error
}

// Options configures the lookaside layer.
type Options struct {
	Size   int
	TTL    time.Duration
	Remote Remote
	Logger *zap.Logger
}

// Cache decorates a backing discovery.Cache. Only ConfirmedExists rows are
// held locally; everything else is read through, since a ConfirmedAbsent row
// may still be promoted by another writer.
type Cache struct {
	backend discovery.Cache
	local   *expirable.LRU[keyspace.CandidateKey, discovery.CacheEntry]
	remote  Remote
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ discovery.Cache = (*Cache)(nil)

// New wraps backend.
func New(backend discovery.Cache, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cache is required")
	}
	if opts.Size <= 0 {
		opts.Size = 10_000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend: backend,
		local:   expirable.NewLRU[keyspace.CandidateKey, discovery.CacheEntry](opts.Size, nil, opts.TTL),
		remote:  opts.Remote,
		logger:  logger,
	}, nil
}

// Upsert writes through to the backend and refreshes the local copy.
func (c *Cache) Upsert(ctx context.Context, obs discovery.Observation) (discovery.CacheEntry, error) {
	entry, err := c.backend.Upsert(ctx, obs)
	if err != nil {
		c.local.Remove(obs.Key)
		return entry, err
	}
	c.remember(ctx, entry)
	return entry, nil
}

// Lookup checks the LRU, then the remote tier, then the backend.
func (c *Cache) Lookup(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error) {
	if entry, ok := c.local.Get(key); ok {
		c.hits.Add(1)
		return entry, nil
	}
	if c.remote != nil {
		entry, ok, err := c.remote.Load(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("lookaside remote load failed", zap.String("key", key.String()), zap.Error(err))
		case ok:
			c.hits.Add(1)
			c.local.Add(key, entry)
			return entry, nil
		}
	}
	c.misses.Add(1)
	entry, err := c.backend.Lookup(ctx, key)
	if err != nil {
		return entry, err
	}
	c.remember(ctx, entry)
	return entry, nil
}

func (c *Cache) remember(ctx context.Context, entry discovery.CacheEntry) {
	if entry.Status != discovery.StatusConfirmedExists {
		c.local.Remove(entry.Key)
		return
	}
	c.local.Add(entry.Key, entry)
	if c.remote == nil {
		return
	}
	if err := c.remote.Store(ctx, entry); err != nil {
		c.logger.Warn("lookaside remote store failed", zap.String("key", entry.Key.String()), zap.Error(err))
	}
}

// Query reads through to the backend.
func (c *Cache) Query(ctx context.Context, filter discovery.QueryFilter) ([]discovery.CacheEntry, error) {
	return c.backend.Query(ctx, filter)
}

// EvictStale deletes from the backend. Neither tier holds evictable rows;
// the local tier is purged anyway so no stale copy outlives a sweep.
func (c *Cache) EvictStale(ctx context.Context, olderThan time.Time, statuses []discovery.Status) (int64, error) {
	n, err := c.backend.EvictStale(ctx, olderThan, statuses)
	c.local.Purge()
	return n, err
}

// Stats reads through to the backend.
func (c *Cache) Stats(ctx context.Context) (map[discovery.Status]int64, error) {
	return c.backend.Stats(ctx)
}

// HitCounts reports lookaside hits and misses since construction.
func (c *Cache) HitCounts() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Ping forwards readiness checks when the backend supports them.
func (c *Cache) Ping(ctx context.Context) error {
	if p, ok := c.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the remote tier and the backend.
func (c *Cache) Close() error {
	var errs []error
	if c.remote != nil {
		if err := c.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
