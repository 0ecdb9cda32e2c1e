// Package memory provides in-process implementations for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Cache is an in-memory discovery.Cache. A single mutex serialises writers,
// which gives the same per-key guarantees as the SQL upserts.
type Cache struct {
	mu      sync.RWMutex
	entries map[keyspace.CandidateKey]discovery.CacheEntry
	// failUpserts makes Upsert return an error, for exercising abort paths.
	failUpserts bool
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[keyspace.CandidateKey]discovery.CacheEntry)}
}

// SetFailUpserts toggles injected write failures.
func (c *Cache) SetFailUpserts(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failUpserts = fail
}

// Upsert merges obs into the stored entry.
func (c *Cache) Upsert(_ context.Context, obs discovery.Observation) (discovery.CacheEntry, error) {
	if err := obs.Key.Validate(); err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failUpserts {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", fmt.Errorf("injected failure for %s", obs.Key))
	}
	var existing *discovery.CacheEntry
	if cur, ok := c.entries[obs.Key]; ok {
		existing = &cur
	}
	next, changed := discovery.Merge(existing, obs)
	if changed {
		c.entries[obs.Key] = next
	}
	return next, nil
}

// Lookup returns the entry for key or discovery.ErrNotFound.
func (c *Cache) Lookup(_ context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return discovery.CacheEntry{}, discovery.ErrNotFound
	}
	return entry, nil
}

// Query returns matching entries in key order.
func (c *Cache) Query(_ context.Context, filter discovery.QueryFilter) ([]discovery.CacheEntry, error) {
	c.mu.RLock()
	out := make([]discovery.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b discovery.CacheEntry) int {
		return keyspace.Compare(a.Key, b.Key)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// EvictStale removes entries in statuses checked before olderThan.
func (c *Cache) EvictStale(_ context.Context, olderThan time.Time, statuses []discovery.Status) (int64, error) {
	if err := discovery.CheckEvictable(statuses); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int64
	for key, e := range c.entries {
		if e.LastChecked.Before(olderThan) && slices.Contains(statuses, e.Status) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats counts entries per status.
func (c *Cache) Stats(_ context.Context) (map[discovery.Status]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[discovery.Status]int64, 4)
	for _, e := range c.entries {
		out[e.Status]++
	}
	return out, nil
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op.
func (c *Cache) Close() error { return nil }
