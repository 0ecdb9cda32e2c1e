// Package query is the read-only view of the discovery cache used by the
// extraction pipeline and the HTTP API.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Filter selects resolved entries. Zero values mean "no constraint".
type Filter struct {
	District      string
	SeasonFrom    int
	SeasonTo      int
	MinMatchCount int
	IncludeAbsent bool
	Limit         int
}

// Validate rejects inverted season ranges and negative bounds.
func (f Filter) Validate() error {
	if f.SeasonFrom < 0 || f.SeasonTo < 0 || f.MinMatchCount < 0 || f.Limit < 0 {
		return discovery.NewConfigError("filter", errors.New("bounds must not be negative"))
	}
	if f.SeasonFrom > 0 && f.SeasonTo > 0 && f.SeasonFrom > f.SeasonTo {
		return discovery.NewConfigError("filter", fmt.Errorf("season_from %d is after season_to %d", f.SeasonFrom, f.SeasonTo))
	}
	return nil
}

// Service answers read-only questions about the cache.
type Service struct {
	cache discovery.Cache
}

// New returns a Service over cache.
func New(cache discovery.Cache) (*Service, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	return &Service{cache: cache}, nil
}

// ListExisting returns ConfirmedExists entries (plus ConfirmedAbsent when
// asked) in key order. Unresolved and TransientError rows are never returned.
func (s *Service) ListExisting(ctx context.Context, f Filter) ([]discovery.CacheEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	statuses := []discovery.Status{discovery.StatusConfirmedExists}
	if f.IncludeAbsent {
		statuses = append(statuses, discovery.StatusConfirmedAbsent)
	}
	rows, err := s.cache.Query(ctx, discovery.QueryFilter{
		District:      f.District,
		SeasonFrom:    f.SeasonFrom,
		SeasonTo:      f.SeasonTo,
		MinMatchCount: f.MinMatchCount,
		Statuses:      statuses,
		Limit:         f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list existing: %w", err)
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

// Lookup returns the entry for key or discovery.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return discovery.CacheEntry{}, discovery.NewConfigError("key", err)
	}
	return s.cache.Lookup(ctx, key)
}

// Stats counts entries by status.
func (s *Service) Stats(ctx context.Context) (map[discovery.Status]int64, error) {
	return s.cache.Stats(ctx)
}
