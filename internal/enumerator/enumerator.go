// Package enumerator produces the deterministic stream of candidate keys
// a crawl run should probe.
package enumerator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Policy kinds.
const (
	KindList   = "list"
	KindRange  = "range"
	KindExpand = "expand"
)

// Policy decides which competition ids to try for one district/season.
type Policy struct {
	Kind    string
	Anchors []int
	Radius  int
	RangeLo int
	RangeHi int
	Window  int
}

// Plan bounds one run.
type Plan struct {
	Districts    []string
	SeasonStart  int
	SeasonEnd    int
	SubEndpoints []string
	// PolicyFor returns the policy for one district and season. Required.
	PolicyFor   func(district string, season int) Policy
	MaxAttempts int
	// MaxKeys caps emitted keys; 0 means unlimited.
	MaxKeys int
}

// Candidate is an emitted key and its prior cache row, if any.
type Candidate struct {
	Key   keyspace.CandidateKey
	Prior *discovery.CacheEntry
}

// Stream yields candidates lazily, one season at a time, newest first.
// It only reads the cache. Not safe for concurrent use.
type Stream struct {
	cache  discovery.Cache
	plan   Plan
	logger *zap.Logger

	season  int
	batch   []keyspace.CandidateKey
	pos     int
	emitted int
	skipped int
	done    bool
}

// New validates plan and returns a stream positioned before the first key.
func New(cache discovery.Cache, plan Plan, logger *zap.Logger) (*Stream, error) {
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if plan.PolicyFor == nil {
		return nil, errors.New("policy lookup is required")
	}
	if plan.SeasonStart <= 0 || plan.SeasonStart > plan.SeasonEnd {
		return nil, fmt.Errorf("invalid season range %d..%d", plan.SeasonStart, plan.SeasonEnd)
	}
	if len(plan.Districts) == 0 {
		return nil, errors.New("at least one district is required")
	}
	if len(plan.SubEndpoints) == 0 {
		plan.SubEndpoints = []string{keyspace.DefaultSubEndpoint}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		cache:  cache,
		plan:   plan,
		logger: logger.Named("enumerator"),
		season: plan.SeasonEnd,
	}, nil
}

// Next returns the next key to probe. ok is false when the stream is
// exhausted or max_keys was reached.
func (s *Stream) Next(ctx context.Context) (Candidate, bool, error) {
	for !s.done {
		if s.plan.MaxKeys > 0 && s.emitted >= s.plan.MaxKeys {
			s.done = true
			break
		}
		if err := ctx.Err(); err != nil {
			return Candidate{}, false, fmt.Errorf("enumerate: %w", err)
		}
		if s.pos >= len(s.batch) {
			if s.season < s.plan.SeasonStart {
				s.done = true
				break
			}
			batch, err := s.seasonKeys(ctx, s.season)
			if err != nil {
				return Candidate{}, false, err
			}
			s.batch, s.pos = batch, 0
			s.season--
			continue
		}

		key := s.batch[s.pos]
		s.pos++
		prior, err := s.lookup(ctx, key)
		if err != nil {
			return Candidate{}, false, err
		}
		if !discovery.ShouldProbe(prior, s.plan.MaxAttempts) {
			s.skipped++
			continue
		}
		s.emitted++
		return Candidate{Key: key, Prior: prior}, true, nil
	}
	return Candidate{}, false, nil
}

// Emitted returns how many keys Next has returned.
func (s *Stream) Emitted() int { return s.emitted }

// Skipped returns how many keys the skip rule suppressed.
func (s *Stream) Skipped() int { return s.skipped }

func (s *Stream) lookup(ctx context.Context, key keyspace.CandidateKey) (*discovery.CacheEntry, error) {
	entry, err := s.cache.Lookup(ctx, key)
	if errors.Is(err, discovery.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enumerate lookup %s: %w", key, err)
	}
	return &entry, nil
}

// seasonKeys builds the sorted, de-duplicated candidate set for one season.
func (s *Stream) seasonKeys(ctx context.Context, season int) ([]keyspace.CandidateKey, error) {
	var keys []keyspace.CandidateKey
	for _, district := range s.plan.Districts {
		ids, err := s.ids(ctx, district, season, s.plan.PolicyFor(district, season))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			for _, sub := range s.plan.SubEndpoints {
				keys = append(keys, keyspace.New(district, season, id, sub))
			}
		}
	}
	keys = keyspace.Sort(keys)
	s.logger.Debug("season candidates built", zap.Int("season", season), zap.Int("candidates", len(keys)))
	return keys, nil
}

func (s *Stream) ids(ctx context.Context, district string, season int, p Policy) ([]int, error) {
	switch p.Kind {
	case KindRange:
		if p.RangeHi > 0 {
			return span(p.RangeLo, p.RangeHi), nil
		}
		var out []int
		for _, a := range p.Anchors {
			out = append(out, span(a-p.Radius, a+p.Radius)...)
		}
		return out, nil
	case KindExpand:
		top, err := s.highestConfirmed(ctx, district, season)
		if err != nil {
			return nil, err
		}
		if top < 0 {
			return p.Anchors, nil
		}
		return span(top+1, top+p.Window), nil
	default:
		return p.Anchors, nil
	}
}

// highestConfirmed returns the largest ConfirmedExists id, or -1.
func (s *Stream) highestConfirmed(ctx context.Context, district string, season int) (int, error) {
	rows, err := s.cache.Query(ctx, discovery.QueryFilter{
		District:   district,
		SeasonFrom: season,
		SeasonTo:   season,
		Statuses:   []discovery.Status{discovery.StatusConfirmedExists},
	})
	if err != nil {
		return -1, fmt.Errorf("enumerate expand %s/%d: %w", district, season, err)
	}
	top := -1
	for _, r := range rows {
		top = max(top, r.Key.CompetitionID)
	}
	return top, nil
}

// span returns lo..hi inclusive, clamped to ids >= 1.
func span(lo, hi int) []int {
	lo = max(lo, 1)
	if hi < lo {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		out = append(out, id)
	}
	return out
}
