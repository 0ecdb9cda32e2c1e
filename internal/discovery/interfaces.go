package discovery

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Cache persists CacheEntry rows keyed uniquely by CandidateKey.
type Cache interface {
	// Upsert merges obs into the stored row and returns the resulting row.
	Upsert(ctx context.Context, obs Observation) (CacheEntry, error)
	// Lookup returns the row for key or ErrNotFound.
	Lookup(ctx context.Context, key keyspace.CandidateKey) (CacheEntry, error)
	// Query returns rows matching filter in key order.
	Query(ctx context.Context, filter QueryFilter) ([]CacheEntry, error)
	// EvictStale deletes rows in statuses last checked before olderThan.
	EvictStale(ctx context.Context, olderThan time.Time, statuses []Status) (int64, error)
	// Stats counts rows per status.
	Stats(ctx context.Context) (map[Status]int64, error)
	Close() error
}

// SessionStore persists crawl_sessions rows.
type SessionStore interface {
	CreateSession(ctx context.Context, session CrawlSession) error
	IncrementCounters(ctx context.Context, sessionID string, delta Counters, at time.Time) error
	// CompleteSession closes a running session. A session in any other state
	// is left untouched and ErrSessionClosed is returned.
	CompleteSession(ctx context.Context, sessionID string, state SessionState, errMsg string, at time.Time) error
	// MarkAbandoned flags running sessions whose heartbeat predates cutoff.
	MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error)
	GetSession(ctx context.Context, sessionID string) (CrawlSession, error)
	ListSessions(ctx context.Context, limit int) ([]CrawlSession, error)
}

// Prober performs one HTTP request per key.
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest) (ProbeResult, error)
}

// Classifier decides whether a successful body holds real data.
type Classifier interface {
	Classify(body []byte, contentType string) Verdict
}

// Archive stores raw bodies of confirmed pages and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes discovery notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes body digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
