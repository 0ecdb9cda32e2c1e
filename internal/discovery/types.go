package discovery

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// Status is the resolution state of a cache entry.
type Status string

// Cache entry statuses persisted in discovery_cache.status.
const (
	StatusUnresolved      Status = "unresolved"
	StatusConfirmedExists Status = "confirmed_exists"
	StatusConfirmedAbsent Status = "confirmed_absent"
	StatusTransientError  Status = "transient_error"
)

// Terminal reports whether the status ends probing for a key.
func (s Status) Terminal() bool {
	return s == StatusConfirmedExists || s == StatusConfirmedAbsent
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnresolved, StatusConfirmedExists, StatusConfirmedAbsent, StatusTransientError:
		return true
	}
	return false
}

// ParseStatus accepts the persisted form of a status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Metadata is the lightweight information extracted while classifying a page.
type Metadata struct {
	MatchCount   int    `json:"match_count"`
	DisplayName  string `json:"display_name,omitempty"`
	DistrictName string `json:"district_name,omitempty"`
}

// CacheEntry is one row of the discovery cache.
type CacheEntry struct {
	Key          keyspace.CandidateKey `json:"key"`
	Status       Status                `json:"status"`
	MatchCount   int                   `json:"match_count"`
	DisplayName  string                `json:"display_name,omitempty"`
	DistrictName string                `json:"district_name,omitempty"`
	LastChecked  time.Time             `json:"last_checked"`
	AttemptCount int                   `json:"attempt_count"`
	// SessionID is the crawl session that last wrote the row.
	SessionID string `json:"session_id,omitempty"`
}

// Observation is a single probe result to be merged into the cache.
type Observation struct {
	Key       keyspace.CandidateKey
	Status    Status
	Metadata  Metadata
	CheckedAt time.Time
	SessionID string
}

// QueryFilter narrows Cache.Query. Zero values mean "no constraint".
type QueryFilter struct {
	District      string
	SeasonFrom    int
	SeasonTo      int
	MinMatchCount int
	Statuses      []Status
	Limit         int
}

// SessionState mirrors crawl_sessions.state.
type SessionState string

// Crawl session states.
const (
	SessionRunning       SessionState = "running"
	SessionCompleted     SessionState = "completed"
	SessionCancelled     SessionState = "cancelled"
	SessionAuthFailed    SessionState = "auth_failed"
	SessionStorageFailed SessionState = "storage_failed"
	SessionAbandoned     SessionState = "abandoned"
)

// CrawlSession is one enumerator run.
type CrawlSession struct {
	ID              string       `json:"session_id"`
	Label           string       `json:"label"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
	State           SessionState `json:"state"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	Tested          int64        `json:"tested"`
	ConfirmedExist  int64        `json:"confirmed_exist"`
	ConfirmedAbsent int64        `json:"confirmed_absent"`
	Errored         int64        `json:"errored"`
}

// Counters is an increment applied to a session row.
type Counters struct {
	Tested          int64
	ConfirmedExist  int64
	ConfirmedAbsent int64
	Errored         int64
}

// CountersFor returns the increment for one probe outcome.
func CountersFor(status Status) Counters {
	c := Counters{Tested: 1}
	switch status {
	case StatusConfirmedExists:
		c.ConfirmedExist = 1
	case StatusConfirmedAbsent:
		c.ConfirmedAbsent = 1
	default:
		c.Errored = 1
	}
	return c
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.Tested += other.Tested
	c.ConfirmedExist += other.ConfirmedExist
	c.ConfirmedAbsent += other.ConfirmedAbsent
	c.Errored += other.Errored
}

// Balanced reports whether tested equals the sum of the outcome buckets.
func (c Counters) Balanced() bool {
	return c.Tested == c.ConfirmedExist+c.ConfirmedAbsent+c.Errored
}

// ProbeRequest is everything the probe client needs for one key.
type ProbeRequest struct {
	Key        keyspace.CandidateKey
	Credential string
}

// ProbeResult is the raw transport-level outcome of a probe.
type ProbeResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Elapsed     time.Duration
}

// Verdict is the classifier decision for a body.
type Verdict struct {
	Status   Status
	Metadata Metadata
	// Signals lists the rule names that fired, for logs.
	Signals []string
}
