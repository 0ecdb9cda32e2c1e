package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// SessionStore keeps crawl sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]discovery.CrawlSession
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]discovery.CrawlSession)}
}

// CreateSession stores a new running session.
func (s *SessionStore) CreateSession(_ context.Context, session discovery.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return discovery.NewStorageError("create session", errors.New("session already exists"))
	}
	s.sessions[session.ID] = session
	return nil
}

// IncrementCounters adds delta to the session counters and bumps the heartbeat.
func (s *SessionStore) IncrementCounters(_ context.Context, sessionID string, delta discovery.Counters, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return discovery.ErrNotFound
	}
	session.Tested += delta.Tested
	session.ConfirmedExist += delta.ConfirmedExist
	session.ConfirmedAbsent += delta.ConfirmedAbsent
	session.Errored += delta.Errored
	session.UpdatedAt = at
	s.sessions[sessionID] = session
	return nil
}

// CompleteSession records the terminal state.
func (s *SessionStore) CompleteSession(
	_ context.Context,
	sessionID string,
	state discovery.SessionState,
	errMsg string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return discovery.ErrNotFound
	}
	if session.State != discovery.SessionRunning {
		return discovery.ErrSessionClosed
	}
	session.State = state
	session.ErrorMessage = errMsg
	session.CompletedAt = pointerTime(at)
	session.UpdatedAt = at
	s.sessions[sessionID] = session
	return nil
}

// MarkAbandoned flags stale running sessions.
func (s *SessionStore) MarkAbandoned(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.State == discovery.SessionRunning && session.UpdatedAt.Before(cutoff) {
			session.State = discovery.SessionAbandoned
			s.sessions[id] = session
			n++
		}
	}
	return n, nil
}

// GetSession returns a session by id.
func (s *SessionStore) GetSession(_ context.Context, sessionID string) (discovery.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return discovery.CrawlSession{}, discovery.ErrNotFound
	}
	return session, nil
}

// ListSessions returns sessions newest first.
func (s *SessionStore) ListSessions(_ context.Context, limit int) ([]discovery.CrawlSession, error) {
	s.mu.RLock()
	out := make([]discovery.CrawlSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b discovery.CrawlSession) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
