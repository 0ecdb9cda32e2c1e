// Package session maintains crawl_sessions bookkeeping for a run.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Tracker creates sessions, records probe outcomes and closes runs.
type Tracker struct {
	store  discovery.SessionStore
	ids    discovery.IDGenerator
	clock  discovery.Clock
	logger *zap.Logger
}

// New returns a Tracker.
func New(store discovery.SessionStore, ids discovery.IDGenerator, clock discovery.Clock, logger *zap.Logger) (*Tracker, error) {
	if store == nil || ids == nil || clock == nil {
		return nil, errors.New("session store, id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, ids: ids, clock: clock, logger: logger.Named("session")}, nil
}

// Start creates a running session and returns it.
func (t *Tracker) Start(ctx context.Context, label string) (discovery.CrawlSession, error) {
	id, err := t.ids.NewID()
	if err != nil {
		return discovery.CrawlSession{}, fmt.Errorf("start session: %w", err)
	}
	now := t.clock.Now()
	s := discovery.CrawlSession{
		ID:        id,
		Label:     label,
		StartedAt: now,
		UpdatedAt: now,
		State:     discovery.SessionRunning,
	}
	if err := t.store.CreateSession(ctx, s); err != nil {
		return discovery.CrawlSession{}, fmt.Errorf("start session: %w", err)
	}
	t.logger.Info("session started", zap.String("session_id", id), zap.String("label", label))
	return s, nil
}

// RecordOutcome counts one completed probe and refreshes the heartbeat.
func (t *Tracker) RecordOutcome(ctx context.Context, sessionID string, status discovery.Status) error {
	if err := t.store.IncrementCounters(ctx, sessionID, discovery.CountersFor(status), t.clock.Now()); err != nil {
		return fmt.Errorf("record outcome for %s: %w", sessionID, err)
	}
	return nil
}

// Complete writes the terminal state. cause may be nil.
func (t *Tracker) Complete(ctx context.Context, sessionID string, state discovery.SessionState, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := t.store.CompleteSession(ctx, sessionID, state, msg, t.clock.Now())
	if errors.Is(err, discovery.ErrSessionClosed) {
		t.logger.Warn("session already closed, keeping stored state",
			zap.String("session_id", sessionID), zap.String("state", string(state)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	fields := []zap.Field{zap.String("session_id", sessionID), zap.String("state", string(state))}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	t.logger.Info("session completed", fields...)
	return nil
}

// ReapAbandoned marks running sessions silent for longer than threshold.
func (t *Tracker) ReapAbandoned(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		return 0, nil
	}
	n, err := t.store.MarkAbandoned(ctx, t.clock.Now().Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("reap abandoned sessions: %w", err)
	}
	if n > 0 {
		t.logger.Warn("abandoned sessions reaped", zap.Int64("count", n), zap.Duration("threshold", threshold))
	}
	return n, nil
}

// Get loads a session.
func (t *Tracker) Get(ctx context.Context, sessionID string) (discovery.CrawlSession, error) {
	return t.store.GetSession(ctx, sessionID)
}

// List returns recent sessions, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]discovery.CrawlSession, error) {
	return t.store.ListSessions(ctx, limit)
}
