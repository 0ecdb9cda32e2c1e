package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// SessionStore implements discovery.SessionStore on crawl_sessions. It shares
// the pool owned by CacheStore and never closes it.
type SessionStore struct {
	db DB
}

// NewSessionStore wraps db.
func NewSessionStore(db DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{db: db}, nil
}

const sessionColumns = `session_id, label, started_at, completed_at, updated_at, state, error_message,
	tested, confirmed_exist, confirmed_absent, errored`

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, session discovery.CrawlSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crawl_sessions (session_id, label, started_at, updated_at, state)
		VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.Label, session.StartedAt, session.UpdatedAt, string(session.State))
	if err != nil {
		return discovery.NewStorageError("create session", err)
	}
	return nil
}

// IncrementCounters applies delta and bumps the heartbeat in one statement.
func (s *SessionStore) IncrementCounters(ctx context.Context, sessionID string, delta discovery.Counters, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_sessions
		SET tested = tested + $2,
			confirmed_exist = confirmed_exist + $3,
			confirmed_absent = confirmed_absent + $4,
			errored = errored + $5,
			updated_at = $6
		WHERE session_id = $1`,
		sessionID, delta.Tested, delta.ConfirmedExist, delta.ConfirmedAbsent, delta.Errored, at)
	if err != nil {
		return discovery.NewStorageError("increment session", err)
	}
	if tag.RowsAffected() == 0 {
		return discovery.ErrNotFound
	}
	return nil
}

// CompleteSession records the terminal state and completion time of a
// running session.
func (s *SessionStore) CompleteSession(
	ctx context.Context,
	sessionID string,
	state discovery.SessionState,
	errMsg string,
	at time.Time,
) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_sessions
		SET state = $2, error_message = $3, completed_at = $4, updated_at = $4
		WHERE session_id = $1 AND state = 'running'`,
		sessionID, string(state), errMsg, at)
	if err != nil {
		return discovery.NewStorageError("complete session", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRow(ctx, `SELECT state FROM crawl_sessions WHERE session_id = $1`, sessionID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return discovery.ErrNotFound
	case err != nil:
		return discovery.NewStorageError("complete session", err)
	default:
		return discovery.ErrSessionClosed
	}
}

// MarkAbandoned flags running sessions whose heartbeat predates cutoff.
func (s *SessionStore) MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_sessions SET state = 'abandoned'
		WHERE state = 'running' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, discovery.NewStorageError("reap sessions", err)
	}
	return tag.RowsAffected(), nil
}

// GetSession loads one session or returns discovery.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (discovery.CrawlSession, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.CrawlSession{}, discovery.ErrNotFound
	}
	if err != nil {
		return discovery.CrawlSession{}, discovery.NewStorageError("get session", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions first.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]discovery.CrawlSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions
		ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, discovery.NewStorageError("list sessions", err)
	}
	defer rows.Close()

	var out []discovery.CrawlSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, discovery.NewStorageError("list sessions scan", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, discovery.NewStorageError("list sessions rows", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (discovery.CrawlSession, error) {
	var (
		s     discovery.CrawlSession
		state string
	)
	err := row.Scan(
		&s.ID,
		&s.Label,
		&s.StartedAt,
		&s.CompletedAt,
		&s.UpdatedAt,
		&state,
		&s.ErrorMessage,
		&s.Tested,
		&s.ConfirmedExist,
		&s.ConfirmedAbsent,
		&s.Errored,
	)
	if err != nil {
		return discovery.CrawlSession{}, err
	}
	s.State = discovery.SessionState(state)
	return s, nil
}
