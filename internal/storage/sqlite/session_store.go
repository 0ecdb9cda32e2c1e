package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// SessionStore implements discovery.SessionStore on crawl_sessions. The
// database handle is owned by CacheStore.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps db.
func NewSessionStore(db *sql.DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SessionStore{db: db}, nil
}

const sessionColumns = `session_id, label, started_at, completed_at, updated_at, state, error_message,
	tested, confirmed_exist, confirmed_absent, errored`

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, session discovery.CrawlSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_sessions (session_id, label, started_at, updated_at, state)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Label, toNanos(session.StartedAt), toNanos(session.UpdatedAt), string(session.State))
	if err != nil {
		return discovery.NewStorageError("create session", err)
	}
	return nil
}

// IncrementCounters applies delta and bumps the heartbeat.
func (s *SessionStore) IncrementCounters(ctx context.Context, sessionID string, delta discovery.Counters, at time.Time) error {
	return s.update(ctx, "increment session", `
		UPDATE crawl_sessions
		SET tested = tested + ?,
			confirmed_exist = confirmed_exist + ?,
			confirmed_absent = confirmed_absent + ?,
			errored = errored + ?,
			updated_at = ?
		WHERE session_id = ?`,
		delta.Tested, delta.ConfirmedExist, delta.ConfirmedAbsent, delta.Errored, toNanos(at), sessionID)
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
	err := s.update(ctx, "complete session", `
		UPDATE crawl_sessions
		SET state = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE session_id = ? AND state = 'running'`,
		string(state), errMsg, toNanos(at), toNanos(at), sessionID)
	if !errors.Is(err, discovery.ErrNotFound) {
		return err
	}
	var current string
	switch scanErr := s.db.QueryRowContext(ctx,
		`SELECT state FROM crawl_sessions WHERE session_id = ?`, sessionID).Scan(&current); {
	case errors.Is(scanErr, sql.ErrNoRows):
		return discovery.ErrNotFound
	case scanErr != nil:
		return discovery.NewStorageError("complete session", scanErr)
	default:
		return discovery.ErrSessionClosed
	}
}

func (s *SessionStore) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return discovery.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return discovery.NewStorageError(op, err)
	}
	if n == 0 {
		return discovery.ErrNotFound
	}
	return nil
}

// MarkAbandoned flags running sessions whose heartbeat predates cutoff.
func (s *SessionStore) MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_sessions SET state = 'abandoned'
		WHERE state = 'running' AND updated_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, discovery.NewStorageError("reap sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, discovery.NewStorageError("reap sessions", err)
	}
	return n, nil
}

// GetSession loads one session or returns discovery.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (discovery.CrawlSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, discovery.NewStorageError("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

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

func scanSession(row scanner) (discovery.CrawlSession, error) {
	var (
		s                discovery.CrawlSession
		state            string
		started, updated int64
		completed        sql.NullInt64
	)
	err := row.Scan(
		&s.ID,
		&s.Label,
		&started,
		&completed,
		&updated,
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
	s.StartedAt = fromNanos(started)
	s.UpdatedAt = fromNanos(updated)
	if completed.Valid {
		t := fromNanos(completed.Int64)
		s.CompletedAt = &t
	}
	return s, nil
}
