package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

var sessionCols = []string{
	"session_id", "label", "started_at", "completed_at", "updated_at", "state", "error_message",
	"tested", "confirmed_exist", "confirmed_absent", "errored",
}

func newMockSessions(t *testing.T) (*SessionStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewSessionStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestSessionStoreCreateAndIncrement(t *testing.T) {
	t.Parallel()

	store, mock := newMockSessions(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs("s1", "nightly", now, now, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs("s1", int64(1), int64(1), int64(0), int64(0), now.Add(time.Second)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs("missing", int64(1), int64(0), int64(0), int64(1), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, discovery.CrawlSession{
		ID:        "s1",
		Label:     "nightly",
		StartedAt: now,
		UpdatedAt: now,
		State:     discovery.SessionRunning,
	}))
	require.NoError(t, store.IncrementCounters(ctx, "s1",
		discovery.CountersFor(discovery.StatusConfirmedExists), now.Add(time.Second)))
	require.ErrorIs(t, store.IncrementCounters(ctx, "missing",
		discovery.CountersFor(discovery.StatusTransientError), now), discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreCompleteAndReap(t *testing.T) {
	t.Parallel()

	store, mock := newMockSessions(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs("s1", "cancelled", "context canceled", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE crawl_sessions SET state = 'abandoned'").
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	ctx := context.Background()
	require.NoError(t, store.CompleteSession(ctx, "s1", discovery.SessionCancelled, "context canceled", now))
	n, err := store.MarkAbandoned(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreCompleteKeepsClosedSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockSessions(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	mock.ExpectExec(`WHERE session_id = \$1 AND state = 'running'`).
		WithArgs("s1", "completed", "", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT state FROM crawl_sessions").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("abandoned"))
	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs("ghost", "completed", "", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT state FROM crawl_sessions").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"state"}))

	ctx := context.Background()
	require.ErrorIs(t, store.CompleteSession(ctx, "s1", discovery.SessionCompleted, "", now), discovery.ErrSessionClosed)
	require.ErrorIs(t, store.CompleteSession(ctx, "ghost", discovery.SessionCompleted, "", now), discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStoreGetAndList(t *testing.T) {
	t.Parallel()

	store, mock := newMockSessions(t)
	started := time.Unix(1_700_000_000, 0).UTC()
	completed := started.Add(time.Hour)

	mock.ExpectQuery("SELECT .* FROM crawl_sessions WHERE session_id").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow("s1", "nightly", started, &completed, completed, "completed", "",
				int64(10), int64(2), int64(7), int64(1)))
	mock.ExpectQuery("SELECT .* FROM crawl_sessions WHERE session_id").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(sessionCols))
	mock.ExpectQuery("SELECT .* FROM crawl_sessions").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow("s2", "", started.Add(2*time.Hour), (*time.Time)(nil), started.Add(2*time.Hour), "running", "",
				int64(0), int64(0), int64(0), int64(0)).
			AddRow("s1", "nightly", started, &completed, completed, "completed", "",
				int64(10), int64(2), int64(7), int64(1)))

	ctx := context.Background()
	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, discovery.SessionCompleted, got.State)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, completed, *got.CompletedAt)
	require.EqualValues(t, 10, got.Tested)
	require.True(t, discovery.Counters{
		Tested: got.Tested, ConfirmedExist: got.ConfirmedExist,
		ConfirmedAbsent: got.ConfirmedAbsent, Errored: got.Errored,
	}.Balanced())

	_, err = store.GetSession(ctx, "nope")
	require.ErrorIs(t, err, discovery.ErrNotFound)

	list, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s2", list[0].ID)
	require.Nil(t, list[0].CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
