package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

var entryCols = []string{
	"district", "season_year", "competition_id", "sub_endpoint", "status", "match_count",
	"display_name", "district_name", "last_checked", "attempt_count", "session_id",
}

func newMockCache(t *testing.T) (*CacheStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewCacheStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCacheStoreUpsertReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	key := keyspace.New("A", 2018, 1701, "")
	obs := discovery.Observation{
		Key:       key,
		Status:    discovery.StatusConfirmedExists,
		Metadata:  discovery.Metadata{MatchCount: 12, DisplayName: "Spring Open", DistrictName: "Alpha"},
		CheckedAt: now,
		SessionID: "s1",
	}

	mock.ExpectQuery("INSERT INTO discovery_cache").
		WithArgs("A", 2018, 1701, "default", "confirmed_exists", 12, "Spring Open", "Alpha", now, "s1").
		WillReturnRows(pgxmock.NewRows(entryCols).
			AddRow("A", 2018, 1701, "default", "confirmed_exists", 12, "Spring Open", "Alpha", now, 2, "s1"))

	entry, err := store.Upsert(context.Background(), obs)
	require.NoError(t, err)
	require.Equal(t, discovery.CacheEntry{
		Key:          key,
		Status:       discovery.StatusConfirmedExists,
		MatchCount:   12,
		DisplayName:  "Spring Open",
		DistrictName: "Alpha",
		LastChecked:  now,
		AttemptCount: 2,
		SessionID:    "s1",
	}, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreUpsertConfirmedRowFallsBackToLookup(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	earlier := now.Add(-time.Hour)
	key := keyspace.New("A", 2018, 1701, "")

	mock.ExpectQuery("INSERT INTO discovery_cache").
		WithArgs("A", 2018, 1701, "default", "confirmed_absent", 0, "", "", now, "s2").
		WillReturnRows(pgxmock.NewRows(entryCols))
	mock.ExpectQuery("SELECT .* FROM discovery_cache").
		WithArgs("A", 2018, 1701, "default").
		WillReturnRows(pgxmock.NewRows(entryCols).
			AddRow("A", 2018, 1701, "default", "confirmed_exists", 9, "", "", earlier, 1, "s1"))

	entry, err := store.Upsert(context.Background(), discovery.Observation{
		Key:       key,
		Status:    discovery.StatusConfirmedAbsent,
		CheckedAt: now,
		SessionID: "s2",
	})
	require.NoError(t, err)
	require.Equal(t, discovery.StatusConfirmedExists, entry.Status)
	require.Equal(t, earlier, entry.LastChecked)
	require.Equal(t, "s1", entry.SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreUpsertWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	mock.ExpectQuery("INSERT INTO discovery_cache").WillReturnError(errors.New("connection reset"))

	_, err := store.Upsert(context.Background(), discovery.Observation{
		Key:    keyspace.New("A", 2018, 1, ""),
		Status: discovery.StatusUnresolved,
	})
	require.True(t, discovery.IsStorage(err))

	_, err = store.Upsert(context.Background(), discovery.Observation{Status: discovery.StatusUnresolved})
	require.True(t, discovery.IsStorage(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreLookupNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	mock.ExpectQuery("SELECT .* FROM discovery_cache").
		WithArgs("B", 2019, 4, "default").
		WillReturnRows(pgxmock.NewRows(entryCols))

	_, err := store.Lookup(context.Background(), keyspace.New("B", 2019, 4, ""))
	require.ErrorIs(t, err, discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	query, args := buildQuery(discovery.QueryFilter{})
	require.NotContains(t, query, "WHERE")
	require.NotContains(t, query, "LIMIT")
	require.Contains(t, query, "ORDER BY season_year DESC, competition_id ASC")
	require.Empty(t, args)

	query, args = buildQuery(discovery.QueryFilter{
		District:      "A",
		SeasonFrom:    2015,
		SeasonTo:      2019,
		MinMatchCount: 6,
		Statuses:      []discovery.Status{discovery.StatusConfirmedExists},
		Limit:         10,
	})
	require.Contains(t, query,
		"WHERE district = $1 AND season_year >= $2 AND season_year <= $3 AND match_count >= $4 AND status = ANY($5)")
	require.Contains(t, query, "LIMIT $6")
	require.Equal(t, []any{"A", 2015, 2019, 6, []string{"confirmed_exists"}, 10}, args)
}

func TestCacheStoreQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("SELECT .* FROM discovery_cache WHERE district = \\$1").
		WithArgs("A", []string{"confirmed_exists"}).
		WillReturnRows(pgxmock.NewRows(entryCols).
			AddRow("A", 2018, 2, "default", "confirmed_exists", 8, "", "", now, 1, "s1").
			AddRow("A", 2017, 5, "default", "confirmed_exists", 11, "", "", now, 3, "s1"))

	got, err := store.Query(context.Background(), discovery.QueryFilter{
		District: "A",
		Statuses: []discovery.Status{discovery.StatusConfirmedExists},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "A/2018/2/default", got[0].Key.String())
	require.Equal(t, 3, got[1].AttemptCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreEvictStale(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	cutoff := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.EvictStale(context.Background(), cutoff, []discovery.Status{discovery.StatusConfirmedExists})
	require.ErrorIs(t, err, discovery.ErrEvictConfirmed)

	mock.ExpectExec("DELETE FROM discovery_cache").
		WithArgs(cutoff, []string{"confirmed_absent", "transient_error"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := store.EvictStale(context.Background(), cutoff, discovery.DefaultEvictable())
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheStoreStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockCache(t)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("confirmed_exists", int64(3)).
			AddRow("confirmed_absent", int64(7)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[discovery.Status]int64{
		discovery.StatusConfirmedExists: 3,
		discovery.StatusConfirmedAbsent: 7,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS discovery_cache").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS discovery_cache_status_checked_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_sessions").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS crawl_sessions_state_updated_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoresRequirePool(t *testing.T) {
	t.Parallel()

	_, err := NewCacheStore(nil)
	require.Error(t, err)
	_, err = NewSessionStore(nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
