package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// CacheStore implements discovery.Cache on a SQLite database.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore wraps db. Close closes db.
func NewCacheStore(db *sql.DB) (*CacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &CacheStore{db: db}, nil
}

const entryColumns = `district, season_year, competition_id, sub_endpoint, status, match_count,
	display_name, district_name, last_checked, attempt_count, session_id`

// keepStatus is true when the observation must not replace the stored status.
const keepStatus = `(excluded.status = 'unresolved' OR (c.status = 'confirmed_absent' AND excluded.status = 'transient_error'))`

var upsertSQL = `
	INSERT INTO discovery_cache AS c (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	ON CONFLICT (district, season_year, competition_id, sub_endpoint) DO UPDATE SET
		status        = CASE WHEN ` + keepStatus + ` THEN c.status ELSE excluded.status END,
		match_count   = CASE WHEN ` + keepStatus + ` THEN c.match_count ELSE excluded.match_count END,
		display_name  = CASE WHEN ` + keepStatus + ` THEN c.display_name ELSE excluded.display_name END,
		district_name = CASE WHEN (` + keepStatus + `) OR excluded.district_name = '' THEN c.district_name ELSE excluded.district_name END,
		last_checked  = excluded.last_checked,
		attempt_count = c.attempt_count + 1,
		session_id    = excluded.session_id
	WHERE c.status <> 'confirmed_exists'
	RETURNING ` + entryColumns

// Upsert merges obs into discovery_cache and returns the stored row.
func (s *CacheStore) Upsert(ctx context.Context, obs discovery.Observation) (discovery.CacheEntry, error) {
	if err := obs.Key.Validate(); err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", err)
	}
	k := obs.Key
	row := s.db.QueryRowContext(ctx, upsertSQL,
		k.District, k.SeasonYear, k.CompetitionID, k.SubEndpoint,
		string(obs.Status), obs.Metadata.MatchCount, obs.Metadata.DisplayName, obs.Metadata.DistrictName,
		toNanos(obs.CheckedAt), obs.SessionID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.Lookup(ctx, k)
	}
	if err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", err)
	}
	return entry, nil
}

// Lookup returns the row for key or discovery.ErrNotFound.
func (s *CacheStore) Lookup(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM discovery_cache
		WHERE district = ? AND season_year = ? AND competition_id = ? AND sub_endpoint = ?`,
		key.District, key.SeasonYear, key.CompetitionID, key.SubEndpoint)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return discovery.CacheEntry{}, discovery.ErrNotFound
	}
	if err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("lookup", err)
	}
	return entry, nil
}

// Query returns rows matching filter in key order.
func (s *CacheStore) Query(ctx context.Context, filter discovery.QueryFilter) ([]discovery.CacheEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.District != "" {
		where = append(where, "district = ?")
		args = append(args, filter.District)
	}
	if filter.SeasonFrom > 0 {
		where = append(where, "season_year >= ?")
		args = append(args, filter.SeasonFrom)
	}
	if filter.SeasonTo > 0 {
		where = append(where, "season_year <= ?")
		args = append(args, filter.SeasonTo)
	}
	if filter.MinMatchCount > 0 {
		where = append(where, "match_count >= ?")
		args = append(args, filter.MinMatchCount)
	}
	if len(filter.Statuses) > 0 {
		clause, statusArgs := inClause("status", filter.Statuses)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}

	var b strings.Builder
	b.WriteString("SELECT " + entryColumns + " FROM discovery_cache")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY season_year DESC, competition_id ASC, sub_endpoint ASC, district ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, discovery.NewStorageError("query", err)
	}
	defer func() { _ = rows.Close() }()

	var out []discovery.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, discovery.NewStorageError("query scan", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, discovery.NewStorageError("query rows", err)
	}
	return out, nil
}

// EvictStale deletes rows in statuses last checked before olderThan.
func (s *CacheStore) EvictStale(ctx context.Context, olderThan time.Time, statuses []discovery.Status) (int64, error) {
	if err := discovery.CheckEvictable(statuses); err != nil {
		return 0, err
	}
	clause, args := inClause("status", statuses)
	args = append([]any{toNanos(olderThan)}, args...)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM discovery_cache WHERE last_checked < ? AND `+clause+` AND status <> 'confirmed_exists'`,
		args...)
	if err != nil {
		return 0, discovery.NewStorageError("evict", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, discovery.NewStorageError("evict", err)
	}
	return n, nil
}

// Stats counts rows per status.
func (s *CacheStore) Stats(ctx context.Context) (map[discovery.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM discovery_cache GROUP BY status`)
	if err != nil {
		return nil, discovery.NewStorageError("stats", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[discovery.Status]int64, 4)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, discovery.NewStorageError("stats scan", err)
		}
		out[discovery.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, discovery.NewStorageError("stats rows", err)
	}
	return out, nil
}

// Ping checks the database handle.
func (s *CacheStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *CacheStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func inClause(column string, statuses []discovery.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (discovery.CacheEntry, error) {
	var (
		e       discovery.CacheEntry
		status  string
		checked int64
	)
	err := row.Scan(
		&e.Key.District,
		&e.Key.SeasonYear,
		&e.Key.CompetitionID,
		&e.Key.SubEndpoint,
		&status,
		&e.MatchCount,
		&e.DisplayName,
		&e.DistrictName,
		&checked,
		&e.AttemptCount,
		&e.SessionID,
	)
	if err != nil {
		return discovery.CacheEntry{}, err
	}
	e.Status = discovery.Status(status)
	e.LastChecked = fromNanos(checked)
	return e, nil
}
