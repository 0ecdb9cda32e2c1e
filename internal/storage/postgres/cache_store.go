package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

// CacheStore implements discovery.Cache on the discovery_cache table.
type CacheStore struct {
	db DB
}

// NewCacheStore wraps db. Close closes db.
func NewCacheStore(db DB) (*CacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CacheStore{db: db}, nil
}

const entryColumns = `district, season_year, competition_id, sub_endpoint, status, match_count,
	display_name, district_name, last_checked, attempt_count, session_id`

// keepStatus is true when the observation must not replace the stored status:
// it is ambiguous, or transient over a ConfirmedAbsent row.
const keepStatus = `(EXCLUDED.status = 'unresolved' OR (c.status = 'confirmed_absent' AND EXCLUDED.status = 'transient_error'))`

// The WHERE clause makes confirmed_exists rows write-once; RETURNING then
// yields no row and the caller reads the stored row instead.
var upsertSQL = `
	INSERT INTO discovery_cache AS c (` + entryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
	ON CONFLICT (district, season_year, competition_id, sub_endpoint) DO UPDATE SET
		status        = CASE WHEN ` + keepStatus + ` THEN c.status ELSE EXCLUDED.status END,
		match_count   = CASE WHEN ` + keepStatus + ` THEN c.match_count ELSE EXCLUDED.match_count END,
		display_name  = CASE WHEN ` + keepStatus + ` THEN c.display_name ELSE EXCLUDED.display_name END,
		district_name = CASE WHEN (` + keepStatus + `) OR EXCLUDED.district_name = '' THEN c.district_name ELSE EXCLUDED.district_name END,
		last_checked  = EXCLUDED.last_checked,
		attempt_count = c.attempt_count + 1,
		session_id    = EXCLUDED.session_id
	WHERE c.status <> 'confirmed_exists'
	RETURNING ` + entryColumns

// Upsert merges obs into discovery_cache and returns the stored row.
func (s *CacheStore) Upsert(ctx context.Context, obs discovery.Observation) (discovery.CacheEntry, error) {
	if err := obs.Key.Validate(); err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", err)
	}
	k := obs.Key
	row := s.db.QueryRow(ctx, upsertSQL,
		k.District, k.SeasonYear, k.CompetitionID, k.SubEndpoint,
		string(obs.Status), obs.Metadata.MatchCount, obs.Metadata.DisplayName, obs.Metadata.DistrictName,
		obs.CheckedAt, obs.SessionID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Lookup(ctx, k)
	}
	if err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("upsert", err)
	}
	return entry, nil
}

// Lookup returns the row for key or discovery.ErrNotFound.
func (s *CacheStore) Lookup(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM discovery_cache
		WHERE district = $1 AND season_year = $2 AND competition_id = $3 AND sub_endpoint = $4`
	entry, err := scanEntry(s.db.QueryRow(ctx, query, key.District, key.SeasonYear, key.CompetitionID, key.SubEndpoint))
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.CacheEntry{}, discovery.ErrNotFound
	}
	if err != nil {
		return discovery.CacheEntry{}, discovery.NewStorageError("lookup", err)
	}
	return entry, nil
}

// Query returns rows matching filter in key order.
func (s *CacheStore) Query(ctx context.Context, filter discovery.QueryFilter) ([]discovery.CacheEntry, error) {
	query, args := buildQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, discovery.NewStorageError("query", err)
	}
	defer rows.Close()

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

func buildQuery(filter discovery.QueryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.District != "" {
		add("district = $%d", filter.District)
	}
	if filter.SeasonFrom > 0 {
		add("season_year >= $%d", filter.SeasonFrom)
	}
	if filter.SeasonTo > 0 {
		add("season_year <= $%d", filter.SeasonTo)
	}
	if filter.MinMatchCount > 0 {
		add("match_count >= $%d", filter.MinMatchCount)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", discovery.StatusStrings(filter.Statuses))
	}

	var b strings.Builder
	b.WriteString("SELECT " + entryColumns + " FROM discovery_cache")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY season_year DESC, competition_id ASC, sub_endpoint COLLATE "C" ASC, district COLLATE "C" ASC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// EvictStale deletes rows in statuses last checked before olderThan.
func (s *CacheStore) EvictStale(ctx context.Context, olderThan time.Time, statuses []discovery.Status) (int64, error) {
	if err := discovery.CheckEvictable(statuses); err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM discovery_cache
		WHERE last_checked < $1 AND status = ANY($2) AND status <> 'confirmed_exists'`,
		olderThan, discovery.StatusStrings(statuses))
	if err != nil {
		return 0, discovery.NewStorageError("evict", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts rows per status.
func (s *CacheStore) Stats(ctx context.Context) (map[discovery.Status]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM discovery_cache GROUP BY status`)
	if err != nil {
		return nil, discovery.NewStorageError("stats", err)
	}
	defer rows.Close()

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

// Ping checks connectivity for readiness probes.
func (s *CacheStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *CacheStore) Close() error {
	s.db.Close()
	return nil
}

func scanEntry(row pgx.Row) (discovery.CacheEntry, error) {
	var (
		e      discovery.CacheEntry
		status string
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
		&e.LastChecked,
		&e.AttemptCount,
		&e.SessionID,
	)
	if err != nil {
		return discovery.CacheEntry{}, err
	}
	e.Status = discovery.Status(status)
	return e, nil
}
