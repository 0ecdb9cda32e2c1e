// Package sqlite provides single-file discovery cache and session stores
// backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS discovery_cache (
	district       TEXT    NOT NULL,
	season_year    INTEGER NOT NULL,
	competition_id INTEGER NOT NULL,
	sub_endpoint   TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	match_count    INTEGER NOT NULL DEFAULT 0,
	display_name   TEXT    NOT NULL DEFAULT '',
	district_name  TEXT    NOT NULL DEFAULT '',
	last_checked   INTEGER NOT NULL,
	attempt_count  INTEGER NOT NULL DEFAULT 1,
	session_id     TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (district, season_year, competition_id, sub_endpoint)
);
CREATE INDEX IF NOT EXISTS discovery_cache_status_checked_idx
	ON discovery_cache (status, last_checked);
CREATE TABLE IF NOT EXISTS crawl_sessions (
	session_id       TEXT PRIMARY KEY,
	label            TEXT    NOT NULL DEFAULT '',
	started_at       INTEGER NOT NULL,
	completed_at     INTEGER,
	updated_at       INTEGER NOT NULL,
	state            TEXT    NOT NULL,
	error_message    TEXT    NOT NULL DEFAULT '',
	tested           INTEGER NOT NULL DEFAULT 0,
	confirmed_exist  INTEGER NOT NULL DEFAULT 0,
	confirmed_absent INTEGER NOT NULL DEFAULT 0,
	errored          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS crawl_sessions_state_updated_idx
	ON crawl_sessions (state, updated_at);
`

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Timestamps are stored as UTC unix nanoseconds so range comparisons are numeric.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
