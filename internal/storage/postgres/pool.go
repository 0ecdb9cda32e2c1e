// Package postgres provides Postgres-backed discovery cache and session stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use; pgxmock satisfies it.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS discovery_cache (
		district       TEXT        NOT NULL,
		season_year    INTEGER     NOT NULL,
		competition_id INTEGER     NOT NULL,
		sub_endpoint   TEXT        NOT NULL,
		status         TEXT        NOT NULL,
		match_count    INTEGER     NOT NULL DEFAULT 0,
		display_name   TEXT        NOT NULL DEFAULT '',
		district_name  TEXT        NOT NULL DEFAULT '',
		last_checked   TIMESTAMPTZ NOT NULL,
		attempt_count  INTEGER     NOT NULL DEFAULT 1,
		session_id     TEXT        NOT NULL DEFAULT '',
		PRIMARY KEY (district, season_year, competition_id, sub_endpoint)
	)`,
	`CREATE INDEX IF NOT EXISTS discovery_cache_status_checked_idx
		ON discovery_cache (status, last_checked)`,
	`CREATE TABLE IF NOT EXISTS crawl_sessions (
		session_id       TEXT PRIMARY KEY,
		label            TEXT        NOT NULL DEFAULT '',
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL,
		state            TEXT        NOT NULL,
		error_message    TEXT        NOT NULL DEFAULT '',
		tested           BIGINT      NOT NULL DEFAULT 0,
		confirmed_exist  BIGINT      NOT NULL DEFAULT 0,
		confirmed_absent BIGINT      NOT NULL DEFAULT 0,
		errored          BIGINT      NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS crawl_sessions_state_updated_idx
		ON crawl_sessions (state, updated_at)`,
}

// Migrate creates the tables and indexes if they are missing.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
