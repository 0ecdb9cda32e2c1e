// Package app initializes and holds long-lived services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/archive"
	"github.com/JakeFAU/competition-discovery/internal/clock"
	"github.com/JakeFAU/competition-discovery/internal/config"
	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/id/uuid"
	"github.com/JakeFAU/competition-discovery/internal/metrics"
	"github.com/JakeFAU/competition-discovery/internal/progress"
	"github.com/JakeFAU/competition-discovery/internal/progress/sinks"
	"github.com/JakeFAU/competition-discovery/internal/publisher/pubsub"
	"github.com/JakeFAU/competition-discovery/internal/session"
	"github.com/JakeFAU/competition-discovery/internal/storage/gcs"
	"github.com/JakeFAU/competition-discovery/internal/storage/local"
	"github.com/JakeFAU/competition-discovery/internal/storage/lookaside"
	"github.com/JakeFAU/competition-discovery/internal/storage/memory"
	"github.com/JakeFAU/competition-discovery/internal/storage/postgres"
	"github.com/JakeFAU/competition-discovery/internal/storage/sqlite"
)

// App holds the shared services for one process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Cache    discovery.Cache
	Sessions discovery.SessionStore
	Tracker  *session.Tracker
	Clock    discovery.Clock
	Metrics  *metrics.Registry
	Registry *prometheus.Registry

	pool      *pgxpool.Pool
	sqlite    *sql.DB
	lookaside *lookaside.Cache
	archiver  *archive.Archiver
	closers   []func() error
}

// New opens the configured storage backend and wires the shared services.
// Optional integrations (archive, Pub/Sub) are built lazily by Archiver.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.New(),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(a.Registry)
	if err != nil {
		return nil, err
	}
	a.Metrics = m

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Lookaside.Enabled {
		if err := a.wrapLookaside(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.Metrics.RegisterCacheStats(a.Cache, 5*time.Second, logger); err != nil {
		a.Close()
		return nil, err
	}

	tracker, err := session.New(a.Sessions, uuid.New(), a.Clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tracker = tracker
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("lookaside", cfg.Lookaside.Enabled),
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
		if err != nil {
			return discovery.NewStorageError("open postgres", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		cache, err := postgres.NewCacheStore(pool)
		if err != nil {
			return err
		}
		sessions, err := postgres.NewSessionStore(pool)
		if err != nil {
			return err
		}
		a.Cache, a.Sessions = cache, sessions
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return discovery.NewStorageError("open sqlite", err)
		}
		a.sqlite = db
		a.closers = append(a.closers, db.Close)
		cache, err := sqlite.NewCacheStore(db)
		if err != nil {
			return err
		}
		sessions, err := sqlite.NewSessionStore(db)
		if err != nil {
			return err
		}
		a.Cache, a.Sessions = cache, sessions
	case "memory":
		a.Logger.Warn("using in-memory storage; results are discarded on exit")
		a.Cache, a.Sessions = memory.NewCache(), memory.NewSessionStore()
	default:
		return discovery.NewConfigError("storage.driver", fmt.Errorf("unknown driver %q", cfg.Driver))
	}
	return nil
}

func (a *App) wrapLookaside() error {
	cfg := a.Config.Lookaside
	opts := lookaside.Options{
		Size:   cfg.LRUSize,
		TTL:    time.Duration(cfg.TTLMinutes) * time.Minute,
		Logger: a.Logger.Named("lookaside"),
	}
	if cfg.RedisAddr != "" {
		remote, err := lookaside.NewRedisRemote(lookaside.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      time.Duration(cfg.RedisTTLHours) * time.Hour,
		})
		if err != nil {
			return discovery.NewConfigError("lookaside.redis_addr", err)
		}
		opts.Remote = remote
	}
	cache, err := lookaside.New(a.Cache, opts)
	if err != nil {
		return err
	}
	a.lookaside = cache
	a.Cache = cache
	return a.Metrics.RegisterLookaside(cache)
}

// Migrate creates the cache and session tables on the SQL backends.
func (a *App) Migrate(ctx context.Context) error {
	switch {
	case a.pool != nil:
		return postgres.Migrate(ctx, a.pool)
	case a.sqlite != nil:
		return sqlite.Migrate(ctx, a.sqlite)
	default:
		return nil
	}
}

// Ready pings the storage backend when it supports it.
func (a *App) Ready(ctx context.Context) error {
	pinger, ok := a.Cache.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return pinger.Ping(ctx)
}

// Archiver builds the snapshot/notification hook, or returns nil when
// neither an archive backend nor a topic is configured.
func (a *App) Archiver(ctx context.Context) (*archive.Archiver, error) {
	if a.archiver != nil {
		return a.archiver, nil
	}
	cfg := a.Config
	var store discovery.Archive
	switch cfg.Archive.Backend {
	case "", "none":
	case "memory":
		store = memory.NewBlobStore()
	case "local":
		s, err := local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
		if err != nil {
			return nil, discovery.NewConfigError("archive.local_dir", err)
		}
		store = s
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcs.New(client, gcs.Config{
			Bucket:   cfg.Archive.GCSBucket,
			Metadata: map[string]string{"source": "competition-discovery"},
		})
		if err != nil {
			return nil, discovery.NewConfigError("archive.gcs_bucket", err)
		}
		store = s
	default:
		return nil, discovery.NewConfigError("archive.backend", fmt.Errorf("unknown backend %q", cfg.Archive.Backend))
	}

	var pub discovery.Publisher
	if cfg.PubSub.TopicName != "" {
		p, err := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		pub = p
	}
	if store == nil && pub == nil {
		return nil, nil
	}
	arch, err := archive.New(archive.Config{
		Prefix:      cfg.Archive.Prefix,
		Topic:       cfg.PubSub.TopicName,
		ContentType: cfg.Archive.ContentType,
	}, store, nil, pub, a.Logger)
	if err != nil {
		return nil, err
	}
	a.archiver = arch
	return arch, nil
}

// Progress starts a hub fanning run events out to the log and Prometheus sinks.
func (a *App) Progress() (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return nil, err
	}
	cfg := a.Config.Progress
	return progress.NewHub(progress.Config{
		BufferSize:    cfg.BufferSize,
		MaxBatch:      cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		Logger:        a.Logger,
	}, sinks.NewLogSink(a.Logger.Named("progress")), promSink), nil
}

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.lookaside != nil {
		// Closes the wrapped backend cache and the Redis client.
		errs = append(errs, a.lookaside.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
