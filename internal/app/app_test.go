// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/app"
	"github.com/JakeFAU/competition-discovery/internal/config"
	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
	"github.com/JakeFAU/competition-discovery/internal/progress"
	"github.com/JakeFAU/competition-discovery/internal/storage/lookaside"
	"github.com/JakeFAU/competition-discovery/internal/storage/memory"
	"github.com/JakeFAU/competition-discovery/internal/storage/sqlite"
)

func loadConfig(t *testing.T, overrides map[string]any) config.Config {
	t.Helper()
	v := viper.New()
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestNewWithSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := loadConfig(t, map[string]any{
		"storage.driver":      "sqlite",
		"storage.sqlite_path": filepath.Join(t.TempDir(), "db", "discovery.db"),
	})
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.IsType(t, &sqlite.CacheStore{}, a.Cache)
	assert.IsType(t, &sqlite.SessionStore{}, a.Sessions)
	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.Ready(ctx))

	sess, err := a.Tracker.Start(ctx, "smoke")
	require.NoError(t, err)
	got, err := a.Sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.SessionRunning, got.State)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["discovery_cache_entries"])
}

func TestNewWithMemoryAndLookaside(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := loadConfig(t, map[string]any{
		"storage.driver":    "memory",
		"lookaside.enabled": true,
		"archive.backend":   "memory",
	})
	a, err := app.New(ctx, cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.IsType(t, &lookaside.Cache{}, a.Cache)
	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.Ready(ctx))

	key := keyspace.New("A", 2020, 1, "")
	_, err = a.Cache.Upsert(ctx, discovery.Observation{Key: key, Status: discovery.StatusConfirmedExists, CheckedAt: time.Now(), SessionID: "s"})
	require.NoError(t, err)
	_, err = a.Cache.Lookup(ctx, key)
	require.NoError(t, err)

	arch, err := a.Archiver(ctx)
	require.NoError(t, err)
	require.NotNil(t, arch)
	again, err := a.Archiver(ctx)
	require.NoError(t, err)
	assert.Same(t, arch, again)

	hub, err := a.Progress()
	require.NoError(t, err)
	hub.Emit(progress.Event{SessionID: "s", TS: time.Now(), Stage: progress.StageRunStart})
	require.NoError(t, hub.Close(ctx))
}

func TestArchiverDisabledByDefault(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), loadConfig(t, map[string]any{"storage.driver": "memory"}), nil)
	require.NoError(t, err)
	arch, err := a.Archiver(context.Background())
	require.NoError(t, err)
	assert.Nil(t, arch)
	assert.NoError(t, a.Close())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, map[string]any{"storage.driver": "memory"})
	cfg.Storage.Driver = "cassandra"
	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, discovery.IsConfig(err))
}

// MockRemote mocks the lookaside.Remote interface.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Load(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(discovery.CacheEntry), args.Bool(1), args.Error(2)
}

func (m *MockRemote) Store(ctx context.Context, entry discovery.CacheEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockRemote) Close() error {
	return m.Called().Error(0)
}

func TestLookasideCloseReportsRemoteError(t *testing.T) {
	t.Parallel()

	remote := new(MockRemote)
	remote.On("Close").Return(errors.New("redis gone")).Once()

	cache, err := lookaside.New(memory.NewCache(), lookaside.Options{Remote: remote})
	require.NoError(t, err)
	require.ErrorContains(t, cache.Close(), "redis gone")
	remote.AssertExpectations(t)
}
