package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/config"
)

func TestOpenStores_MemoryWithoutRedis(t *testing.T) {
	cfg := config.Config{StoreDriver: config.StoreDriverMemory}

	s, err := OpenStores(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &MemoryRepository{}, s.Repo)
	assert.IsType(t, &MemorySeenStore{}, s.Seen)
	assert.Nil(t, s.Redis)
	assert.Empty(t, s.HealthChecks())
}

func TestOpenStores_SQLiteWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{
		StoreDriver: config.StoreDriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "rotator.db"),
		RedisAddr:   mr.Addr(),
	}

	s, err := OpenStores(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &SQLite{}, s.Repo)
	require.NotNil(t, s.Redis)
	assert.Same(t, s.Redis, s.Seen)

	checks := s.HealthChecks()
	require.Contains(t, checks, "sqlite")
	require.Contains(t, checks, "redis")
	for name, check := range checks {
		assert.NoError(t, check(context.Background()), name)
	}
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(config.Config{StoreDriver: "mongo"}, zap.NewNop())
	assert.Error(t, err)
}
