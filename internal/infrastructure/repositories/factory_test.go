package repositories

import (
	"context"
	"testing"

	"vidstream/internal/core/domain"
	"vidstream/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "memory", f.Backend())
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))
	assert.NotNil(t, f.CreateCatalogRepository())
}

func TestRepositoryFactory_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Catalog.Backend = "redis"
	cfg.Redis.Address = mr.Addr()

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "redis", f.Backend())
	require.NoError(t, f.HealthCheck(context.Background()))

	repo := f.CreateCatalogRepository()
	assert.IsType(t, &CachedCatalog{}, repo)
	require.NoError(t, repo.Replace(context.Background(), []domain.Video{{ID: "x", Title: "x.mp4"}}))
	assert.True(t, mr.Exists("vidstream:video:x"))

	_, ok, err := repo.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepositoryFactory_RedisWithoutCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Catalog.Backend = "redis"
	cfg.Catalog.CacheTTL = 0
	cfg.Redis.Address = mr.Addr()

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	_, cached := f.CreateCatalogRepository().(*CachedCatalog)
	assert.False(t, cached)
}

func TestRepositoryFactory_FallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Catalog.Backend = "redis"
	cfg.Redis.Address = addr

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, "memory", f.Backend())
}
