package repositories

import (
	"context"
	"time"

	"vidstream/internal/core/ports"
	"vidstream/internal/infrastructure/repositories/memory"
	redisrepo "vidstream/internal/infrastructure/repositories/redis"
	"vidstream/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Catalog.Backend == "redis",
		cacheTTL: cfg.Catalog.CacheTTL,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if factory.useRedis {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateCatalogRepository creates a catalog repository (Redis or memory with fallback).
// The Redis catalog is fronted by a short-lived local cache when catalog.cache_ttl > 0.
func (f *RepositoryFactory) CreateCatalogRepository() ports.CatalogRepository {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisCatalogRepository(f.redisClient)
		if f.cacheTTL > 0 {
			return NewCachedCatalog(repo, f.cacheTTL)
		}
		return repo
	}
	return memory.NewMemoryCatalogRepository()
}

// Backend names the catalog backend actually in use
func (f *RepositoryFactory) Backend() string {
	if f.useRedis && f.redisClient != nil {
		return "redis"
	}
	return "memory"
}

// RedisClient returns the shared client, or nil when Redis is not in use
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

