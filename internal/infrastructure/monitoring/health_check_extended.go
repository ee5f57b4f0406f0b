package monitoring

import (
	"context"
	"fmt"
	"time"

	"vidstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddCatalogCheck verifies the catalog backend answers and, when
// requireVideos is set, that it is not empty.
func (h *HealthChecker) AddCatalogCheck(catalog ports.Catalog, requireVideos bool, timeout time.Duration) {
	h.AddCheck("catalog", func(ctx context.Context) (bool, error) {
		videos, err := catalog.List(ctx)
		if err != nil {
			return false, err
		}
		if requireVideos && len(videos) == 0 {
			return false, fmt.Errorf("catalog is empty")
		}
		return true, nil
	}, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
