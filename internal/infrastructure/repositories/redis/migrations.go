package redis

import (
	"context"
	"fmt"
	"time"

	"vidstream/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = "vidstream:schema:version"
	schemaLock       = "vidstream:schema:lock"
)

type migration struct {
	version     int
	description string
	up          func(ctx context.Context, client *redis.Client) error
}

// migrations run in order; append only.
var migrations = []migration{
	{
		version:     1,
		description: "catalog index must be a set",
		up: func(ctx context.Context, client *redis.Client) error {
			kind, err := client.Type(ctx, catalogIndex).Result()
			if err != nil {
				return err
			}
			if kind != "none" && kind != "set" {
				return client.Del(ctx, catalogIndex).Err()
			}
			return nil
		},
	},
}

func schemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate brings the Redis layout up to the current schema version. Instances
// sharing a Redis migrate one at a time.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	lock := distributed.NewLock(client, schemaLock, 30*time.Second)
	if err := lock.Lock(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}
	defer lock.Unlock(context.WithoutCancel(ctx))

	current, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if current >= schemaVersion() {
		logger.Debugw("redis schema is up to date", "version", current)
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("running redis migration", "version", m.version, "description", m.description)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.version, 0).Err(); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
		}
	}
	return nil
}
