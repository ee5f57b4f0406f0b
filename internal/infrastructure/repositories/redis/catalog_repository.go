package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/infrastructure/catalog"
	"vidstream/pkg/distributed"
	"vidstream/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	videoKeyPrefix = "vidstream:video:"
	catalogIndex   = "vidstream:catalog:index"
	catalogLock    = "vidstream:catalog:lock"
)

// RedisCatalogRepository shares one catalog index between server instances.
// Video bytes are still read from the local filesystem.
type RedisCatalogRepository struct {
	client *redis.Client

	lockTTL  time.Duration
	lockWait time.Duration
}

func NewRedisCatalogRepository(client *redis.Client) ports.CatalogRepository {
	return &RedisCatalogRepository{
		client:   client,
		lockTTL:  30 * time.Second,
		lockWait: 15 * time.Second,
	}
}

func videoKey(id domain.VideoID) string {
	return videoKeyPrefix + string(id)
}

func (r *RedisCatalogRepository) Get(ctx context.Context, id domain.VideoID) (domain.Video, bool, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "get", "redis")
	defer span.End()

	data, err := r.client.Get(ctx, videoKey(id)).Result()
	if err == redis.Nil {
		return domain.Video{}, false, nil
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.Video{}, false, fmt.Errorf("failed to get video from Redis: %w", err)
	}

	var video domain.Video
	if err := json.Unmarshal([]byte(data), &video); err != nil {
		return domain.Video{}, false, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	return video, true, nil
}

func (r *RedisCatalogRepository) List(ctx context.Context) ([]domain.Video, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "list", "redis")
	defer span.End()

	ids, err := r.client.SMembers(ctx, catalogIndex).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read catalog index: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Video{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = videoKey(domain.VideoID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read videos: %w", err)
	}

	videos := make([]domain.Video, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry without a record; a concurrent Replace removed it
			continue
		}
		var video domain.Video
		if err := json.Unmarshal([]byte(raw), &video); err != nil {
			return nil, fmt.Errorf("failed to unmarshal video: %w", err)
		}
		videos = append(videos, video)
	}
	catalog.SortVideos(videos)
	return videos, nil
}

func (r *RedisCatalogRepository) Open(ctx context.Context, video domain.Video) (io.ReadCloser, error) {
	return catalog.OpenSource(video)
}

// Replace publishes a freshly scanned catalog in one transaction. Instances
// starting together take turns through a shared lock so one publish cannot
// resurrect entries another just dropped.
func (r *RedisCatalogRepository) Replace(ctx context.Context, videos []domain.Video) error {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "replace", "redis")
	defer span.End()

	lock := distributed.NewLock(r.client, catalogLock, r.lockTTL)
	if err := lock.Lock(ctx, r.lockWait); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to lock catalog: %w", err)
	}
	defer lock.Unlock(context.WithoutCancel(ctx))

	old, err := r.client.SMembers(ctx, catalogIndex).Result()
	if err != nil {
		return fmt.Errorf("failed to read catalog index: %w", err)
	}

	payloads := make(map[domain.VideoID][]byte, len(videos))
	for _, v := range videos {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal video: %w", err)
		}
		payloads[v.ID] = data
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range old {
			if _, keep := payloads[domain.VideoID(id)]; !keep {
				pipe.Del(ctx, videoKey(domain.VideoID(id)))
			}
		}
		pipe.Del(ctx, catalogIndex)
		for id, data := range payloads {
			pipe.Set(ctx, videoKey(id), data, 0)
			pipe.SAdd(ctx, catalogIndex, string(id))
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	return nil
}
