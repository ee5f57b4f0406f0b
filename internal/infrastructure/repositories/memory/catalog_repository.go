package memory

import (
	"context"
	"io"
	"sync"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/infrastructure/catalog"
)

type MemoryCatalogRepository struct {
	videos map[domain.VideoID]domain.Video
	order  []domain.VideoID
	mu     sync.RWMutex
}

func NewMemoryCatalogRepository() ports.CatalogRepository {
	return &MemoryCatalogRepository{
		videos: make(map[domain.VideoID]domain.Video),
	}
}

func (r *MemoryCatalogRepository) Get(ctx context.Context, id domain.VideoID) (domain.Video, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	video, exists := r.videos[id]
	return video, exists, nil
}

func (r *MemoryCatalogRepository) List(ctx context.Context) ([]domain.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	videos := make([]domain.Video, 0, len(r.order))
	for _, id := range r.order {
		videos = append(videos, r.videos[id])
	}
	return videos, nil
}

func (r *MemoryCatalogRepository) Open(ctx context.Context, video domain.Video) (io.ReadCloser, error) {
	return catalog.OpenSource(video)
}

// Replace swaps the whole index atomically.
func (r *MemoryCatalogRepository) Replace(ctx context.Context, videos []domain.Video) error {
	sorted := append([]domain.Video(nil), videos...)
	catalog.SortVideos(sorted)

	index := make(map[domain.VideoID]domain.Video, len(sorted))
	order := make([]domain.VideoID, 0, len(sorted))
	for _, v := range sorted {
		if _, dup := index[v.ID]; !dup {
			order = append(order, v.ID)
		}
		index[v.ID] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos = index
	r.order = order
	return nil
}
