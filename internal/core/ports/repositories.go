package ports

import (
	"context"
	"io"

	"vidstream/internal/core/domain"
)

// Catalog is the read-only index of streamable videos.
// Get reports absence with ok=false and a nil error.
type Catalog interface {
	Get(ctx context.Context, id domain.VideoID) (domain.Video, bool, error)
	List(ctx context.Context) ([]domain.Video, error)
	Open(ctx context.Context, video domain.Video) (io.ReadCloser, error)
}

// CatalogWriter publishes a freshly scanned catalog.
type CatalogWriter interface {
	Replace(ctx context.Context, videos []domain.Video) error
}

// CatalogRepository is a catalog backend that can also be (re)populated.
type CatalogRepository interface {
	Catalog
	CatalogWriter
}
