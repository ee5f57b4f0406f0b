package repositories

import (
	"context"
	"io"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/pkg/cache"
)

const listKey = "list"

type lookup struct {
	video domain.Video
	found bool
}

// CachedCatalog fronts a remote catalog so each new connection does not
// round-trip for the listing. Entries live for ttl; Replace through this
// wrapper drops them at once.
type CachedCatalog struct {
	next    ports.CatalogRepository
	lists   *cache.Cache[[]domain.Video]
	lookups *cache.Cache[lookup]
}

func NewCachedCatalog(next ports.CatalogRepository, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		next:    next,
		lists:   cache.New[[]domain.Video](ttl),
		lookups: cache.New[lookup](ttl),
	}
}

func (c *CachedCatalog) Get(ctx context.Context, id domain.VideoID) (domain.Video, bool, error) {
	res, err := c.lookups.GetOrLoad(ctx, string(id), func(ctx context.Context) (lookup, error) {
		v, ok, err := c.next.Get(ctx, id)
		return lookup{video: v, found: ok}, err
	})
	if err != nil {
		return domain.Video{}, false, err
	}
	return res.video, res.found, nil
}

// List returns a copy; callers may reorder it.
func (c *CachedCatalog) List(ctx context.Context) ([]domain.Video, error) {
	videos, err := c.lists.GetOrLoad(ctx, listKey, c.next.List)
	if err != nil {
		return nil, err
	}
	return append([]domain.Video(nil), videos...), nil
}

func (c *CachedCatalog) Open(ctx context.Context, video domain.Video) (io.ReadCloser, error) {
	return c.next.Open(ctx, video)
}

func (c *CachedCatalog) Replace(ctx context.Context, videos []domain.Video) error {
	defer c.invalidate()
	return c.next.Replace(ctx, videos)
}

func (c *CachedCatalog) invalidate() {
	c.lists.Invalidate("")
	c.lookups.Invalidate("")
}
