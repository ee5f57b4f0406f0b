package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration) (*Cache[int], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := New[int](ttl)
	c.now = clock.now
	return c, clock
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Second)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Prune())
}

func TestCache_GetOrLoad(t *testing.T) {
	c, clock := newTestCache(time.Second)
	var calls int
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.advance(2 * time.Second)
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCache_LoadErrorsNotCached(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCache_ConcurrentLoadsCollapse(t *testing.T) {
	c := New[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("video:a", 1)
	c.Set("video:b", 2)
	c.Set("list", 3)

	c.Invalidate("video:")
	_, ok := c.Get("video:a")
	assert.False(t, ok)
	_, ok = c.Get("list")
	assert.True(t, ok)

	c.Invalidate("")
	assert.Equal(t, 0, c.Len())
}
