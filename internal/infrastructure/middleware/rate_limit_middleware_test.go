package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"vidstream/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func limitedRouter(cfg *config.Config, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", handler)
	return router
}

func get(router http.Handler, remote string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := limitedRouter(cfg, func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)
	}
}

func TestHTTPRateLimitMiddleware_PerClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	router := limitedRouter(cfg, func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1000").Code)

	w := get(router, "10.0.0.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1000").Code)
}

func TestHTTPRateLimitMiddleware_MaxConcurrent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1000
	cfg.RateLimiting.HTTP.Burst = 1000
	cfg.RateLimiting.HTTP.MaxConcurrent = 1

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	router := limitedRouter(cfg, func(c *gin.Context) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() { done <- get(router, "10.0.0.1:1000").Code }()
	<-entered

	w := get(router, "10.0.0.2:1000")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1000").Code)
}

func TestLimiterStore_PrunesIdleClients(t *testing.T) {
	s := newLimiterStore(rate.Limit(1), 1)
	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.get("stale")
	clock = clock.Add(limiterIdleTTL + time.Second)
	for i := 0; i < limiterPruneEvery; i++ {
		s.get("fresh")
	}
	assert.Equal(t, 1, s.len())
}

func TestConnectionLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.Connections.PerMinute = 1
	cfg.RateLimiting.Connections.Burst = 2

	l := NewConnectionLimiter(cfg)
	require.NotNil(t, l)
	a := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000}
	b := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1000}

	assert.True(t, l.Allow(a))
	assert.True(t, l.Allow(&net.TCPAddr{IP: a.IP, Port: 2000}), "burst of two")
	assert.False(t, l.Allow(a), "third connection from the same IP")
	assert.True(t, l.Allow(b), "other IPs have their own budget")
}

func TestConnectionLimiter_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	l := NewConnectionLimiter(cfg)
	assert.Nil(t, l)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(&net.TCPAddr{IP: net.ParseIP("10.0.0.1")}))
	}
}
