package middleware

import (
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"vidstream/pkg/config"
	"vidstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneEvery = 256
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per remote IP. Buckets idle for
// limiterIdleTTL are dropped; a returning client starts with a full burst.
type limiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	calls   int
	now     func() time.Time
}

func newLimiterStore(limit rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		entries: make(map[string]*limiterEntry),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.calls++
	if s.calls%limiterPruneEvery == 0 {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.entries, k)
			}
		}
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NewHTTPRateLimitMiddleware throttles admin API requests per client IP and,
// optionally, caps requests in flight across all clients.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	store := newLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var inFlight chan struct{}
	if n := cfg.RateLimiting.HTTP.MaxConcurrent; n > 0 {
		inFlight = make(chan struct{}, n)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				abortWith(c, errors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		limiter := store.get(c.ClientIP())
		r := limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abortWith(c, errors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// abortWith renders err in the same shape as ErrorHandlerMiddleware, which
// does not run for requests rejected ahead of it.
func abortWith(c *gin.Context, err *errors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error":   string(err.Code),
		"message": err.Message,
	})
}

// ConnectionLimiter throttles accepted viewer connections per remote IP.
type ConnectionLimiter struct {
	store *limiterStore
}

// NewConnectionLimiter returns nil when connection throttling is disabled.
func NewConnectionLimiter(cfg *config.Config) *ConnectionLimiter {
	perMinute := cfg.RateLimiting.Connections.PerMinute
	if !cfg.RateLimiting.Enabled || perMinute <= 0 {
		return nil
	}
	burst := max(cfg.RateLimiting.Connections.Burst, 1)
	return &ConnectionLimiter{
		store: newLimiterStore(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Allow reports whether a new connection from addr may be served.
// A nil limiter allows everything.
func (l *ConnectionLimiter) Allow(addr net.Addr) bool {
	if l == nil {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return l.store.get(host).Allow()
}

