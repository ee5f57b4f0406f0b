package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/services"
	"vidstream/internal/infrastructure/monitoring"
	"vidstream/internal/infrastructure/repositories/memory"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixedSession domain.SessionSnapshot

func (f fixedSession) Snapshot() domain.SessionSnapshot { return domain.SessionSnapshot(f) }

type adminFixture struct {
	router   *gin.Engine
	metrics  *services.MetricsService
	registry *services.SessionRegistry
}

func newAdminFixture(t *testing.T, videos ...domain.Video) adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewMemoryCatalogRepository()
	require.NoError(t, repo.Replace(context.Background(), videos))

	metrics := services.NewMetricsService()
	registry := services.NewSessionRegistry()
	health := monitoring.NewHealthChecker()
	health.AddCatalogCheck(repo, true, time.Second)

	reg := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(reg)
	collector.ConnectionOpened()

	cfg := config.DefaultConfig()
	cfg.Monitoring.PrometheusEnabled = true
	cfg.RateLimiting.Enabled = false

	router := NewRouter(cfg, NewAdminHandler(repo, registry, metrics, health), reg, logger.NewContextLogger(zaptest.NewLogger(t)))
	return adminFixture{router: router, metrics: metrics, registry: registry}
}

func (f adminFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

var testVideo = domain.Video{ID: "vid-1", Title: "intro.mp4", Path: "/media/intro.mp4", Size: 4096, MediaType: ".mp4"}

func TestAdmin_HealthAndReady(t *testing.T) {
	f := newAdminFixture(t, testVideo)

	w, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = f.get(t, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestAdmin_NotReadyWithEmptyCatalog(t *testing.T) {
	f := newAdminFixture(t)

	w, body := f.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestAdmin_Videos(t *testing.T) {
	f := newAdminFixture(t, testVideo)

	w, body := f.get(t, "/api/v1/videos")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = f.get(t, "/api/v1/videos/vid-1")
	assert.Equal(t, http.StatusOK, w.Code)
	video := body["video"].(map[string]any)
	assert.Equal(t, "intro.mp4", video["title"])
	assert.Equal(t, float64(4096), video["size"])

	w, body = f.get(t, "/api/v1/videos/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])

	w, body = f.get(t, "/api/v1/videos/bad:id")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"])
}

func TestAdmin_VideoStats(t *testing.T) {
	f := newAdminFixture(t, testVideo)
	f.metrics.StreamStarted("vid-1")
	f.metrics.ChunkSent("vid-1", 4096, time.Millisecond)
	f.metrics.StreamFinished("vid-1", domain.OutcomeCompleted, 4096, time.Second)

	w, body := f.get(t, "/api/v1/videos/vid-1/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(4096), stats["bytes_delivered"])
	assert.Equal(t, float64(1), stats["streams_finished"])

	_, body = f.get(t, "/api/v1/stats")
	assert.Len(t, body["videos"], 1)
}

func TestAdmin_Sessions(t *testing.T) {
	f := newAdminFixture(t, testVideo)
	f.registry.Register("conn-a", fixedSession{
		ConnID:         "conn-a",
		State:          domain.StateStreaming,
		VideoID:        "vid-1",
		BytesDelivered: 1024,
	})

	w, body := f.get(t, "/api/v1/sessions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = f.get(t, "/api/v1/sessions/conn-a")
	assert.Equal(t, http.StatusOK, w.Code)
	session := body["session"].(map[string]any)
	assert.Equal(t, "streaming", session["state"])
	assert.Equal(t, float64(1024), session["bytes_delivered"])

	w, _ = f.get(t, "/api/v1/sessions/conn-b")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Metrics(t *testing.T) {
	f := newAdminFixture(t, testVideo)

	w, _ := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vidstream_connections_active 1")
}

type brokenCatalog struct{}

func (brokenCatalog) Get(context.Context, domain.VideoID) (domain.Video, bool, error) {
	return domain.Video{}, false, errors.New("redis down")
}

func (brokenCatalog) List(context.Context) ([]domain.Video, error) {
	return nil, errors.New("redis down")
}

func (brokenCatalog) Open(context.Context, domain.Video) (io.ReadCloser, error) {
	return nil, errors.New("redis down")
}

func TestAdmin_CatalogUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	admin := NewAdminHandler(brokenCatalog{}, services.NewSessionRegistry(), services.NewMetricsService(), monitoring.NewHealthChecker())
	router := NewRouter(cfg, admin, nil, logger.NewContextLogger(zaptest.NewLogger(t)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos/vid-1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
