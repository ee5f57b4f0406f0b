package http

import (
	"context"
	"net/http"
	"time"

	"vidstream/internal/core/domain"
	"vidstream/internal/core/ports"
	"vidstream/internal/infrastructure/monitoring"
	"vidstream/pkg/errors"
	"vidstream/pkg/validation"

	"github.com/gin-gonic/gin"
)

// DeliveryStatsSource exposes the aggregated delivery counters.
type DeliveryStatsSource interface {
	GetDeliveryStats(id domain.VideoID) domain.DeliveryStats
	AllDeliveryStats() []domain.DeliveryStats
	ActiveConnections() int64
	TotalConnections() int64
}

type AdminHandler struct {
	catalog   ports.Catalog
	sessions  ports.SessionRegistry
	stats     DeliveryStatsSource
	health    *monitoring.HealthChecker
	startedAt time.Time
}

func NewAdminHandler(
	catalog ports.Catalog,
	sessions ports.SessionRegistry,
	stats DeliveryStatsSource,
	health *monitoring.HealthChecker,
) *AdminHandler {
	return &AdminHandler{
		catalog:   catalog,
		sessions:  sessions,
		stats:     stats,
		health:    health,
		startedAt: time.Now(),
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.GET("/videos", h.ListVideos)
		api.GET("/videos/:id", h.GetVideo)
		api.GET("/videos/:id/stats", h.GetVideoStats)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/stats", h.GetStats)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
	})
}

func (h *AdminHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *AdminHandler) ListVideos(c *gin.Context) {
	videos, err := h.catalog.List(c.Request.Context())
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "catalog unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"count":  len(videos),
	})
}

func (h *AdminHandler) GetVideo(c *gin.Context) {
	video, ok := h.lookupVideo(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video": video,
	})
}

func (h *AdminHandler) GetVideoStats(c *gin.Context) {
	video, ok := h.lookupVideo(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": h.stats.GetDeliveryStats(video.ID),
	})
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	sessions := h.sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *AdminHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateStringLength(id, 1, 128, "connection ID"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	session, ok := h.sessions.Get(domain.ConnID(id))
	if !ok {
		c.Error(errors.NewNotFoundError("session").WithContext("conn_id", id))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
	})
}

func (h *AdminHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_connections": h.stats.ActiveConnections(),
		"total_connections":  h.stats.TotalConnections(),
		"live_sessions":      h.sessions.Count(),
		"videos":             h.stats.AllDeliveryStats(),
	})
}

// lookupVideo resolves the :id parameter, recording an error on the
// context when it cannot.
func (h *AdminHandler) lookupVideo(c *gin.Context) (domain.Video, bool) {
	id := c.Param("id")
	if err := validation.ValidateVideoID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return domain.Video{}, false
	}

	video, found, err := h.catalog.Get(c.Request.Context(), domain.VideoID(id))
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "catalog unavailable", http.StatusServiceUnavailable))
		return domain.Video{}, false
	}
	if !found {
		c.Error(errors.NewNotFoundError("video").WithContext("video_id", id))
		return domain.Video{}, false
	}
	return video, true
}
