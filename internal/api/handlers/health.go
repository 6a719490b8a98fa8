package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/pkg/cache"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// HealthHandler reports process liveness and cache reachability. The
// cache is load-bearing (cooldown keys, queue) so its health gates
// readiness.
type HealthHandler struct {
	cache   cache.Cache
	log     logger.Logger
	started time.Time
}

func NewHealthHandler(c cache.Cache, log logger.Logger) *HealthHandler {
	return &HealthHandler{cache: c, log: log, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.cache.HealthCheck(c.Request.Context()); err != nil {
		h.log.Warn("readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"cache":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
