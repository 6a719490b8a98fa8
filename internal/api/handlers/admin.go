package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/internal/queue"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/internal/sweeper"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// AdminHandler serves the operational surface: schedule reconciliation,
// registration diagnostics, queue statistics, manual triggers and
// on-demand sweeps.
type AdminHandler struct {
	registry *queue.RecurringRegistry
	producer *queue.Producer
	queue    queue.Queue
	store    storage.Store
	sweepers *sweeper.Manager
	log      logger.Logger
}

func NewAdminHandler(registry *queue.RecurringRegistry, producer *queue.Producer, q queue.Queue, store storage.Store, sweepers *sweeper.Manager, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		producer: producer,
		queue:    q,
		store:    store,
		sweepers: sweepers,
		log:      log,
	}
}

// ReconcileSchedules force-rebuilds every recurring slot from the
// durable check table.
func (h *AdminHandler) ReconcileSchedules(c *gin.Context) {
	n, err := h.registry.ReconcileAll(c.Request.Context())
	if err != nil {
		h.log.Error("schedule reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": n})
}

// ListRegistrations enumerates the active recurring slots.
func (h *AdminHandler) ListRegistrations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registrations": h.registry.Registrations()})
}

// QueueStats reports ready/delayed/finished counts per priority.
func (h *AdminHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("queue stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TriggerCheck enqueues one high-priority manual run of a check.
func (h *AdminHandler) TriggerCheck(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id query parameter required"})
		return
	}
	check, err := h.store.GetCheck(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "check not found"})
			return
		}
		h.log.Error("manual trigger lookup failed", "check_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	enqueued, err := h.producer.TriggerManual(c.Request.Context(), check)
	if err != nil {
		h.log.Error("manual trigger failed", "check_id", check.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !enqueued {
		c.JSON(http.StatusConflict, gin.H{"error": "a recent identical trigger is still in flight"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued"})
}

// CancelCheckJobs removes a check's pending ad-hoc jobs and its recurring
// slot, the cleanup path for a disabled or deleted check. In-flight
// executions are allowed to finish.
func (h *AdminHandler) CancelCheckJobs(c *gin.Context) {
	checkID := c.Param("id")
	removed, err := h.queue.RemovePendingAdHoc(c.Request.Context(), checkID)
	if err != nil {
		h.log.Error("ad-hoc cancellation failed", "check_id", checkID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.registry.RemoveRecurring(checkID)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// TriggerSweep runs a registered sweeper outside its schedule.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	if err := h.sweepers.Trigger(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "triggered"})
}
