package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/internal/agent"
	"github.com/siteguard/siteguard-core/internal/api/middleware"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// AgentHandler serves the remote poller surface: due-task polling,
// result submission and heartbeats. Authentication happens upstream in
// the AgentAuth middleware.
type AgentHandler struct {
	agents *agent.Service
	log    logger.Logger
}

func NewAgentHandler(agents *agent.Service, log logger.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, log: log}
}

func (h *AgentHandler) DueTasks(c *gin.Context) {
	ag, ok := middleware.AgentFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent context missing"})
		return
	}
	tasks, err := h.agents.DueTasks(c.Request.Context(), ag)
	if err != nil {
		h.log.Error("due task listing failed", "agent_id", ag.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type submitResultRequest struct {
	CheckID    string             `json:"check_id" binding:"required"`
	Status     models.CheckStatus `json:"status" binding:"required"`
	Score      int                `json:"score"`
	Message    string             `json:"message"`
	Details    json.RawMessage    `json:"details"`
	DurationMs int64              `json:"duration_ms"`
}

func (h *AgentHandler) SubmitResult(c *gin.Context) {
	ag, ok := middleware.AgentFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent context missing"})
		return
	}
	var req submitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resultID, err := h.agents.SubmitResult(c.Request.Context(), ag, req.CheckID, &models.ExecutionOutcome{
		Status:     req.Status,
		Score:      req.Score,
		Message:    req.Message,
		Details:    req.Details,
		DurationMs: req.DurationMs,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "check not found"})
		case errors.Is(err, agent.ErrNotAssigned):
			c.JSON(http.StatusForbidden, gin.H{"error": "check not assigned to this agent"})
		default:
			h.log.Error("agent result submission failed", "agent_id", ag.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	if resultID == "" {
		// The check was disabled or removed after the task was handed out;
		// the submission is accepted but nothing was recorded.
		c.JSON(http.StatusAccepted, gin.H{"status": "discarded"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"result_id": resultID})
}

type heartbeatRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

func (h *AgentHandler) Heartbeat(c *gin.Context) {
	ag, ok := middleware.AgentFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "agent context missing"})
		return
	}
	var req heartbeatRequest
	// An empty body is a valid heartbeat.
	_ = c.ShouldBindJSON(&req)
	if err := h.agents.Heartbeat(c.Request.Context(), ag, req.Metadata); err != nil {
		h.log.Error("agent heartbeat failed", "agent_id", ag.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
