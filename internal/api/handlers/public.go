// Package handlers contains the HTTP handlers for the public escalation
// surface, the agent surface and the administrative surface.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/internal/escalation"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// PublicIssueHandler serves the token-addressed escalation surface used
// by contacts following their access link. No session auth: possession
// of the token reads, a valid level signature mutates.
type PublicIssueHandler struct {
	escalations *escalation.Service
	log         logger.Logger
}

func NewPublicIssueHandler(escalations *escalation.Service, log logger.Logger) *PublicIssueHandler {
	return &PublicIssueHandler{escalations: escalations, log: log}
}

type issueActionRequest struct {
	Signature string `json:"signature" binding:"required"`
}

type reportRequest struct {
	Signature string `json:"signature" binding:"required"`
	Author    string `json:"author"`
	Note      string `json:"note" binding:"required"`
}

func (h *PublicIssueHandler) GetIssue(c *gin.Context) {
	issue, err := h.escalations.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *PublicIssueHandler) Acknowledge(c *gin.Context) {
	var req issueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := h.escalations.Acknowledge(c.Request.Context(), c.Param("token"), req.Signature)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *PublicIssueHandler) Progress(c *gin.Context) {
	var req issueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := h.escalations.Progress(c.Request.Context(), c.Param("token"), req.Signature)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *PublicIssueHandler) Resolve(c *gin.Context) {
	var req issueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := h.escalations.Resolve(c.Request.Context(), c.Param("token"), req.Signature)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *PublicIssueHandler) AppendReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := h.escalations.AppendReport(c.Request.Context(), c.Param("token"), req.Signature, req.Author, req.Note)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issue)
}

func (h *PublicIssueHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
	case errors.Is(err, escalation.ErrInvalidSignature):
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid level signature"})
	case errors.Is(err, escalation.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error("public issue request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
