package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"pixelforge/pkg/errutil"
	"pixelforge/pkg/health"
	"pixelforge/services/broadcaster"
	"pixelforge/services/generation"
)

var Module = fx.Module("httpapi.module",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// Handler is the thin submission/status boundary in front of the pipeline.
type Handler struct {
	svc *generation.Service
	bc  *broadcaster.Broadcaster
}

type HandlerParams struct {
	fx.In
	Svc *generation.Service
	Bc  *broadcaster.Broadcaster
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{svc: p.Svc, bc: p.Bc}
}

func RegisterRoutes(engine *gin.Engine, h *Handler, health health.HealthService) {
	engine.GET("/healthz", health.Liveness)
	engine.GET("/readyz", health.Readiness)

	v1 := engine.Group("/v1")
	v1.POST("/generations", h.Submit)
	v1.GET("/generations/:id", h.GetTask)
	v1.GET("/generations/:id/status", h.GetStatus)
}

type submitRequest struct {
	UserID           string         `json:"user_id" binding:"required"`
	Prompt           string         `json:"prompt" binding:"required"`
	Parameters       map[string]any `json:"parameters"`
	SubscriptionTier string         `json:"subscription_tier"`
	Input            string         `json:"input"`
	InputExt         string         `json:"input_ext"`
	ContentType      string         `json:"content_type"`
}

func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input, err := base64.StdEncoding.DecodeString(req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is not valid base64"})
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	task, err := h.svc.Submit(c.Request.Context(), &generation.SubmitRequest{
		UserID:           req.UserID,
		Prompt:           req.Prompt,
		Parameters:       req.Parameters,
		SubscriptionTier: req.SubscriptionTier,
		Input:            input,
		InputExt:         req.InputExt,
		InputContentType: contentType,
	})
	if err != nil {
		zap.L().Error("submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":  task.ID,
		"status":   task.Status,
		"priority": task.Priority,
	})
}

func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, errutil.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *Handler) GetStatus(c *gin.Context) {
	snapshot, err := h.bc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, errutil.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
