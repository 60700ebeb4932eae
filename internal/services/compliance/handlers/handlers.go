package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/scheduler"
	"github.com/credwatch-go/internal/services/compliance/service"
	"github.com/credwatch-go/pkg/logger"
)

// ReadinessCheck probes the backing stores; a non-nil error takes the
// instance out of rotation.
type ReadinessCheck func(ctx context.Context) error

type ComplianceHandlers struct {
	service   *service.ComplianceService
	scheduler *scheduler.Scheduler
	readiness ReadinessCheck
	logger    logger.Logger
}

func NewComplianceHandlers(svc *service.ComplianceService, sched *scheduler.Scheduler, readiness ReadinessCheck, log logger.Logger) *ComplianceHandlers {
	return &ComplianceHandlers{
		service:   svc,
		scheduler: sched,
		readiness: readiness,
		logger:    log,
	}
}

func (h *ComplianceHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *ComplianceHandlers) Ready(c *gin.Context) {
	if h.readiness != nil {
		if err := h.readiness(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// RunPass forces an immediate scheduler pass and reports what it did.
func (h *ComplianceHandlers) RunPass(c *gin.Context) {
	summary, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("manual pass failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pass aborted", "summary": summary})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (h *ComplianceHandlers) CreateCredential(c *gin.Context) {
	var input service.CreateCredentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.service.CreateCredential(c.Request.Context(), input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *ComplianceHandlers) GetCredential(c *gin.Context) {
	view, err := h.service.GetCredential(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ComplianceHandlers) UpdateCredential(c *gin.Context) {
	var input service.UpdateCredentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.service.UpdateCredential(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ComplianceHandlers) ListCredentials(c *gin.Context) {
	views, err := h.service.ListCredentials(c.Request.Context(), c.Query("holderId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": views})
}

func (h *ComplianceHandlers) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Query("holderId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ComplianceHandlers) GetSettings(c *gin.Context) {
	settings, err := h.service.GetSettings(c.Request.Context(), c.Param("holderId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *ComplianceHandlers) UpdateSettings(c *gin.Context) {
	var settings notification.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings.HolderID = c.Param("holderId")

	if err := h.service.UpdateSettings(c.Request.Context(), &settings); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *ComplianceHandlers) ListNotifications(c *gin.Context) {
	feed, err := h.service.ListNotifications(c.Request.Context(), c.Query("holderId"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": feed})
}

func (h *ComplianceHandlers) MarkNotificationRead(c *gin.Context) {
	if err := h.service.MarkNotificationRead(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked as read"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, credential.ErrInvalidType),
		errors.Is(err, credential.ErrInvalidCritical),
		errors.Is(err, notification.ErrInvalidThresholds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
