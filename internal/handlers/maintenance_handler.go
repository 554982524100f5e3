package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "fintrack/internal/errors"
	"fintrack/internal/logger"
	"fintrack/internal/services"
)

// MaintenanceHandler serves the internal endpoints used by operators and
// scheduled jobs. Routes are guarded by the API key middleware.
type MaintenanceHandler struct {
	reconciler  services.Reconciler
	concurrency int
}

// NewMaintenanceHandler creates a new MaintenanceHandler. A non-positive
// concurrency runs one reconciliation at a time.
func NewMaintenanceHandler(reconciler services.Reconciler, concurrency int) *MaintenanceHandler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &MaintenanceHandler{reconciler: reconciler, concurrency: concurrency}
}

// ReconcileResponse summarises a full reconciliation run.
type ReconcileResponse struct {
	Reconciled int    `json:"reconciled"`
	Duration   string `json:"duration"`
}

// ReconcileAll recomputes every budget and its notification.
// @Summary     Reconcile all budgets
// @Description Recompute total spent and overspend notifications for every (user, category) that owns a budget
// @Tags        internal
// @Produce     json
// @Security    APIKeyAuth
// @Success     200 {object} ReconcileResponse "Number of keys reconciled"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     500 {object} ErrorResponse "Server error"
// @Failure     503 {object} ErrorResponse "Internal API not configured"
// @Router      /internal/reconcile [post]
func (h *MaintenanceHandler) ReconcileAll(c *gin.Context) {
	started := time.Now()

	n, err := h.reconciler.ReconcileAll(c.Request.Context(), h.concurrency)
	if err != nil {
		logger.Get().Errorw("reconcile all failed", "keys_committed", n, "error", err)
		_ = c.Error(apperrors.Wrap(apperrors.ErrInternalServer, err))
		return
	}

	elapsed := time.Since(started)
	logger.Get().Infow("reconciled all budgets", "keys", n, "duration", elapsed)

	c.JSON(http.StatusOK, ReconcileResponse{Reconciled: n, Duration: elapsed.String()})
}
