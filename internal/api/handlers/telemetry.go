package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

type TelemetryHandler struct {
	telemetryService *services.TelemetryService
	logger           *logrus.Logger
}

func NewTelemetryHandler(telemetryService *services.TelemetryService, logger *logrus.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		telemetryService: telemetryService,
		logger:           logger,
	}
}

// HandleTriggerRollup recomputes the daily rollup for a config. Defaults to
// yesterday when no date is given.
func (h *TelemetryHandler) HandleTriggerRollup(c *gin.Context) {
	configID := c.Param("id")

	date := time.Now().UTC().AddDate(0, 0, -1)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		date = parsed
	}

	if err := h.telemetryService.CalculateDailyMetrics(c.Request.Context(), configID, date); err != nil {
		h.logger.WithError(err).Error("Rollup failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Rollup failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Rollup completed", gin.H{
		"config_id": configID,
		"date":      date.Format("2006-01-02"),
	})
}

// HandleDetectDrift evaluates drift for a config and reports the divergence
// plus any rollback or alert it triggered.
func (h *TelemetryHandler) HandleDetectDrift(c *gin.Context) {
	result, err := h.telemetryService.DetectDrift(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrConfigNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Config not found", nil)
			return
		}
		h.logger.WithError(err).Error("Drift detection failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Drift detection failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Drift evaluation completed", result)
}

// HandleDashboardMetrics returns the config's metric series for dashboards.
func (h *TelemetryHandler) HandleDashboardMetrics(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days > 365 {
		days = 365
	}

	metrics, err := h.telemetryService.GetDashboardMetrics(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get dashboard metrics")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get dashboard metrics", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Dashboard metrics retrieved", metrics)
}
