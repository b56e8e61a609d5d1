package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

const maxTextLength = 10000

type PredictionHandler struct {
	predictionService *services.PredictionService
	logger            *logrus.Logger
}

func NewPredictionHandler(predictionService *services.PredictionService, logger *logrus.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictionService: predictionService,
		logger:            logger,
	}
}

// HandlePredict classifies one text and persists the result according to the
// config's sampling policy.
func (h *PredictionHandler) HandlePredict(c *gin.Context) {
	start := time.Now()

	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if len(req.Text) > maxTextLength {
		utils.ErrorResponse(c, http.StatusBadRequest, "Text too long (max 10000 characters)", nil)
		return
	}

	prediction, err := h.predictionService.Predict(c.Request.Context(), req)
	if err != nil {
		h.respondPredictionError(c, err, "Prediction failed")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"label":         prediction.Label,
		"confidence":    prediction.Confidence,
		"persisted":     prediction.ID != "",
		"response_time": time.Since(start).Milliseconds(),
	}).Info("Prediction completed")

	utils.SuccessResponse(c, http.StatusOK, "Prediction completed", prediction)
}

// HandleBulkPredict classifies a batch. Items that fail are skipped; the
// response carries the successes.
func (h *PredictionHandler) HandleBulkPredict(c *gin.Context) {
	var req models.BulkPredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if len(req.Items) == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Items cannot be empty", nil)
		return
	}
	if len(req.Items) > 100 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Too many items (max 100)", nil)
		return
	}

	predictions, err := h.predictionService.BulkPredict(c.Request.Context(), req)
	if err != nil {
		h.respondPredictionError(c, err, "Bulk prediction failed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Bulk prediction completed", gin.H{
		"predictions": predictions,
		"requested":   len(req.Items),
		"completed":   len(predictions),
	})
}

// HandlePreview runs a prediction without persisting anything, optionally
// against an inline config that was never saved.
func (h *PredictionHandler) HandlePreview(c *gin.Context) {
	var req models.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	prediction, err := h.predictionService.Preview(c.Request.Context(), req)
	if err != nil {
		h.respondPredictionError(c, err, "Preview failed")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Preview completed", prediction)
}

// HandleContactHistory returns stored predictions for a contact.
func (h *PredictionHandler) HandleContactHistory(c *gin.Context) {
	contactID := c.Param("contactId")
	channel := c.Query("channel")

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid 'from' timestamp", err)
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid 'to' timestamp", err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	history, err := h.predictionService.GetContactHistory(c.Request.Context(), contactID, channel, from, to, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get contact history")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get contact history", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Contact history retrieved", history)
}

// HandleAggregatedMetrics returns per-channel label counts over a window.
func (h *PredictionHandler) HandleAggregatedMetrics(c *gin.Context) {
	now := time.Now().UTC()
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid 'from' timestamp", err)
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid 'to' timestamp", err)
		return
	}
	if from == nil {
		start := now.AddDate(0, 0, -30)
		from = &start
	}
	if to == nil {
		to = &now
	}

	aggregates, err := h.predictionService.GetAggregatedMetrics(c.Request.Context(), *from, *to, c.Query("channel"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to aggregate metrics")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to aggregate metrics", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Aggregated metrics retrieved", aggregates)
}

func (h *PredictionHandler) respondPredictionError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrNoConfig):
		utils.ErrorResponse(c, http.StatusNotFound, "No enabled sentiment config available", nil)
	case errors.Is(err, services.ErrConfigNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "Config not found", nil)
	case isValidationError(err):
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error(), nil)
	default:
		h.logger.WithError(err).Error(msg)
		utils.ErrorResponse(c, http.StatusBadGateway, msg, err)
	}
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
