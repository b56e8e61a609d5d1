package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/services"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

type FeedbackHandler struct {
	feedbackService *services.FeedbackService
	logger          *logrus.Logger
}

func NewFeedbackHandler(feedbackService *services.FeedbackService, logger *logrus.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		feedbackService: feedbackService,
		logger:          logger,
	}
}

// HandleSubmitFeedback records a user correction against a stored prediction.
func (h *FeedbackHandler) HandleSubmitFeedback(c *gin.Context) {
	var req models.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback format", err)
		return
	}

	feedback, err := h.feedbackService.SubmitFeedback(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrPredictionNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Prediction not found", nil)
			return
		}
		if isValidationError(err) {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid feedback", err)
			return
		}
		h.logger.WithError(err).Error("Failed to submit feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to submit feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Feedback submitted", feedback)
}

// HandleReviewFeedback accepts or rejects a pending feedback entry.
func (h *FeedbackHandler) HandleReviewFeedback(c *gin.Context) {
	var req models.ReviewFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid review format", err)
		return
	}

	reviewer := req.ReviewerID
	if reviewer == "" {
		reviewer = actor(c)
	}

	feedback, err := h.feedbackService.ReviewFeedback(c.Request.Context(), c.Param("id"), req.Status, reviewer)
	if err != nil {
		if errors.Is(err, services.ErrFeedbackNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Feedback not found", nil)
			return
		}
		if isValidationError(err) {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid review", err)
			return
		}
		h.logger.WithError(err).Error("Failed to review feedback")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to review feedback", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Feedback reviewed", feedback)
}

// HandleTrainingDataset returns accepted feedback not yet used for training.
func (h *FeedbackHandler) HandleTrainingDataset(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))

	dataset, err := h.feedbackService.GetTrainingDataset(c.Request.Context(), c.Query("config_id"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get training dataset")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get training dataset", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Training dataset retrieved", dataset)
}

// HandleMarkTrained tags feedback rows as consumed by a training batch.
// Re-marking already-consumed rows is a no-op.
func (h *FeedbackHandler) HandleMarkTrained(c *gin.Context) {
	var req models.MarkTrainedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	batchID, marked, err := h.feedbackService.MarkAsIncludedInTraining(c.Request.Context(), req.FeedbackIDs, req.BatchID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to mark feedback as trained")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to mark feedback as trained", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Feedback marked as trained", gin.H{
		"batch_id": batchID,
		"marked":   marked,
	})
}
