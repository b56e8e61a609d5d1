package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrFeedbackNotFound   = errors.New("feedback not found")
)

const defaultRetrainThreshold = 100

// RetrainNotifier receives the retraining-ready signal once a config's
// accepted-feedback count reaches its retrain threshold. Executing the
// retrain is an external collaborator's job; this core only signals.
type RetrainNotifier interface {
	NotifyRetrainReady(ctx context.Context, configID string, sampleCount int64)
}

// LogRetrainNotifier is the default notifier: it records the signal.
type LogRetrainNotifier struct {
	Logger *logrus.Logger
}

func (n *LogRetrainNotifier) NotifyRetrainReady(ctx context.Context, configID string, sampleCount int64) {
	n.Logger.WithFields(logrus.Fields{
		"config_id":    configID,
		"sample_count": sampleCount,
	}).Info("Retraining threshold reached")
}

type FeedbackService struct {
	configService *ConfigService
	repoManager   *repository.RepositoryManager
	notifier      RetrainNotifier
	logger        *logrus.Logger
}

func NewFeedbackService(configService *ConfigService, repoManager *repository.RepositoryManager, notifier RetrainNotifier, logger *logrus.Logger) *FeedbackService {
	if notifier == nil {
		notifier = &LogRetrainNotifier{Logger: logger}
	}
	return &FeedbackService{
		configService: configService,
		repoManager:   repoManager,
		notifier:      notifier,
		logger:        logger,
	}
}

// SubmitFeedback records a human correction for a stored prediction; the
// feedback starts in the pending review state.
func (s *FeedbackService) SubmitFeedback(ctx context.Context, req models.SubmitFeedbackRequest) (*models.SentimentFeedback, error) {
	prediction, err := s.repoManager.Prediction.GetByID(req.PredictionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}

	feedback := &models.SentimentFeedback{
		ID:             utils.NewID(),
		PredictionID:   prediction.ID,
		ConfigID:       prediction.ConfigID,
		UserLabel:      req.UserLabel,
		UserConfidence: req.UserConfidence,
		SubmittedBy:    req.UserID,
		ReviewStatus:   models.ReviewPending,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.repoManager.Feedback.Create(feedback); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"feedback_id":   feedback.ID,
		"prediction_id": prediction.ID,
		"user_label":    req.UserLabel,
	}).Info("Feedback submitted")

	return feedback, nil
}

// ReviewFeedback transitions a pending feedback to accepted or rejected.
// Acceptance triggers the retrain-threshold check.
func (s *FeedbackService) ReviewFeedback(ctx context.Context, feedbackID, status, reviewerID string) (*models.SentimentFeedback, error) {
	if status != models.ReviewAccepted && status != models.ReviewRejected {
		return nil, fmt.Errorf("invalid review status: %s", status)
	}

	feedback, err := s.repoManager.Feedback.GetByID(feedbackID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFeedbackNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	feedback.ReviewStatus = status
	feedback.ReviewedBy = &reviewerID
	feedback.ReviewedAt = &now
	feedback.UpdatedAt = now

	if err := s.repoManager.Feedback.Save(feedback); err != nil {
		return nil, err
	}

	if status == models.ReviewAccepted {
		s.checkRetrainThreshold(ctx, feedback.ConfigID)
	}

	return feedback, nil
}

// checkRetrainThreshold emits the retraining-ready signal once the count of
// accepted, not-yet-trained feedback reaches the config's threshold. The
// check is best-effort: it never fails the review that triggered it.
func (s *FeedbackService) checkRetrainThreshold(ctx context.Context, configID string) {
	cfg, err := s.configService.GetConfig(ctx, configID)
	if err != nil {
		s.logger.WithError(err).WithField("config_id", configID).Warn("Retrain check: config lookup failed")
		return
	}

	if cfg.Feedback == nil || !cfg.Feedback.AutoRetrain {
		return
	}

	threshold := cfg.Feedback.RetrainThreshold
	if threshold <= 0 {
		threshold = defaultRetrainThreshold
	}

	count, err := s.repoManager.Feedback.CountAcceptedUntrained(configID)
	if err != nil {
		s.logger.WithError(err).WithField("config_id", configID).Warn("Retrain check: count failed")
		return
	}

	if count >= int64(threshold) {
		s.notifier.NotifyRetrainReady(ctx, configID, count)
	}
}

// GetTrainingDataset selects accepted feedback not yet assigned to a batch.
func (s *FeedbackService) GetTrainingDataset(ctx context.Context, configID string, limit int) ([]models.SentimentFeedback, error) {
	return s.repoManager.Feedback.AcceptedUntrained(configID, limit)
}

// MarkAsIncludedInTraining assigns feedback rows to a training batch. Rows
// already in a batch keep their original batch id, so re-marking is
// idempotent and a feedback row never lands in two batches.
func (s *FeedbackService) MarkAsIncludedInTraining(ctx context.Context, feedbackIDs []string, batchID string) (string, int64, error) {
	if len(feedbackIDs) == 0 {
		return batchID, 0, nil
	}
	if batchID == "" {
		batchID = utils.NewTrainingBatchID()
	}

	marked, err := s.repoManager.Feedback.MarkTrained(feedbackIDs, batchID)
	if err != nil {
		return batchID, 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"marked":   marked,
	}).Info("Feedback marked for training")

	return batchID, marked, nil
}
