package services

import (
	"context"
	"testing"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedbackFixture(t *testing.T) (*FeedbackService, *ConfigService, *repository.RepositoryManager, *capturingNotifier, string) {
	t.Helper()

	repoManager := newFakeRepoManager()
	configService := NewConfigService(repoManager, nil, testLogger())
	notifier := &capturingNotifier{}
	svc := NewFeedbackService(configService, repoManager, notifier, testLogger())

	cfg := enabledKeywordConfig(models.ScopeGlobal, "")
	cfg.Feedback = &models.FeedbackPolicy{AutoRetrain: true, RetrainThreshold: 2}
	created, err := configService.CreateConfig(context.Background(), cfg, "ops")
	require.NoError(t, err)

	return svc, configService, repoManager, notifier, created.ConfigID
}

func storePrediction(t *testing.T, repoManager *repository.RepositoryManager, id, configID string) {
	t.Helper()
	require.NoError(t, repoManager.Prediction.Create(&models.SentimentPrediction{
		ID:         id,
		ConfigID:   configID,
		Text:       "some text",
		Label:      models.LabelNeutral,
		Confidence: 0.6,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestFeedbackService_Submit(t *testing.T) {
	svc, _, repoManager, _, configID := newFeedbackFixture(t)
	storePrediction(t, repoManager, "pred-1", configID)

	feedback, err := svc.SubmitFeedback(context.Background(), models.SubmitFeedbackRequest{
		PredictionID: "pred-1",
		UserLabel:    models.LabelNegative,
		UserID:       "agent-7",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, feedback.ID)
	assert.Equal(t, configID, feedback.ConfigID)
	assert.Equal(t, models.ReviewPending, feedback.ReviewStatus)
	assert.False(t, feedback.IncludedInTraining)
}

func TestFeedbackService_Submit_PredictionMissing(t *testing.T) {
	svc, _, _, _, _ := newFeedbackFixture(t)

	_, err := svc.SubmitFeedback(context.Background(), models.SubmitFeedbackRequest{
		PredictionID: "ghost",
		UserLabel:    models.LabelPositive,
	})
	assert.ErrorIs(t, err, ErrPredictionNotFound)
}

func TestFeedbackService_Submit_InvalidLabel(t *testing.T) {
	svc, _, repoManager, _, configID := newFeedbackFixture(t)
	storePrediction(t, repoManager, "pred-1", configID)

	_, err := svc.SubmitFeedback(context.Background(), models.SubmitFeedbackRequest{
		PredictionID: "pred-1",
		UserLabel:    "angry",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid label")
}

func TestFeedbackService_Review_InvalidStatus(t *testing.T) {
	svc, _, _, _, _ := newFeedbackFixture(t)

	_, err := svc.ReviewFeedback(context.Background(), "any", "approved", "reviewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid review status")
}

func TestFeedbackService_Review_NotFound(t *testing.T) {
	svc, _, _, _, _ := newFeedbackFixture(t)

	_, err := svc.ReviewFeedback(context.Background(), "ghost", models.ReviewAccepted, "reviewer")
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestFeedbackService_Review_AcceptTriggersRetrainSignal(t *testing.T) {
	svc, _, repoManager, notifier, configID := newFeedbackFixture(t)
	ctx := context.Background()

	var feedbackIDs []string
	for i, predID := range []string{"pred-1", "pred-2"} {
		storePrediction(t, repoManager, predID, configID)
		feedback, err := svc.SubmitFeedback(ctx, models.SubmitFeedbackRequest{
			PredictionID: predID,
			UserLabel:    models.LabelNegative,
			UserID:       "agent",
		})
		require.NoError(t, err, i)
		feedbackIDs = append(feedbackIDs, feedback.ID)
	}

	// First acceptance: one accepted row, threshold of 2 not reached.
	reviewed, err := svc.ReviewFeedback(ctx, feedbackIDs[0], models.ReviewAccepted, "lead")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewAccepted, reviewed.ReviewStatus)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, "lead", *reviewed.ReviewedBy)
	assert.Empty(t, notifier.configIDs)

	// Second acceptance crosses the threshold.
	_, err = svc.ReviewFeedback(ctx, feedbackIDs[1], models.ReviewAccepted, "lead")
	require.NoError(t, err)
	require.Len(t, notifier.configIDs, 1)
	assert.Equal(t, configID, notifier.configIDs[0])
	assert.EqualValues(t, 2, notifier.counts[0])
}

func TestFeedbackService_Review_RejectNeverSignals(t *testing.T) {
	svc, _, repoManager, notifier, configID := newFeedbackFixture(t)
	ctx := context.Background()

	storePrediction(t, repoManager, "pred-1", configID)
	feedback, err := svc.SubmitFeedback(ctx, models.SubmitFeedbackRequest{
		PredictionID: "pred-1",
		UserLabel:    models.LabelPositive,
	})
	require.NoError(t, err)

	_, err = svc.ReviewFeedback(ctx, feedback.ID, models.ReviewRejected, "lead")
	require.NoError(t, err)
	assert.Empty(t, notifier.configIDs)
}

func TestFeedbackService_TrainingLifecycle(t *testing.T) {
	svc, _, repoManager, _, configID := newFeedbackFixture(t)
	ctx := context.Background()

	var feedbackIDs []string
	for _, predID := range []string{"pred-1", "pred-2", "pred-3"} {
		storePrediction(t, repoManager, predID, configID)
		feedback, err := svc.SubmitFeedback(ctx, models.SubmitFeedbackRequest{
			PredictionID: predID,
			UserLabel:    models.LabelNegative,
		})
		require.NoError(t, err)
		feedbackIDs = append(feedbackIDs, feedback.ID)
	}

	// Accept two of three; the rejected one must stay out of the dataset.
	_, err := svc.ReviewFeedback(ctx, feedbackIDs[0], models.ReviewAccepted, "lead")
	require.NoError(t, err)
	_, err = svc.ReviewFeedback(ctx, feedbackIDs[1], models.ReviewAccepted, "lead")
	require.NoError(t, err)
	_, err = svc.ReviewFeedback(ctx, feedbackIDs[2], models.ReviewRejected, "lead")
	require.NoError(t, err)

	dataset, err := svc.GetTrainingDataset(ctx, configID, 100)
	require.NoError(t, err)
	assert.Len(t, dataset, 2)

	batchID, marked, err := svc.MarkAsIncludedInTraining(ctx, []string{feedbackIDs[0], feedbackIDs[1]}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	assert.EqualValues(t, 2, marked)

	// Marked rows leave the dataset.
	dataset, err = svc.GetTrainingDataset(ctx, configID, 100)
	require.NoError(t, err)
	assert.Empty(t, dataset)

	// Re-marking is a no-op and keeps the original batch assignment.
	_, marked, err = svc.MarkAsIncludedInTraining(ctx, []string{feedbackIDs[0]}, "batch-second")
	require.NoError(t, err)
	assert.EqualValues(t, 0, marked)

	row, err := repoManager.Feedback.GetByID(feedbackIDs[0])
	require.NoError(t, err)
	require.NotNil(t, row.TrainingBatchID)
	assert.Equal(t, batchID, *row.TrainingBatchID)
}

func TestFeedbackService_MarkTrained_EmptyInput(t *testing.T) {
	svc, _, _, _, _ := newFeedbackFixture(t)

	batchID, marked, err := svc.MarkAsIncludedInTraining(context.Background(), nil, "batch-x")
	require.NoError(t, err)
	assert.Equal(t, "batch-x", batchID)
	assert.Zero(t, marked)
}

func TestFeedbackService_AutoRetrainDisabled(t *testing.T) {
	repoManager := newFakeRepoManager()
	configService := NewConfigService(repoManager, nil, testLogger())
	notifier := &capturingNotifier{}
	svc := NewFeedbackService(configService, repoManager, notifier, testLogger())

	cfg := enabledKeywordConfig(models.ScopeGlobal, "")
	cfg.Feedback = &models.FeedbackPolicy{AutoRetrain: false, RetrainThreshold: 1}
	created, err := configService.CreateConfig(context.Background(), cfg, "ops")
	require.NoError(t, err)

	storePrediction(t, repoManager, "pred-1", created.ConfigID)
	feedback, err := svc.SubmitFeedback(context.Background(), models.SubmitFeedbackRequest{
		PredictionID: "pred-1",
		UserLabel:    models.LabelPositive,
	})
	require.NoError(t, err)

	_, err = svc.ReviewFeedback(context.Background(), feedback.ID, models.ReviewAccepted, "lead")
	require.NoError(t, err)
	assert.Empty(t, notifier.configIDs)
}
