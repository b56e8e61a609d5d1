package services

import (
	"context"
	"errors"
	"testing"

	"github.com/kinetiqhq/kinetiq/backend/internal/adapter"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter returns a fixed result, so tests control score and confidence.
type stubAdapter struct {
	result *adapter.Result
	err    error
}

func (a *stubAdapter) Name() string { return "stub" }
func (a *stubAdapter) Predict(ctx context.Context, text string) (*adapter.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	copied := *a.result
	return &copied, nil
}

func newPredictionService(repoManager *repository.RepositoryManager) (*PredictionService, *ConfigService) {
	configService := NewConfigService(repoManager, nil, testLogger())
	predictionService := NewPredictionService(configService, repoManager, testLogger())
	return predictionService, configService
}

func stubFactory(result *adapter.Result, err error) adapterFactory {
	return func(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) (adapter.Adapter, error) {
		return &stubAdapter{result: result, err: err}, nil
	}
}

func TestPredictionService_Predict_PersistsAndStores(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	created, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	svc.newAdapter = stubFactory(&adapter.Result{Label: models.LabelPositive, Score: 0.8, Confidence: 0.9}, nil)

	prediction, err := svc.Predict(context.Background(), models.PredictRequest{
		Text:      "great product",
		Channel:   "email",
		ContactID: "contact-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.LabelPositive, prediction.Label)
	assert.Equal(t, created.ConfigID, prediction.ConfigID)
	assert.NotEmpty(t, prediction.ID, "default sampling stores every prediction")
	require.NotNil(t, prediction.ContactID)
	assert.Equal(t, "contact-1", *prediction.ContactID)

	stored := repoManager.Prediction.(*fakePredictionRepo).rows
	require.Len(t, stored, 1)
	assert.Equal(t, prediction.ID, stored[0].ID)
}

func TestPredictionService_Predict_NoConfig(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, _ := newPredictionService(repoManager)

	_, err := svc.Predict(context.Background(), models.PredictRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestPredictionService_Predict_ExplicitConfigNotFound(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, _ := newPredictionService(repoManager)

	_, err := svc.Predict(context.Background(), models.PredictRequest{Text: "hello", ConfigID: "missing"})
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestPredictionService_Predict_StorageFailureDoesNotFail(t *testing.T) {
	repoManager := newFakeRepoManager()
	repoManager.Prediction.(*fakePredictionRepo).createErr = errors.New("connection refused")
	svc, configService := newPredictionService(repoManager)

	_, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	svc.newAdapter = stubFactory(&adapter.Result{Label: models.LabelNegative, Score: -0.8, Confidence: 0.9}, nil)

	prediction, err := svc.Predict(context.Background(), models.PredictRequest{Text: "bad"})
	require.NoError(t, err)
	assert.Equal(t, models.LabelNegative, prediction.Label)
	assert.Empty(t, prediction.ID, "failed persistence leaves the prediction transient")
}

func TestFinalizeLabel(t *testing.T) {
	thresholds := models.Thresholds{Positive: 0.6, Negative: 0.6, Neutral: 0.2}

	cases := []struct {
		name     string
		raw      string
		score    float64
		expected string
	}{
		{"above positive cut", models.LabelNeutral, 0.7, models.LabelPositive},
		{"below negative cut", models.LabelNeutral, -0.65, models.LabelNegative},
		{"inside neutral band", models.LabelPositive, 0.1, models.LabelNeutral},
		{"ambiguous band keeps adapter label", models.LabelMixed, 0.4, models.LabelMixed},
		{"negative ambiguous band", models.LabelNegative, -0.35, models.LabelNegative},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, finalizeLabel(tc.raw, tc.score, 0.9, thresholds))
		})
	}
}

func TestFinalizeLabel_MinConfidenceGate(t *testing.T) {
	minConf := 0.75
	thresholds := models.Thresholds{Positive: 0.6, Negative: 0.6, Neutral: 0.2, MinConfidence: &minConf}

	// Ambiguous-band label with confidence under the minimum collapses to
	// neutral; threshold-decided labels are unaffected.
	assert.Equal(t, models.LabelNeutral, finalizeLabel(models.LabelMixed, 0.4, 0.5, thresholds))
	assert.Equal(t, models.LabelMixed, finalizeLabel(models.LabelMixed, 0.4, 0.8, thresholds))
	assert.Equal(t, models.LabelPositive, finalizeLabel(models.LabelNeutral, 0.9, 0.1, thresholds))
}

func TestFinalizeLabel_ZeroValueThresholds(t *testing.T) {
	// Unconfigured thresholds must not classify everything as positive or
	// negative via a zero cut point.
	assert.Equal(t, models.LabelNeutral, finalizeLabel(models.LabelNeutral, 0.0, 0.9, models.Thresholds{}))
}

func TestShouldStore(t *testing.T) {
	fixedRand := func(v float64) func() float64 { return func() float64 { return v } }

	t.Run("nil policy stores everything", func(t *testing.T) {
		assert.True(t, shouldStore(nil, 0.1, fixedRand(0.99)))
	})

	t.Run("all strategy stores everything", func(t *testing.T) {
		s := &models.SamplingConfig{SampleStrategy: "all", SampleRate: 0}
		assert.True(t, shouldStore(s, 0.99, fixedRand(0.99)))
	})

	t.Run("confidence-based always keeps low confidence", func(t *testing.T) {
		s := &models.SamplingConfig{SampleStrategy: "confidence-based", SampleRate: 0, StoreLowConfidence: false}
		assert.True(t, shouldStore(s, 0.5, fixedRand(0.99)))
		assert.False(t, shouldStore(s, 0.9, fixedRand(0.0)))
	})

	t.Run("confidence-based samples confident predictions when flagged", func(t *testing.T) {
		s := &models.SamplingConfig{SampleStrategy: "confidence-based", SampleRate: 0.3, StoreLowConfidence: true}
		assert.True(t, shouldStore(s, 0.9, fixedRand(0.2)))
		assert.False(t, shouldStore(s, 0.9, fixedRand(0.5)))
	})

	t.Run("random strategy samples uniformly", func(t *testing.T) {
		s := &models.SamplingConfig{SampleStrategy: "random", SampleRate: 0.5}
		assert.True(t, shouldStore(s, 0.9, fixedRand(0.4)))
		assert.False(t, shouldStore(s, 0.9, fixedRand(0.6)))
	})
}

func TestPredictionService_SamplingSkipsPersistence(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	cfg := enabledKeywordConfig(models.ScopeGlobal, "")
	cfg.Sampling = &models.SamplingConfig{SampleStrategy: "confidence-based", SampleRate: 0, StoreLowConfidence: false}
	_, err := configService.CreateConfig(context.Background(), cfg, "ops")
	require.NoError(t, err)

	svc.newAdapter = stubFactory(&adapter.Result{Label: models.LabelPositive, Score: 0.9, Confidence: 0.95}, nil)

	prediction, err := svc.Predict(context.Background(), models.PredictRequest{Text: "great"})
	require.NoError(t, err)

	assert.Empty(t, prediction.ID)
	assert.Empty(t, repoManager.Prediction.(*fakePredictionRepo).rows)
}

func TestPredictionService_BulkPredict_PartialSuccess(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	_, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	var call int
	svc.newAdapter = func(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) (adapter.Adapter, error) {
		call++
		if call == 2 {
			return &stubAdapter{err: errors.New("provider timeout")}, nil
		}
		return &stubAdapter{result: &adapter.Result{Label: models.LabelPositive, Score: 0.8, Confidence: 0.9}}, nil
	}

	results, err := svc.BulkPredict(context.Background(), models.BulkPredictRequest{
		Items: []models.PredictItem{
			{Text: "one"},
			{Text: "two"},
			{Text: "three"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2, "failing item is skipped, batch continues")
}

func TestPredictionService_Preview_NeverPersists(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	_, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	svc.newAdapter = stubFactory(&adapter.Result{Label: models.LabelPositive, Score: 0.9, Confidence: 0.99}, nil)

	prediction, err := svc.Preview(context.Background(), models.PreviewRequest{Text: "great"})
	require.NoError(t, err)

	assert.Empty(t, prediction.ID)
	assert.Empty(t, repoManager.Prediction.(*fakePredictionRepo).rows)
}

func TestPredictionService_Preview_InlineConfig(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, _ := newPredictionService(repoManager)

	// Inline config that was never saved anywhere.
	inline := enabledKeywordConfig(models.ScopeGlobal, "")
	prediction, err := svc.Preview(context.Background(), models.PreviewRequest{
		Text:   "I love this, great work",
		Config: inline,
	})
	require.NoError(t, err)

	assert.Equal(t, models.LabelPositive, prediction.Label)
	assert.Empty(t, prediction.ID)
}

func TestPredictionService_ContactHistory_LimitClamped(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, _ := newPredictionService(repoManager)

	_, err := svc.GetContactHistory(context.Background(), "contact-1", "", nil, nil, -5)
	require.NoError(t, err)
	_, err = svc.GetContactHistory(context.Background(), "contact-1", "", nil, nil, 10000)
	require.NoError(t, err)
}

func TestPredictionService_Predict_NormalizesText(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	_, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	prediction, err := svc.Predict(context.Background(), models.PredictRequest{
		Text: "<p>I   <b>love</b> this</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "I love this", prediction.Text)
	assert.Equal(t, models.LabelPositive, prediction.Label)
}

func TestPredictionService_Predict_EmptyAfterNormalization(t *testing.T) {
	repoManager := newFakeRepoManager()
	svc, configService := newPredictionService(repoManager)

	_, err := configService.CreateConfig(context.Background(), enabledKeywordConfig(models.ScopeGlobal, ""), "ops")
	require.NoError(t, err)

	_, err = svc.Predict(context.Background(), models.PredictRequest{Text: "<div><br/></div>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid text")
}
