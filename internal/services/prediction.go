package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/adapter"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/kinetiqhq/kinetiq/backend/internal/textproc"
	"github.com/kinetiqhq/kinetiq/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

// lowConfidenceCutoff is the bar below which confidence-based sampling always
// persists a prediction: low-confidence output is the most actionable and
// must never be silently dropped.
const lowConfidenceCutoff = 0.7

type adapterFactory func(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) (adapter.Adapter, error)

type PredictionService struct {
	configService *ConfigService
	repoManager   *repository.RepositoryManager
	normalizer    *textproc.Normalizer
	logger        *logrus.Logger

	newAdapter adapterFactory
	randFloat  func() float64
}

func NewPredictionService(configService *ConfigService, repoManager *repository.RepositoryManager, logger *logrus.Logger) *PredictionService {
	return &PredictionService{
		configService: configService,
		repoManager:   repoManager,
		normalizer:    textproc.NewNormalizer(),
		logger:        logger,
		newAdapter:    adapter.New,
		randFloat:     rand.Float64,
	}
}

// Predict resolves the config (explicit id, else effective global policy),
// invokes the model adapter, finalizes the label against the thresholds and
// persists the result when the sampling policy says so. A persisted
// prediction carries a non-empty ID.
func (s *PredictionService) Predict(ctx context.Context, req models.PredictRequest) (*models.SentimentPrediction, error) {
	cfg, err := s.resolveConfig(ctx, req.ConfigID)
	if err != nil {
		return nil, err
	}
	return s.predictWithConfig(ctx, cfg, req.Text, req.Channel, req.ContactID, true)
}

// BulkPredict processes items independently: a failing item is logged and
// skipped, the batch continues. Partial success is the designed behavior.
func (s *PredictionService) BulkPredict(ctx context.Context, req models.BulkPredictRequest) ([]models.SentimentPrediction, error) {
	cfg, err := s.resolveConfig(ctx, req.ConfigID)
	if err != nil {
		return nil, err
	}

	results := make([]models.SentimentPrediction, 0, len(req.Items))
	for i, item := range req.Items {
		prediction, err := s.predictWithConfig(ctx, cfg, item.Text, item.Channel, item.ContactID, true)
		if err != nil {
			s.logger.WithError(err).WithField("item", i).Warn("Bulk prediction item failed, skipping")
			continue
		}
		results = append(results, *prediction)
	}
	return results, nil
}

// Preview runs the identical pipeline without persisting, so an operator can
// test a configuration (saved or inline) before enabling it.
func (s *PredictionService) Preview(ctx context.Context, req models.PreviewRequest) (*models.SentimentPrediction, error) {
	var cfg *models.SentimentConfig
	var err error
	if req.Config != nil {
		cfg = req.Config
	} else {
		cfg, err = s.resolveConfig(ctx, req.ConfigID)
		if err != nil {
			return nil, err
		}
	}
	return s.predictWithConfig(ctx, cfg, req.Text, "", "", false)
}

// GetContactHistory returns stored predictions for a contact.
func (s *PredictionService) GetContactHistory(ctx context.Context, contactID, channel string, from, to *time.Time, limit int) ([]models.SentimentPrediction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repoManager.Prediction.ByContact(contactID, channel, from, to, limit)
}

// GetAggregatedMetrics groups stored predictions by (channel, label).
func (s *PredictionService) GetAggregatedMetrics(ctx context.Context, from, to time.Time, channel string) ([]models.ChannelLabelAggregate, error) {
	return s.repoManager.Prediction.Aggregate(from, to, channel)
}

func (s *PredictionService) resolveConfig(ctx context.Context, configID string) (*models.SentimentConfig, error) {
	if configID != "" {
		return s.configService.GetConfig(ctx, configID)
	}

	cfg, err := s.configService.GetEffectiveConfig(ctx, models.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return cfg, nil
}

func (s *PredictionService) predictWithConfig(ctx context.Context, cfg *models.SentimentConfig, text, channel, contactID string, persist bool) (*models.SentimentPrediction, error) {
	text = s.normalizer.Clean(text)
	if text == "" {
		return nil, fmt.Errorf("invalid text: nothing analyzable after normalization")
	}

	modelAdapter, err := s.newAdapter(cfg.Model, cfg.LabelMapping, s.logger)
	if err != nil {
		return nil, err
	}

	result, err := modelAdapter.Predict(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	prediction := &models.SentimentPrediction{
		ConfigID:    cfg.ConfigID,
		Text:        text,
		Channel:     channel,
		Label:       finalizeLabel(result.Label, result.Score, result.Confidence, cfg.Thresholds),
		Score:       result.Score,
		Confidence:  result.Confidence,
		RawResponse: result.RawResponse,
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.ModelID,
		LatencyMs:   result.ProcessingTimeMs,
		CreatedAt:   time.Now().UTC(),
	}
	if contactID != "" {
		prediction.ContactID = &contactID
	}

	if persist && shouldStore(cfg.Sampling, result.Confidence, s.randFloat) {
		prediction.ID = utils.NewID()
		if err := s.repoManager.Prediction.Create(prediction); err != nil {
			// Persistence is a sampling concern; a storage failure must not
			// fail the inference path.
			s.logger.WithError(err).Error("Failed to store prediction")
			prediction.ID = ""
		}
	}

	s.logger.WithFields(logrus.Fields{
		"config_id":  cfg.ConfigID,
		"provider":   cfg.Model.Provider,
		"label":      prediction.Label,
		"score":      prediction.Score,
		"confidence": prediction.Confidence,
		"latency_ms": prediction.LatencyMs,
		"stored":     prediction.ID != "",
	}).Debug("Prediction completed")

	return prediction, nil
}

// finalizeLabel applies the configured threshold cut points over the
// adapter's raw label. Scores in the ambiguous middle band keep the
// provider's nuanced label, unless its confidence falls under the configured
// minimum.
func finalizeLabel(rawLabel string, score, confidence float64, t models.Thresholds) string {
	switch {
	case t.Positive > 0 && score >= t.Positive:
		return models.LabelPositive
	case t.Negative > 0 && score <= -t.Negative:
		return models.LabelNegative
	case math.Abs(score) <= t.Neutral:
		return models.LabelNeutral
	}

	if t.MinConfidence != nil && confidence < *t.MinConfidence {
		return models.LabelNeutral
	}
	return rawLabel
}

// shouldStore decides persistence under the sampling policy. No policy and
// strategy "all" store everything. Confidence-based always keeps
// low-confidence predictions, samples confident ones at sampleRate when
// storeLowConfidence is set and drops them otherwise. Any other strategy
// samples uniformly at sampleRate.
func shouldStore(sampling *models.SamplingConfig, confidence float64, randFloat func() float64) bool {
	if sampling == nil || sampling.SampleStrategy == "" || sampling.SampleStrategy == "all" {
		return true
	}

	if sampling.SampleStrategy == "confidence-based" {
		if confidence < lowConfidenceCutoff {
			return true
		}
		if sampling.StoreLowConfidence {
			return randFloat() < sampling.SampleRate
		}
		return false
	}

	return randFloat() < sampling.SampleRate
}
