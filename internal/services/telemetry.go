package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	// Probability floor substituted for zero mass so the KL logarithm stays
	// finite over the union of labels.
	probabilityFloor = 0.0001

	recentWindowDays    = 7
	baselineWindowStart = 90 // days ago
	baselineWindowEnd   = 60 // days ago

	driftAlertEvent = "sentiment_drift_detected"
)

// MetricsCache is the slice of database.Cache the telemetry service uses.
// Nil disables caching.
type MetricsCache interface {
	GetCachedDashboardMetrics(ctx context.Context, configID string, days int, result interface{}) error
	CacheDashboardMetrics(ctx context.Context, configID string, days int, metrics interface{}, expiration time.Duration) error
}

// DriftResult reports one drift evaluation.
type DriftResult struct {
	ConfigID             string             `json:"config_id"`
	DriftDetected        bool               `json:"drift_detected"`
	Divergence           float64            `json:"divergence"`
	Threshold            float64            `json:"threshold"`
	BaselineDistribution map[string]float64 `json:"baseline_distribution,omitempty"`
	RecentDistribution   map[string]float64 `json:"recent_distribution,omitempty"`
	RolledBack           bool               `json:"rolled_back"`
	Alerted              bool               `json:"alerted"`
}

// MetricPoint is one dashboard data point.
type MetricPoint struct {
	Date     time.Time      `json:"date"`
	Value    float64        `json:"value"`
	Metadata models.JSONMap `json:"metadata,omitempty"`
}

type TelemetryService struct {
	configService *ConfigService
	repoManager   *repository.RepositoryManager
	cache         MetricsCache
	logger        *logrus.Logger
	httpClient    *http.Client
}

func NewTelemetryService(configService *ConfigService, repoManager *repository.RepositoryManager, cache MetricsCache, logger *logrus.Logger) *TelemetryService {
	return &TelemetryService{
		configService: configService,
		repoManager:   repoManager,
		cache:         cache,
		logger:        logger,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CalculateDailyMetrics aggregates one day of predictions for a config and
// upserts the rollup rows. Recomputing a day overwrites its prior values.
func (s *TelemetryService) CalculateDailyMetrics(ctx context.Context, configID string, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)

	predictions, err := s.repoManager.Prediction.ForDay(configID, day)
	if err != nil {
		return fmt.Errorf("failed to load predictions: %w", err)
	}
	if len(predictions) == 0 {
		s.logger.WithFields(logrus.Fields{
			"config_id": configID,
			"date":      day.Format("2006-01-02"),
		}).Debug("No predictions for day, skipping rollup")
		return nil
	}

	type labelStats struct {
		count         int
		sumScore      float64
		sumConfidence float64
	}
	stats := map[string]*labelStats{}
	var sumLatency float64

	for _, p := range predictions {
		ls, ok := stats[p.Label]
		if !ok {
			ls = &labelStats{}
			stats[p.Label] = ls
		}
		ls.count++
		ls.sumScore += p.Score
		ls.sumConfidence += p.Confidence
		sumLatency += float64(p.LatencyMs)
	}

	total := float64(len(predictions))
	distribution := make(map[string]float64, len(stats))
	for label, ls := range stats {
		distribution[label] = float64(ls.count) / total
	}

	var metrics []models.SentimentMetric
	for label, ls := range stats {
		n := float64(ls.count)
		metrics = append(metrics,
			models.SentimentMetric{ConfigID: configID, MetricDate: day, MetricName: label + "_count", Value: n},
			models.SentimentMetric{ConfigID: configID, MetricDate: day, MetricName: label + "_avg_score", Value: ls.sumScore / n},
			models.SentimentMetric{ConfigID: configID, MetricDate: day, MetricName: label + "_avg_confidence", Value: ls.sumConfidence / n},
		)
	}
	metrics = append(metrics,
		models.SentimentMetric{
			ConfigID:   configID,
			MetricDate: day,
			MetricName: "label_distribution",
			Metadata:   models.JSONMap{"distribution": distribution},
		},
		models.SentimentMetric{ConfigID: configID, MetricDate: day, MetricName: "avg_processing_time_ms", Value: sumLatency / total},
		models.SentimentMetric{ConfigID: configID, MetricDate: day, MetricName: "total_predictions", Value: total},
	)

	for i := range metrics {
		if err := s.repoManager.Metric.Upsert(&metrics[i]); err != nil {
			return fmt.Errorf("failed to upsert metric %s: %w", metrics[i].MetricName, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"config_id":   configID,
		"date":        day.Format("2006-01-02"),
		"predictions": len(predictions),
	}).Info("Daily metrics calculated")

	return nil
}

// DetectDrift compares the recent label distribution against the baseline
// window via KL divergence. Side effects (rollback, alert) are best-effort:
// their failures are logged, never propagated, so a drift sweep cannot
// destabilize anything.
func (s *TelemetryService) DetectDrift(ctx context.Context, configID string) (*DriftResult, error) {
	cfg, err := s.configService.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	result := &DriftResult{ConfigID: configID}
	if cfg.DriftDetection == nil || !cfg.DriftDetection.Enabled {
		return result, nil
	}
	result.Threshold = cfg.DriftDetection.Threshold

	now := time.Now().UTC()
	baseline, err := s.windowDistribution(configID, now.AddDate(0, 0, -baselineWindowStart), now.AddDate(0, 0, -baselineWindowEnd))
	if err != nil {
		return nil, err
	}
	recent, err := s.windowDistribution(configID, now.AddDate(0, 0, -recentWindowDays), now)
	if err != nil {
		return nil, err
	}

	if baseline == nil || recent == nil {
		s.logger.WithField("config_id", configID).Debug("Insufficient distribution data for drift detection")
		return result, nil
	}

	result.BaselineDistribution = baseline
	result.RecentDistribution = recent
	result.Divergence = klDivergence(recent, baseline)
	result.DriftDetected = result.Divergence > cfg.DriftDetection.Threshold

	if !result.DriftDetected {
		return result, nil
	}

	s.logger.WithFields(logrus.Fields{
		"config_id":  configID,
		"divergence": result.Divergence,
		"threshold":  cfg.DriftDetection.Threshold,
	}).Warn("Sentiment drift detected")

	if cfg.DriftDetection.RollbackOnDrift {
		result.RolledBack = s.rollbackOnDrift(ctx, cfg, result.Divergence)
	}
	if cfg.DriftDetection.AlertWebhook != "" {
		result.Alerted = s.sendDriftAlert(ctx, cfg.DriftDetection.AlertWebhook, result)
	}

	return result, nil
}

func (s *TelemetryService) rollbackOnDrift(ctx context.Context, cfg *models.SentimentConfig, divergence float64) bool {
	if cfg.Version <= 1 {
		s.logger.WithField("config_id", cfg.ConfigID).Info("Drift rollback skipped, already at version 1")
		return false
	}

	reason := fmt.Sprintf("automatic rollback: label distribution drift %.4f exceeded threshold %.4f", divergence, cfg.DriftDetection.Threshold)
	if _, err := s.configService.RollbackConfig(ctx, cfg.ConfigID, cfg.Version-1, "system", reason); err != nil {
		s.logger.WithError(err).WithField("config_id", cfg.ConfigID).Error("Drift rollback failed")
		return false
	}
	return true
}

func (s *TelemetryService) sendDriftAlert(ctx context.Context, webhookURL string, result *DriftResult) bool {
	payload := map[string]interface{}{
		"event":     driftAlertEvent,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]interface{}{
			"configId":             result.ConfigID,
			"driftScore":           result.Divergence,
			"threshold":            result.Threshold,
			"baselineDistribution": result.BaselineDistribution,
			"recentDistribution":   result.RecentDistribution,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal drift alert")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.WithError(err).Error("Failed to build drift alert request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("webhook", webhookURL).Error("Drift alert delivery failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{
			"webhook":     webhookURL,
			"status_code": resp.StatusCode,
		}).Error("Drift alert rejected")
		return false
	}
	return true
}

// windowDistribution averages the per-day label distributions inside a
// window. Returns nil when the window has no distribution data.
func (s *TelemetryService) windowDistribution(configID string, from, to time.Time) (map[string]float64, error) {
	rows, err := s.repoManager.Metric.ByName(configID, "label_distribution", from, to)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	sums := map[string]float64{}
	days := 0
	for _, row := range rows {
		dist, ok := row.Metadata["distribution"].(map[string]interface{})
		if !ok {
			continue
		}
		days++
		for label, v := range dist {
			if share, ok := toFloat(v); ok {
				sums[label] += share
			}
		}
	}
	if days == 0 {
		return nil, nil
	}

	avg := make(map[string]float64, len(sums))
	for label, sum := range sums {
		avg[label] = sum / float64(days)
	}
	return avg, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// klDivergence computes KL(recent || baseline) over the union of labels,
// substituting probabilityFloor for zero mass, and returns the absolute value.
func klDivergence(recent, baseline map[string]float64) float64 {
	labels := map[string]struct{}{}
	for label := range recent {
		labels[label] = struct{}{}
	}
	for label := range baseline {
		labels[label] = struct{}{}
	}

	var sum float64
	for label := range labels {
		p := recent[label]
		if p <= 0 {
			p = probabilityFloor
		}
		q := baseline[label]
		if q <= 0 {
			q = probabilityFloor
		}
		sum += p * math.Log(p/q)
	}
	return math.Abs(sum)
}

// GetDashboardMetrics groups the config's metric rows in the window by
// metric name for presentation.
func (s *TelemetryService) GetDashboardMetrics(ctx context.Context, configID string, days int) (map[string][]MetricPoint, error) {
	if days <= 0 {
		days = 30
	}

	if s.cache != nil {
		var cached map[string][]MetricPoint
		if err := s.cache.GetCachedDashboardMetrics(ctx, configID, days, &cached); err == nil && cached != nil {
			return cached, nil
		}
	}

	now := time.Now().UTC()
	rows, err := s.repoManager.Metric.Range(configID, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}

	grouped := map[string][]MetricPoint{}
	for _, row := range rows {
		grouped[row.MetricName] = append(grouped[row.MetricName], MetricPoint{
			Date:     row.MetricDate,
			Value:    row.Value,
			Metadata: row.Metadata,
		})
	}

	if s.cache != nil {
		if err := s.cache.CacheDashboardMetrics(ctx, configID, days, grouped, time.Minute); err != nil {
			s.logger.WithError(err).Debug("Failed to cache dashboard metrics")
		}
	}

	return grouped, nil
}

// RunDailySweep rolls up the given day and evaluates drift for every current
// config. Per-config failures are logged; the sweep continues.
func (s *TelemetryService) RunDailySweep(ctx context.Context, date time.Time) error {
	configs, err := s.repoManager.Config.ListCurrent()
	if err != nil {
		return fmt.Errorf("failed to list configs: %w", err)
	}

	for _, cfg := range configs {
		if err := s.CalculateDailyMetrics(ctx, cfg.ConfigID, date); err != nil {
			s.logger.WithError(err).WithField("config_id", cfg.ConfigID).Error("Daily rollup failed")
			continue
		}
		if _, err := s.DetectDrift(ctx, cfg.ConfigID); err != nil {
			s.logger.WithError(err).WithField("config_id", cfg.ConfigID).Error("Drift detection failed")
		}
	}
	return nil
}
