package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/kinetiqhq/kinetiq/backend/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// In-memory repository fakes backing the service tests.

type fakeConfigRepo struct {
	rows      []*models.SentimentConfig
	nextRowID uint
	insertErr error
}

func (r *fakeConfigRepo) Insert(cfg *models.SentimentConfig) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.nextRowID++
	cfg.RowID = r.nextRowID
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	stored := *cfg
	r.rows = append(r.rows, &stored)
	return nil
}

func (r *fakeConfigRepo) Current(configID string) (*models.SentimentConfig, error) {
	var best *models.SentimentConfig
	for _, row := range r.rows {
		if row.ConfigID != configID || row.DeletedAt != nil {
			continue
		}
		if best == nil || row.Version > best.Version {
			best = row
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *best
	return &copied, nil
}

func (r *fakeConfigRepo) Version(configID string, version int) (*models.SentimentConfig, error) {
	for _, row := range r.rows {
		if row.ConfigID == configID && row.Version == version && row.DeletedAt == nil {
			copied := *row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeConfigRepo) Versions(configID string) ([]models.SentimentConfig, error) {
	var out []models.SentimentConfig
	for _, row := range r.rows {
		if row.ConfigID == configID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r *fakeConfigRepo) Candidates(scopeID string) ([]models.SentimentConfig, error) {
	current := map[string]*models.SentimentConfig{}
	for _, row := range r.rows {
		if row.DeletedAt != nil {
			continue
		}
		if row.Scope != models.ScopeGlobal && row.ScopeID != scopeID {
			continue
		}
		if cur, ok := current[row.ConfigID]; !ok || row.Version > cur.Version {
			current[row.ConfigID] = row
		}
	}
	var out []models.SentimentConfig
	for _, row := range current {
		out = append(out, *row)
	}
	return out, nil
}

func (r *fakeConfigRepo) ListCurrent() ([]models.SentimentConfig, error) {
	current := map[string]*models.SentimentConfig{}
	for _, row := range r.rows {
		if row.DeletedAt != nil {
			continue
		}
		if cur, ok := current[row.ConfigID]; !ok || row.Version > cur.Version {
			current[row.ConfigID] = row
		}
	}
	var out []models.SentimentConfig
	for _, row := range current {
		out = append(out, *row)
	}
	return out, nil
}

func (r *fakeConfigRepo) SetEnabled(configID string, enabled bool) error {
	var best *models.SentimentConfig
	for _, row := range r.rows {
		if row.ConfigID != configID || row.DeletedAt != nil {
			continue
		}
		if best == nil || row.Version > best.Version {
			best = row
		}
	}
	if best == nil {
		return gorm.ErrRecordNotFound
	}
	best.Enabled = enabled
	return nil
}

func (r *fakeConfigRepo) SoftDelete(configID string) error {
	now := time.Now().UTC()
	for _, row := range r.rows {
		if row.ConfigID == configID {
			row.DeletedAt = &now
		}
	}
	return nil
}

type fakeAuditRepo struct {
	entries []models.SentimentConfigAudit
}

func (r *fakeAuditRepo) Append(entry *models.SentimentConfigAudit) error {
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) History(configID string, limit int) ([]models.SentimentConfigAudit, error) {
	var out []models.SentimentConfigAudit
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].ConfigID == configID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

type fakePredictionRepo struct {
	rows      []models.SentimentPrediction
	createErr error
}

func (r *fakePredictionRepo) Create(p *models.SentimentPrediction) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.rows = append(r.rows, *p)
	return nil
}

func (r *fakePredictionRepo) GetByID(id string) (*models.SentimentPrediction, error) {
	for i := range r.rows {
		if r.rows[i].ID == id {
			copied := r.rows[i]
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePredictionRepo) ByContact(contactID, channel string, from, to *time.Time, limit int) ([]models.SentimentPrediction, error) {
	var out []models.SentimentPrediction
	for _, row := range r.rows {
		if row.ContactID == nil || *row.ContactID != contactID {
			continue
		}
		if channel != "" && row.Channel != channel {
			continue
		}
		if from != nil && row.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && row.CreatedAt.After(*to) {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakePredictionRepo) ForDay(configID string, day time.Time) ([]models.SentimentPrediction, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	var out []models.SentimentPrediction
	for _, row := range r.rows {
		if row.ConfigID != configID {
			continue
		}
		if row.CreatedAt.Before(start) || !row.CreatedAt.Before(end) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *fakePredictionRepo) Aggregate(from, to time.Time, channel string) ([]models.ChannelLabelAggregate, error) {
	counts := map[string]*models.ChannelLabelAggregate{}
	for _, row := range r.rows {
		if channel != "" && row.Channel != channel {
			continue
		}
		if row.CreatedAt.Before(from) || row.CreatedAt.After(to) {
			continue
		}
		key := row.Channel + "|" + row.Label
		agg, ok := counts[key]
		if !ok {
			agg = &models.ChannelLabelAggregate{Channel: row.Channel, Label: row.Label}
			counts[key] = agg
		}
		agg.Count++
	}
	var out []models.ChannelLabelAggregate
	for _, agg := range counts {
		out = append(out, *agg)
	}
	return out, nil
}

type fakeFeedbackRepo struct {
	rows map[string]*models.SentimentFeedback
}

func newFakeFeedbackRepo() *fakeFeedbackRepo {
	return &fakeFeedbackRepo{rows: map[string]*models.SentimentFeedback{}}
}

func (r *fakeFeedbackRepo) Create(f *models.SentimentFeedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	stored := *f
	r.rows[f.ID] = &stored
	return nil
}

func (r *fakeFeedbackRepo) GetByID(id string) (*models.SentimentFeedback, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *fakeFeedbackRepo) Save(f *models.SentimentFeedback) error {
	stored := *f
	r.rows[f.ID] = &stored
	return nil
}

func (r *fakeFeedbackRepo) CountAcceptedUntrained(configID string) (int64, error) {
	var count int64
	for _, row := range r.rows {
		if row.ConfigID == configID && row.ReviewStatus == models.ReviewAccepted && !row.IncludedInTraining {
			count++
		}
	}
	return count, nil
}

func (r *fakeFeedbackRepo) AcceptedUntrained(configID string, limit int) ([]models.SentimentFeedback, error) {
	var out []models.SentimentFeedback
	for _, row := range r.rows {
		if configID != "" && row.ConfigID != configID {
			continue
		}
		if row.ReviewStatus != models.ReviewAccepted || row.IncludedInTraining {
			continue
		}
		out = append(out, *row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeFeedbackRepo) MarkTrained(ids []string, batchID string) (int64, error) {
	var marked int64
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok || row.IncludedInTraining {
			continue
		}
		row.IncludedInTraining = true
		row.TrainingBatchID = &batchID
		marked++
	}
	return marked, nil
}

type fakeMetricRepo struct {
	rows []models.SentimentMetric
}

func (r *fakeMetricRepo) Upsert(m *models.SentimentMetric) error {
	for i := range r.rows {
		if r.rows[i].ConfigID == m.ConfigID && r.rows[i].MetricDate.Equal(m.MetricDate) && r.rows[i].MetricName == m.MetricName {
			r.rows[i].Value = m.Value
			r.rows[i].Metadata = m.Metadata
			return nil
		}
	}
	r.rows = append(r.rows, *m)
	return nil
}

func (r *fakeMetricRepo) Range(configID string, from, to time.Time) ([]models.SentimentMetric, error) {
	var out []models.SentimentMetric
	for _, row := range r.rows {
		if row.ConfigID == configID && !row.MetricDate.Before(from) && !row.MetricDate.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeMetricRepo) ByName(configID, name string, from, to time.Time) ([]models.SentimentMetric, error) {
	var out []models.SentimentMetric
	for _, row := range r.rows {
		if row.ConfigID == configID && row.MetricName == name && !row.MetricDate.Before(from) && !row.MetricDate.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func newFakeRepoManager() *repository.RepositoryManager {
	return &repository.RepositoryManager{
		Config:     &fakeConfigRepo{},
		Audit:      &fakeAuditRepo{},
		Prediction: &fakePredictionRepo{},
		Feedback:   newFakeFeedbackRepo(),
		Metric:     &fakeMetricRepo{},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type capturingNotifier struct {
	configIDs []string
	counts    []int64
}

func (n *capturingNotifier) NotifyRetrainReady(ctx context.Context, configID string, sampleCount int64) {
	n.configIDs = append(n.configIDs, configID)
	n.counts = append(n.counts, sampleCount)
}

func enabledKeywordConfig(scope, scopeID string) *models.SentimentConfig {
	return &models.SentimentConfig{
		Name:    strings.TrimSpace(scope + " " + scopeID + " policy"),
		Scope:   scope,
		ScopeID: scopeID,
		Mode:    "keyword",
		Enabled: true,
		Model: models.ModelConfig{
			Provider:         models.ProviderKeyword,
			PositiveKeywords: []string{"great", "love"},
			NegativeKeywords: []string{"terrible", "hate"},
		},
		Thresholds: models.Thresholds{Positive: 0.5, Negative: 0.5, Neutral: 0.2},
	}
}
