package repository

import (
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"gorm.io/gorm"
)

// ConfigRepositoryImpl implements ConfigRepository
type ConfigRepositoryImpl struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) models.ConfigRepository {
	return &ConfigRepositoryImpl{db: db}
}

func (r *ConfigRepositoryImpl) Insert(cfg *models.SentimentConfig) error {
	return r.db.Create(cfg).Error
}

func (r *ConfigRepositoryImpl) Current(configID string) (*models.SentimentConfig, error) {
	var cfg models.SentimentConfig
	err := r.db.Where("config_id = ? AND deleted_at IS NULL", configID).
		Order("version DESC").
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *ConfigRepositoryImpl) Version(configID string, version int) (*models.SentimentConfig, error) {
	var cfg models.SentimentConfig
	err := r.db.Where("config_id = ? AND version = ? AND deleted_at IS NULL", configID, version).
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *ConfigRepositoryImpl) Versions(configID string) ([]models.SentimentConfig, error) {
	var configs []models.SentimentConfig
	err := r.db.Where("config_id = ?", configID).
		Order("version DESC").
		Find(&configs).Error
	return configs, err
}

func (r *ConfigRepositoryImpl) Candidates(scopeID string) ([]models.SentimentConfig, error) {
	var configs []models.SentimentConfig
	err := r.db.Raw(`
		SELECT DISTINCT ON (config_id) *
		FROM sentiment_configs
		WHERE deleted_at IS NULL AND (scope = 'global' OR scope_id = ?)
		ORDER BY config_id, version DESC
	`, scopeID).Scan(&configs).Error
	return configs, err
}

func (r *ConfigRepositoryImpl) ListCurrent() ([]models.SentimentConfig, error) {
	var configs []models.SentimentConfig
	err := r.db.Raw(`
		SELECT DISTINCT ON (config_id) *
		FROM sentiment_configs
		WHERE deleted_at IS NULL
		ORDER BY config_id, version DESC
	`).Scan(&configs).Error
	return configs, err
}

func (r *ConfigRepositoryImpl) SetEnabled(configID string, enabled bool) error {
	return r.db.Exec(`
		UPDATE sentiment_configs
		SET enabled = ?, updated_at = NOW()
		WHERE config_id = ? AND deleted_at IS NULL
		  AND version = (
			SELECT MAX(version) FROM sentiment_configs
			WHERE config_id = ? AND deleted_at IS NULL
		  )
	`, enabled, configID, configID).Error
}

func (r *ConfigRepositoryImpl) SoftDelete(configID string) error {
	return r.db.Exec(`
		UPDATE sentiment_configs
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE config_id = ? AND deleted_at IS NULL
	`, configID).Error
}

// AuditRepositoryImpl implements AuditRepository
type AuditRepositoryImpl struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) models.AuditRepository {
	return &AuditRepositoryImpl{db: db}
}

func (r *AuditRepositoryImpl) Append(entry *models.SentimentConfigAudit) error {
	return r.db.Create(entry).Error
}

func (r *AuditRepositoryImpl) History(configID string, limit int) ([]models.SentimentConfigAudit, error) {
	var entries []models.SentimentConfigAudit
	err := r.db.Where("config_id = ?", configID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// PredictionRepositoryImpl implements PredictionRepository
type PredictionRepositoryImpl struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) models.PredictionRepository {
	return &PredictionRepositoryImpl{db: db}
}

func (r *PredictionRepositoryImpl) Create(p *models.SentimentPrediction) error {
	return r.db.Create(p).Error
}

func (r *PredictionRepositoryImpl) GetByID(id string) (*models.SentimentPrediction, error) {
	var prediction models.SentimentPrediction
	err := r.db.Where("id = ?", id).First(&prediction).Error
	if err != nil {
		return nil, err
	}
	return &prediction, nil
}

func (r *PredictionRepositoryImpl) ByContact(contactID, channel string, from, to *time.Time, limit int) ([]models.SentimentPrediction, error) {
	query := r.db.Where("contact_id = ?", contactID)
	if channel != "" {
		query = query.Where("channel = ?", channel)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var predictions []models.SentimentPrediction
	err := query.Order("created_at DESC").
		Limit(limit).
		Find(&predictions).Error
	return predictions, err
}

func (r *PredictionRepositoryImpl) ForDay(configID string, day time.Time) ([]models.SentimentPrediction, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var predictions []models.SentimentPrediction
	err := r.db.Where("config_id = ? AND created_at >= ? AND created_at < ?", configID, dayStart, dayEnd).
		Find(&predictions).Error
	return predictions, err
}

func (r *PredictionRepositoryImpl) Aggregate(from, to time.Time, channel string) ([]models.ChannelLabelAggregate, error) {
	var rows []models.ChannelLabelAggregate
	if channel != "" {
		err := r.db.Raw(`
			SELECT channel, label, COUNT(*) AS count,
			       AVG(score) AS avg_score, AVG(confidence) AS avg_confidence
			FROM sentiment_predictions
			WHERE created_at BETWEEN ? AND ? AND channel = ?
			GROUP BY channel, label
			ORDER BY channel, label
		`, from, to, channel).Scan(&rows).Error
		return rows, err
	}

	err := r.db.Raw(`
		SELECT channel, label, COUNT(*) AS count,
		       AVG(score) AS avg_score, AVG(confidence) AS avg_confidence
		FROM sentiment_predictions
		WHERE created_at BETWEEN ? AND ?
		GROUP BY channel, label
		ORDER BY channel, label
	`, from, to).Scan(&rows).Error
	return rows, err
}

// FeedbackRepositoryImpl implements FeedbackRepository
type FeedbackRepositoryImpl struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) models.FeedbackRepository {
	return &FeedbackRepositoryImpl{db: db}
}

func (r *FeedbackRepositoryImpl) Create(f *models.SentimentFeedback) error {
	return r.db.Create(f).Error
}

func (r *FeedbackRepositoryImpl) GetByID(id string) (*models.SentimentFeedback, error) {
	var feedback models.SentimentFeedback
	err := r.db.Where("id = ?", id).First(&feedback).Error
	if err != nil {
		return nil, err
	}
	return &feedback, nil
}

func (r *FeedbackRepositoryImpl) Save(f *models.SentimentFeedback) error {
	return r.db.Save(f).Error
}

func (r *FeedbackRepositoryImpl) CountAcceptedUntrained(configID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.SentimentFeedback{}).
		Where("config_id = ? AND review_status = ? AND included_in_training = ?", configID, models.ReviewAccepted, false).
		Count(&count).Error
	return count, err
}

func (r *FeedbackRepositoryImpl) AcceptedUntrained(configID string, limit int) ([]models.SentimentFeedback, error) {
	var feedback []models.SentimentFeedback
	query := r.db.Where("config_id = ? AND review_status = ? AND included_in_training = ?", configID, models.ReviewAccepted, false).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&feedback).Error
	return feedback, err
}

// MarkTrained assigns rows to a training batch. Rows already marked keep
// their original batch, which makes double-marking a no-op.
func (r *FeedbackRepositoryImpl) MarkTrained(ids []string, batchID string) (int64, error) {
	result := r.db.Exec(`
		UPDATE sentiment_feedback
		SET included_in_training = TRUE, training_batch_id = ?, updated_at = NOW()
		WHERE id IN ? AND included_in_training = FALSE
	`, batchID, ids)
	return result.RowsAffected, result.Error
}

// MetricRepositoryImpl implements MetricRepository
type MetricRepositoryImpl struct {
	db *gorm.DB
}

func NewMetricRepository(db *gorm.DB) models.MetricRepository {
	return &MetricRepositoryImpl{db: db}
}

func (r *MetricRepositoryImpl) Upsert(m *models.SentimentMetric) error {
	return r.db.Exec(`
		INSERT INTO sentiment_metrics (config_id, metric_date, metric_name, value, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON CONFLICT (config_id, metric_date, metric_name)
		DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`, m.ConfigID, m.MetricDate, m.MetricName, m.Value, m.Metadata).Error
}

func (r *MetricRepositoryImpl) Range(configID string, from, to time.Time) ([]models.SentimentMetric, error) {
	var metrics []models.SentimentMetric
	err := r.db.Where("config_id = ? AND metric_date BETWEEN ? AND ?", configID, from, to).
		Order("metric_date").
		Find(&metrics).Error
	return metrics, err
}

func (r *MetricRepositoryImpl) ByName(configID, name string, from, to time.Time) ([]models.SentimentMetric, error) {
	var metrics []models.SentimentMetric
	err := r.db.Where("config_id = ? AND metric_name = ? AND metric_date BETWEEN ? AND ?", configID, name, from, to).
		Order("metric_date").
		Find(&metrics).Error
	return metrics, err
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Config     models.ConfigRepository
	Audit      models.AuditRepository
	Prediction models.PredictionRepository
	Feedback   models.FeedbackRepository
	Metric     models.MetricRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Config:     NewConfigRepository(db),
		Audit:      NewAuditRepository(db),
		Prediction: NewPredictionRepository(db),
		Feedback:   NewFeedbackRepository(db),
		Metric:     NewMetricRepository(db),
	}
}
