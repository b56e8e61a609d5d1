package models

// GORM models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Canonical sentiment labels
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
	LabelMixed    = "mixed"
)

// Configuration scopes
const (
	ScopeGlobal    = "global"
	ScopeWorkspace = "workspace"
	ScopeCompany   = "company"
	ScopeCampaign  = "campaign"
	ScopeUser      = "user"
)

// Model providers
const (
	ProviderKeyword     = "keyword"
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderAWS         = "aws"
	ProviderGCP         = "gcp"
	ProviderCustom      = "custom"
)

// Feedback review states
const (
	ReviewPending  = "pending"
	ReviewAccepted = "accepted"
	ReviewRejected = "rejected"
)

// scopeRank maps a scope to its precedence; higher wins.
var scopeRank = map[string]int{
	ScopeGlobal:    0,
	ScopeWorkspace: 1,
	ScopeCompany:   2,
	ScopeCampaign:  3,
	ScopeUser:      4,
}

// ScopePrecedence returns the precedence rank of a scope (-1 for unknown).
func ScopePrecedence(scope string) int {
	if rank, ok := scopeRank[scope]; ok {
		return rank
	}
	return -1
}

func ValidScope(scope string) bool {
	return ScopePrecedence(scope) >= 0
}

func ValidLabel(label string) bool {
	switch label {
	case LabelPositive, LabelNegative, LabelNeutral, LabelMixed:
		return true
	}
	return false
}

// jsonValue / jsonScan implement the driver.Valuer / sql.Scanner pair for the
// JSONB-backed nested configuration structures.
func jsonValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", value, dest)
	}
}

// ModelConfig selects a provider and carries its connection parameters.
type ModelConfig struct {
	Provider         string                 `json:"provider"`
	ModelID          string                 `json:"modelId,omitempty"`
	APIKey           string                 `json:"apiKey,omitempty"`
	SecretKey        string                 `json:"secretKey,omitempty"`
	Region           string                 `json:"region,omitempty"`
	Endpoint         string                 `json:"endpoint,omitempty"`
	TimeoutSeconds   int                    `json:"timeoutSeconds,omitempty"`
	PositiveKeywords []string               `json:"positiveKeywords,omitempty"`
	NegativeKeywords []string               `json:"negativeKeywords,omitempty"`
	Params           map[string]interface{} `json:"params,omitempty"`
}

func (m ModelConfig) Value() (driver.Value, error)  { return jsonValue(m) }
func (m *ModelConfig) Scan(value interface{}) error { return jsonScan(value, m) }

// Thresholds are the numeric cut points used for label finalization.
type Thresholds struct {
	Positive      float64  `json:"positive"`
	Negative      float64  `json:"negative"`
	Neutral       float64  `json:"neutral"`
	MinConfidence *float64 `json:"minConfidence,omitempty"`
}

func (t Thresholds) Value() (driver.Value, error)  { return jsonValue(t) }
func (t *Thresholds) Scan(value interface{}) error { return jsonScan(value, t) }

// LabelMapping maps a provider's raw label tokens onto canonical labels.
type LabelMapping map[string]string

func (m LabelMapping) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(m)
}
func (m *LabelMapping) Scan(value interface{}) error { return jsonScan(value, m) }

// SamplingConfig governs which predictions get persisted.
type SamplingConfig struct {
	SampleStrategy     string  `json:"sampleStrategy"` // all | confidence-based | random
	SampleRate         float64 `json:"sampleRate"`
	StoreLowConfidence bool    `json:"storeLowConfidence"`
}

func (s *SamplingConfig) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return jsonValue(s)
}
func (s *SamplingConfig) Scan(value interface{}) error { return jsonScan(value, s) }

// FeedbackPolicy controls the human-feedback retraining loop.
type FeedbackPolicy struct {
	AutoRetrain      bool `json:"autoRetrain"`
	RetrainThreshold int  `json:"retrainThreshold"`
}

func (f *FeedbackPolicy) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return jsonValue(f)
}
func (f *FeedbackPolicy) Scan(value interface{}) error { return jsonScan(value, f) }

// DriftPolicy controls label-distribution drift detection.
type DriftPolicy struct {
	Enabled         bool    `json:"enabled"`
	Threshold       float64 `json:"threshold"`
	RollbackOnDrift bool    `json:"rollbackOnDrift"`
	AlertWebhook    string  `json:"alertWebhook,omitempty"`
}

func (d *DriftPolicy) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return jsonValue(d)
}
func (d *DriftPolicy) Scan(value interface{}) error { return jsonScan(value, d) }

// DerivedMetricsConfig selects which derived metrics the telemetry rollup emits.
type DerivedMetricsConfig struct {
	Enabled bool     `json:"enabled"`
	Metrics []string `json:"metrics,omitempty"`
}

func (d *DerivedMetricsConfig) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return jsonValue(d)
}
func (d *DerivedMetricsConfig) Scan(value interface{}) error { return jsonScan(value, d) }

// JSONMap for free-form JSONB columns (raw provider payloads, audit diffs,
// metric metadata).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return jsonValue(m)
}
func (m *JSONMap) Scan(value interface{}) error { return jsonScan(value, m) }

// SentimentConfig is one immutable version of a sentiment policy. ConfigID is
// stable across versions; every update inserts a new row with Version+1. The
// current state of a config is its highest non-deleted version. The only
// in-place mutations are the Enabled flag and the soft-delete timestamp.
type SentimentConfig struct {
	RowID          uint                  `json:"-" gorm:"primaryKey"`
	ConfigID       string                `json:"config_id" gorm:"type:uuid;not null;uniqueIndex:idx_sentiment_configs_version"`
	Version        int                   `json:"version" gorm:"not null;uniqueIndex:idx_sentiment_configs_version"`
	Name           string                `json:"name"`
	Scope          string                `json:"scope" gorm:"not null;index"`
	ScopeID        string                `json:"scope_id" gorm:"index"`
	Mode           string                `json:"mode" gorm:"not null;default:'ml'"`
	Enabled        bool                  `json:"enabled" gorm:"default:false"`
	Model          ModelConfig           `json:"model" gorm:"type:jsonb"`
	Thresholds     Thresholds            `json:"thresholds" gorm:"type:jsonb"`
	LabelMapping   LabelMapping          `json:"label_mapping,omitempty" gorm:"type:jsonb"`
	DerivedMetrics *DerivedMetricsConfig `json:"derived_metrics,omitempty" gorm:"type:jsonb"`
	Sampling       *SamplingConfig       `json:"sampling,omitempty" gorm:"type:jsonb"`
	Feedback       *FeedbackPolicy       `json:"feedback,omitempty" gorm:"type:jsonb"`
	DriftDetection *DriftPolicy          `json:"drift_detection,omitempty" gorm:"type:jsonb"`
	ParentConfigID *string               `json:"parent_config_id,omitempty" gorm:"type:uuid"`
	CreatedBy      string                `json:"created_by"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	DeletedAt      *time.Time            `json:"deleted_at,omitempty" gorm:"index"`
}

// SentimentConfigAudit is an append-only record of config lifecycle actions.
type SentimentConfigAudit struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ConfigID        string    `json:"config_id" gorm:"type:uuid;not null;index"`
	Action          string    `json:"action" gorm:"not null;check:action IN ('create','update','enable','disable','delete','rollback')"`
	Actor           string    `json:"actor"`
	PreviousVersion *int      `json:"previous_version,omitempty"`
	NewVersion      *int      `json:"new_version,omitempty"`
	Diff            JSONMap   `json:"diff,omitempty" gorm:"type:jsonb"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SentimentPrediction is one immutable inference result. Not every prediction
// is persisted; the sampling policy on the owning config decides.
type SentimentPrediction struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	ConfigID    string    `json:"config_id" gorm:"type:uuid;not null;index"`
	Text        string    `json:"text" gorm:"not null"`
	Channel     string    `json:"channel" gorm:"index"`
	ContactID   *string   `json:"contact_id,omitempty" gorm:"index"`
	Label       string    `json:"label" gorm:"not null"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	RawResponse JSONMap   `json:"raw_response,omitempty" gorm:"type:jsonb"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	LatencyMs   int       `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// SentimentFeedback is a human correction of one prediction. Mutated only by
// the review transition and by training-batch marking.
type SentimentFeedback struct {
	ID                 string     `json:"id" gorm:"type:uuid;primaryKey"`
	PredictionID       string     `json:"prediction_id" gorm:"type:uuid;not null;index"`
	ConfigID           string     `json:"config_id" gorm:"type:uuid;not null;index"`
	UserLabel          string     `json:"user_label" gorm:"not null"`
	UserConfidence     *float64   `json:"user_confidence,omitempty"`
	SubmittedBy        string     `json:"submitted_by"`
	ReviewStatus       string     `json:"review_status" gorm:"not null;default:'pending';check:review_status IN ('pending','accepted','rejected')"`
	ReviewedBy         *string    `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	IncludedInTraining bool       `json:"included_in_training" gorm:"default:false"`
	TrainingBatchID    *string    `json:"training_batch_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SentimentMetric holds one daily rollup value. Upsert semantics on
// (config_id, metric_date, metric_name): a day's metric may be recomputed.
type SentimentMetric struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ConfigID   string    `json:"config_id" gorm:"type:uuid;not null;uniqueIndex:idx_sentiment_metrics_day"`
	MetricDate time.Time `json:"metric_date" gorm:"type:date;not null;uniqueIndex:idx_sentiment_metrics_day"`
	MetricName string    `json:"metric_name" gorm:"not null;uniqueIndex:idx_sentiment_metrics_day"`
	Value      float64   `json:"value"`
	Metadata   JSONMap   `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChannelLabelAggregate is a read projection row for aggregated metrics.
type ChannelLabelAggregate struct {
	Channel       string  `json:"channel"`
	Label         string  `json:"label"`
	Count         int64   `json:"count"`
	AvgScore      float64 `json:"avg_score"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Database interfaces for repository pattern
type ConfigRepository interface {
	Insert(cfg *SentimentConfig) error
	Current(configID string) (*SentimentConfig, error)
	Version(configID string, version int) (*SentimentConfig, error)
	Versions(configID string) ([]SentimentConfig, error)
	// Candidates returns the current version of every non-deleted config whose
	// scope is global or whose scope_id matches.
	Candidates(scopeID string) ([]SentimentConfig, error)
	ListCurrent() ([]SentimentConfig, error)
	SetEnabled(configID string, enabled bool) error
	SoftDelete(configID string) error
}

type AuditRepository interface {
	Append(entry *SentimentConfigAudit) error
	History(configID string, limit int) ([]SentimentConfigAudit, error)
}

type PredictionRepository interface {
	Create(p *SentimentPrediction) error
	GetByID(id string) (*SentimentPrediction, error)
	ByContact(contactID, channel string, from, to *time.Time, limit int) ([]SentimentPrediction, error)
	ForDay(configID string, day time.Time) ([]SentimentPrediction, error)
	Aggregate(from, to time.Time, channel string) ([]ChannelLabelAggregate, error)
}

type FeedbackRepository interface {
	Create(f *SentimentFeedback) error
	GetByID(id string) (*SentimentFeedback, error)
	Save(f *SentimentFeedback) error
	CountAcceptedUntrained(configID string) (int64, error)
	AcceptedUntrained(configID string, limit int) ([]SentimentFeedback, error)
	MarkTrained(ids []string, batchID string) (int64, error)
}

type MetricRepository interface {
	Upsert(m *SentimentMetric) error
	Range(configID string, from, to time.Time) ([]SentimentMetric, error)
	ByName(configID, name string, from, to time.Time) ([]SentimentMetric, error)
}

// TableName methods for custom table names
func (SentimentConfig) TableName() string      { return "sentiment_configs" }
func (SentimentConfigAudit) TableName() string { return "sentiment_config_audit" }
func (SentimentPrediction) TableName() string  { return "sentiment_predictions" }
func (SentimentFeedback) TableName() string    { return "sentiment_feedback" }
func (SentimentMetric) TableName() string      { return "sentiment_metrics" }

// Model validation methods
func (c *SentimentConfig) Validate() error {
	if !ValidScope(c.Scope) {
		return fmt.Errorf("invalid scope: %s", c.Scope)
	}
	if c.Scope != ScopeGlobal && c.ScopeID == "" {
		return fmt.Errorf("scope_id is required for scope %s", c.Scope)
	}
	if c.Mode != "keyword" && c.Mode != "ml" {
		return fmt.Errorf("invalid mode: %s", c.Mode)
	}
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Model.Provider == "" {
		return fmt.Errorf("model provider is required")
	}
	return nil
}

func (f *SentimentFeedback) Validate() error {
	if f.PredictionID == "" {
		return fmt.Errorf("prediction ID is required")
	}
	if !ValidLabel(f.UserLabel) {
		return fmt.Errorf("invalid label: %s", f.UserLabel)
	}
	return nil
}

// GORM hooks
func (c *SentimentConfig) BeforeCreate(tx *gorm.DB) error {
	return c.Validate()
}

func (f *SentimentFeedback) BeforeCreate(tx *gorm.DB) error {
	return f.Validate()
}
