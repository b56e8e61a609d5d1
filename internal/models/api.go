package models

type PredictRequest struct {
	Text      string `json:"text" binding:"required"`
	Channel   string `json:"channel"`
	ContactID string `json:"contact_id"`
	ConfigID  string `json:"config_id"`
}

type BulkPredictRequest struct {
	Items    []PredictItem `json:"items" binding:"required"`
	ConfigID string        `json:"config_id"`
}

type PredictItem struct {
	Text      string `json:"text"`
	Channel   string `json:"channel"`
	ContactID string `json:"contact_id"`
}

type PreviewRequest struct {
	Text     string           `json:"text" binding:"required"`
	ConfigID string           `json:"config_id"`
	Config   *SentimentConfig `json:"config"`
}

type SubmitFeedbackRequest struct {
	PredictionID   string   `json:"prediction_id" binding:"required"`
	UserLabel      string   `json:"user_label" binding:"required"`
	UserConfidence *float64 `json:"user_confidence"`
	UserID         string   `json:"user_id"`
}

type ReviewFeedbackRequest struct {
	Status     string `json:"status" binding:"required"` // accepted | rejected
	ReviewerID string `json:"reviewer_id"`
}

type MarkTrainedRequest struct {
	FeedbackIDs []string `json:"feedback_ids" binding:"required"`
	BatchID     string   `json:"batch_id"`
}

// ConfigUpdate carries the fields of an update request; nil fields keep the
// prior snapshot's value.
type ConfigUpdate struct {
	Name           *string               `json:"name"`
	Mode           *string               `json:"mode"`
	Model          *ModelConfig          `json:"model"`
	Thresholds     *Thresholds           `json:"thresholds"`
	LabelMapping   *LabelMapping         `json:"label_mapping"`
	DerivedMetrics *DerivedMetricsConfig `json:"derived_metrics"`
	Sampling       *SamplingConfig       `json:"sampling"`
	Feedback       *FeedbackPolicy       `json:"feedback"`
	DriftDetection *DriftPolicy          `json:"drift_detection"`
	Reason         string                `json:"reason"`
}

type RollbackRequest struct {
	ToVersion int    `json:"to_version" binding:"required"`
	Reason    string `json:"reason"`
}

type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
