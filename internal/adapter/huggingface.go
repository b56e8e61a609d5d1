package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultHFBaseURL = "https://api-inference.huggingface.co/models/"
	defaultHFModel   = "distilbert-base-uncased-finetuned-sst-2-english"
)

// HuggingFaceAdapter calls a hosted classifier through the inference API.
type HuggingFaceAdapter struct {
	cfg     models.ModelConfig
	mapping models.LabelMapping
	client  *http.Client
	logger  *logrus.Logger
	retry   RetryConfig
}

func NewHuggingFaceAdapter(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) *HuggingFaceAdapter {
	return &HuggingFaceAdapter{
		cfg:     cfg,
		mapping: mapping,
		client:  newHTTPClient(cfg),
		logger:  logger,
		retry:   DefaultRetryConfig(),
	}
}

func (a *HuggingFaceAdapter) Name() string { return models.ProviderHuggingFace }

type hfClassification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (a *HuggingFaceAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	endpoint := a.cfg.Endpoint
	if endpoint == "" {
		model := a.cfg.ModelID
		if model == "" {
			model = defaultHFModel
		}
		endpoint = defaultHFBaseURL + model
	}

	headers := map[string]string{}
	if a.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.cfg.APIKey
	}
	payload := map[string]string{"inputs": text}

	var raw json.RawMessage
	err := retryOperation(ctx, a.logger, a.retry, func() error {
		raw = nil
		return postJSON(ctx, a.client, a.logger, endpoint, headers, payload, &raw)
	})
	if err != nil {
		return nil, err
	}

	classes, err := parseHFClassifications(raw)
	if err != nil {
		return nil, err
	}

	top := classes[0]
	for _, c := range classes[1:] {
		if c.Score > top.Score {
			top = c
		}
	}

	label := normalizeLabel(top.Label, a.mapping)
	result := &Result{
		Label:            label,
		Score:            signedScore(label, top.Score),
		Confidence:       clampConfidence(top.Score),
		RawResponse:      map[string]interface{}{"classifications": json.RawMessage(raw)},
		ProcessingTimeMs: elapsedMs(start),
	}
	return result, nil
}

// parseHFClassifications accepts both the nested [[{label,score}]] shape and
// the flat [{label,score}] shape the inference API returns per model type.
func parseHFClassifications(raw json.RawMessage) ([]hfClassification, error) {
	var nested [][]hfClassification
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}

	var flat []hfClassification
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}

	return nil, fmt.Errorf("unexpected inference response: %s", string(raw))
}

// signedScore projects a class probability onto the signed score axis.
func signedScore(label string, probability float64) float64 {
	switch label {
	case models.LabelPositive:
		return probability
	case models.LabelNegative:
		return -probability
	}
	return 0
}
