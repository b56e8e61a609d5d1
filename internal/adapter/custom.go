package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// CustomAdapter posts to an arbitrary caller-defined endpoint speaking the
// minimal {text} -> {label, score, confidence} contract.
type CustomAdapter struct {
	cfg     models.ModelConfig
	mapping models.LabelMapping
	client  *http.Client
	logger  *logrus.Logger
	retry   RetryConfig
}

func NewCustomAdapter(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) *CustomAdapter {
	return &CustomAdapter{
		cfg:     cfg,
		mapping: mapping,
		client:  newHTTPClient(cfg),
		logger:  logger,
		retry:   DefaultRetryConfig(),
	}
}

func (a *CustomAdapter) Name() string { return models.ProviderCustom }

type customResponse struct {
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

func (a *CustomAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	if a.cfg.Endpoint == "" {
		return nil, fmt.Errorf("custom provider requires an endpoint")
	}

	start := time.Now()

	headers := map[string]string{}
	if a.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.cfg.APIKey
	}
	payload := map[string]string{"text": text}

	var response customResponse
	err := retryOperation(ctx, a.logger, a.retry, func() error {
		response = customResponse{}
		return postJSON(ctx, a.client, a.logger, a.cfg.Endpoint, headers, payload, &response)
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Label:            normalizeLabel(response.Label, a.mapping),
		Score:            response.Score,
		Confidence:       clampConfidence(response.Confidence),
		RawResponse:      rawMap(response),
		ProcessingTimeMs: elapsedMs(start),
	}, nil
}
