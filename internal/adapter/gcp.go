package adapter

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultGCPEndpoint = "https://language.googleapis.com/v1/documents:analyzeSentiment"

// GoogleNLAdapter calls the Cloud Natural Language API with an API-key query
// parameter.
type GoogleNLAdapter struct {
	cfg     models.ModelConfig
	mapping models.LabelMapping
	client  *http.Client
	logger  *logrus.Logger
	retry   RetryConfig
}

func NewGoogleNLAdapter(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) *GoogleNLAdapter {
	return &GoogleNLAdapter{
		cfg:     cfg,
		mapping: mapping,
		client:  newHTTPClient(cfg),
		logger:  logger,
		retry:   DefaultRetryConfig(),
	}
}

func (a *GoogleNLAdapter) Name() string { return models.ProviderGCP }

type gcpSentimentResponse struct {
	DocumentSentiment struct {
		Score     float64 `json:"score"`
		Magnitude float64 `json:"magnitude"`
	} `json:"documentSentiment"`
	Language string `json:"language"`
}

func (a *GoogleNLAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	endpoint := a.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGCPEndpoint
	}
	endpoint += "?key=" + url.QueryEscape(a.cfg.APIKey)

	payload := map[string]interface{}{
		"document": map[string]string{
			"type":    "PLAIN_TEXT",
			"content": text,
		},
		"encodingType": "UTF8",
	}

	var response gcpSentimentResponse
	err := retryOperation(ctx, a.logger, a.retry, func() error {
		response = gcpSentimentResponse{}
		return postJSON(ctx, a.client, a.logger, endpoint, nil, payload, &response)
	})
	if err != nil {
		return nil, err
	}

	score := response.DocumentSentiment.Score
	magnitude := response.DocumentSentiment.Magnitude

	// The NL API returns a signed score with no label; derive one the way the
	// API docs interpret the score axis.
	label := models.LabelNeutral
	switch {
	case score >= 0.25:
		label = models.LabelPositive
	case score <= -0.25:
		label = models.LabelNegative
	case magnitude >= 1.0:
		// Near-zero score with high magnitude means offsetting sentiment.
		label = models.LabelMixed
	}
	if a.mapping != nil {
		label = normalizeLabel(label, a.mapping)
	}

	confidence := math.Abs(score)
	if magnitude > confidence {
		confidence = magnitude
	}

	return &Result{
		Label:      label,
		Score:      score,
		Confidence: clampConfidence(confidence),
		RawResponse: map[string]interface{}{
			"documentSentiment": map[string]float64{
				"score":     score,
				"magnitude": magnitude,
			},
			"language": response.Language,
		},
		ProcessingTimeMs: elapsedMs(start),
	}, nil
}
