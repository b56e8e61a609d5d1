package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedProvider is a fatal configuration error: it fails fast at
// adapter construction and is never retried.
var ErrUnsupportedProvider = errors.New("unsupported sentiment provider")

const defaultTimeout = 30 * time.Second

// Result is the normalized prediction contract every provider maps into.
type Result struct {
	Label            string                 `json:"label"`
	Score            float64                `json:"score"`
	Confidence       float64                `json:"confidence"`
	RawResponse      map[string]interface{} `json:"raw_response,omitempty"`
	ProcessingTimeMs int                    `json:"processing_time_ms"`
}

// Adapter is the uniform predict capability over all providers.
type Adapter interface {
	Name() string
	Predict(ctx context.Context, text string) (*Result, error)
}

// New selects the concrete adapter for the config's declared provider.
// Credentials omitted from the config fall back to process environment.
func New(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) (Adapter, error) {
	applyEnvCredentials(&cfg)

	switch cfg.Provider {
	case models.ProviderKeyword:
		return NewKeywordAdapter(cfg), nil
	case models.ProviderOpenAI:
		return NewOpenAIAdapter(cfg, mapping, logger), nil
	case models.ProviderHuggingFace:
		return NewHuggingFaceAdapter(cfg, mapping, logger), nil
	case models.ProviderAWS:
		return NewComprehendAdapter(cfg, mapping, logger), nil
	case models.ProviderGCP:
		return NewGoogleNLAdapter(cfg, mapping, logger), nil
	case models.ProviderCustom:
		return NewCustomAdapter(cfg, mapping, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

func applyEnvCredentials(cfg *models.ModelConfig) {
	if cfg.APIKey != "" {
		return
	}
	switch cfg.Provider {
	case models.ProviderOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	case models.ProviderHuggingFace:
		cfg.APIKey = os.Getenv("HUGGINGFACE_API_KEY")
	case models.ProviderAWS:
		cfg.APIKey = os.Getenv("AWS_ACCESS_KEY_ID")
		if cfg.SecretKey == "" {
			cfg.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		}
		if cfg.Region == "" {
			cfg.Region = os.Getenv("AWS_REGION")
		}
	case models.ProviderGCP:
		cfg.APIKey = os.Getenv("GCP_API_KEY")
	}
}

// normalizeLabel maps a provider's raw label token onto a canonical label.
// An explicit mapping wins; otherwise a case-insensitive substring match on
// pos/neg/neut/mix, defaulting to neutral when ambiguous.
func normalizeLabel(raw string, mapping models.LabelMapping) string {
	if mapping != nil {
		if mapped, ok := mapping[raw]; ok && models.ValidLabel(mapped) {
			return mapped
		}
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "pos"):
		return models.LabelPositive
	case strings.Contains(lower, "neg"):
		return models.LabelNegative
	case strings.Contains(lower, "neut"):
		return models.LabelNeutral
	case strings.Contains(lower, "mix"):
		return models.LabelMixed
	}
	return models.LabelNeutral
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func newHTTPClient(cfg models.ModelConfig) *http.Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON issues one JSON POST and decodes the response into result. A non-2xx
// status is an error carrying the response body, so callers can retry on it.
func postJSON(ctx context.Context, client *http.Client, logger *logrus.Logger, url string, headers map[string]string, payload interface{}, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.WithFields(logrus.Fields{
		"url":          req.URL.Redacted(),
		"payload_size": len(jsonData),
	}).Debug("Making provider request")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"url":           req.URL.Redacted(),
		"response_size": len(responseBody),
	}).Debug("Provider response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	if result != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// rawMap converts a decoded provider response into the RawResponse map stored
// alongside the prediction.
func rawMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		// Non-object payloads (e.g. top-level arrays) get wrapped.
		return map[string]interface{}{"response": json.RawMessage(data)}
	}
	return m
}

func elapsedMs(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
