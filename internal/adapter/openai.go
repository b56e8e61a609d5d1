package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"

	sentimentSystemPrompt = `You are a sentiment classifier. Respond with only a JSON object of the form ` +
		`{"label":"positive|negative|neutral|mixed","score":<-1.0 to 1.0>,"confidence":<0.0 to 1.0>}.`
)

// OpenAIAdapter runs zero-shot sentiment classification through the
// chat-completions API.
type OpenAIAdapter struct {
	cfg     models.ModelConfig
	mapping models.LabelMapping
	client  *http.Client
	logger  *logrus.Logger
	retry   RetryConfig
}

func NewOpenAIAdapter(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		cfg:     cfg,
		mapping: mapping,
		client:  newHTTPClient(cfg),
		logger:  logger,
		retry:   DefaultRetryConfig(),
	}
}

func (a *OpenAIAdapter) Name() string { return models.ProviderOpenAI }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (a *OpenAIAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	endpoint := a.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	model := a.cfg.ModelID
	if model == "" {
		model = defaultOpenAIModel
	}

	payload := chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: sentimentSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	}
	headers := map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}

	var response chatCompletionResponse
	err := retryOperation(ctx, a.logger, a.retry, func() error {
		response = chatCompletionResponse{}
		return postJSON(ctx, a.client, a.logger, endpoint, headers, payload, &response)
	})
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai response contained no choices")
	}

	result := a.parseContent(response.Choices[0].Message.Content)
	result.RawResponse = rawMap(response)
	result.ProcessingTimeMs = elapsedMs(start)
	return result, nil
}

// parseContent reads the model's JSON answer; when the model answers with
// prose instead, the label is recovered by substring normalization.
func (a *OpenAIAdapter) parseContent(content string) *Result {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Label      string  `json:"label"`
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Label != "" {
		return &Result{
			Label:      normalizeLabel(parsed.Label, a.mapping),
			Score:      parsed.Score,
			Confidence: clampConfidence(parsed.Confidence),
		}
	}

	a.logger.WithField("content", content).Debug("Non-JSON completion, falling back to label normalization")
	return &Result{
		Label:      normalizeLabel(content, a.mapping),
		Score:      0,
		Confidence: 0.5,
	}
}
