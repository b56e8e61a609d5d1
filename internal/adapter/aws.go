package adapter

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultAWSRegion = "us-east-1"

// ComprehendAdapter calls AWS Comprehend's DetectSentiment API.
type ComprehendAdapter struct {
	cfg      models.ModelConfig
	mapping  models.LabelMapping
	client   *comprehend.Client
	logger   *logrus.Logger
	retryCfg RetryConfig
}

func NewComprehendAdapter(cfg models.ModelConfig, mapping models.LabelMapping, logger *logrus.Logger) *ComprehendAdapter {
	region := cfg.Region
	if region == "" {
		region = defaultAWSRegion
	}

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.SecretKey, ""),
		// Backoff is handled by retryOperation, one level up.
		Retryer: func() aws.Retryer { return retry.AddWithMaxAttempts(retry.NewStandard(), 1) },
	}

	client := comprehend.NewFromConfig(awsCfg, func(o *comprehend.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &ComprehendAdapter{
		cfg:      cfg,
		mapping:  mapping,
		client:   client,
		logger:   logger,
		retryCfg: DefaultRetryConfig(),
	}
}

func (a *ComprehendAdapter) Name() string { return models.ProviderAWS }

func (a *ComprehendAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	start := time.Now()

	language := types.LanguageCodeEn
	if lang, ok := a.cfg.Params["languageCode"].(string); ok && lang != "" {
		language = types.LanguageCode(lang)
	}

	var out *comprehend.DetectSentimentOutput
	err := retryOperation(ctx, a.logger, a.retryCfg, func() error {
		var callErr error
		out, callErr = a.client.DetectSentiment(ctx, &comprehend.DetectSentimentInput{
			Text:         aws.String(text),
			LanguageCode: language,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	label := normalizeLabel(string(out.Sentiment), a.mapping)

	var positive, negative, confidence float64
	raw := map[string]interface{}{"sentiment": string(out.Sentiment)}
	if s := out.SentimentScore; s != nil {
		positive = float32Value(s.Positive)
		negative = float32Value(s.Negative)
		raw["sentiment_score"] = map[string]float64{
			"positive": positive,
			"negative": negative,
			"neutral":  float32Value(s.Neutral),
			"mixed":    float32Value(s.Mixed),
		}
		for _, p := range []*float32{s.Positive, s.Negative, s.Neutral, s.Mixed} {
			if v := float32Value(p); v > confidence {
				confidence = v
			}
		}
	}

	return &Result{
		Label:            label,
		Score:            positive - negative,
		Confidence:       clampConfidence(confidence),
		RawResponse:      raw,
		ProcessingTimeMs: elapsedMs(start),
	}, nil
}

func float32Value(v *float32) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}
