package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
)

// KeywordAdapter scores text against configured positive/negative word sets.
// It is provider-independent, performs no I/O and cannot fail, so identical
// input always yields an identical result.
type KeywordAdapter struct {
	positive []string
	negative []string
}

func NewKeywordAdapter(cfg models.ModelConfig) *KeywordAdapter {
	return &KeywordAdapter{
		positive: lowerAll(cfg.PositiveKeywords),
		negative: lowerAll(cfg.NegativeKeywords),
	}
}

func (a *KeywordAdapter) Name() string { return models.ProviderKeyword }

func (a *KeywordAdapter) Predict(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	lower := strings.ToLower(text)

	posMatches := countMatches(lower, a.positive)
	negMatches := countMatches(lower, a.negative)
	total := posMatches + negMatches

	result := &Result{
		Label:      models.LabelNeutral,
		Score:      0,
		Confidence: 0.5,
		RawResponse: map[string]interface{}{
			"positive_matches": posMatches,
			"negative_matches": negMatches,
		},
	}

	if total > 0 {
		posRatio := float64(posMatches) / float64(total)
		negRatio := float64(negMatches) / float64(total)
		result.Score = (float64(posMatches) - float64(negMatches)) / float64(total)

		switch {
		case posRatio > 0.6:
			result.Label = models.LabelPositive
			result.Confidence = posRatio
		case negRatio > 0.6:
			result.Label = models.LabelNegative
			result.Confidence = negRatio
		case posMatches > 0 && negMatches > 0:
			result.Label = models.LabelMixed
			if posRatio > negRatio {
				result.Confidence = posRatio
			} else {
				result.Confidence = negRatio
			}
		}
	}

	result.ProcessingTimeMs = elapsedMs(start)
	return result, nil
}

func countMatches(text string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		count += strings.Count(text, kw)
	}
	return count
}

func lowerAll(keywords []string) []string {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(kw)))
	}
	return lowered
}
