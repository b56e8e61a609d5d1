package adapter

import (
	"context"
	"testing"

	"github.com/kinetiqhq/kinetiq/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordConfig() models.ModelConfig {
	return models.ModelConfig{
		Provider:         models.ProviderKeyword,
		PositiveKeywords: []string{"great", "love", "excellent"},
		NegativeKeywords: []string{"terrible", "hate", "broken"},
	}
}

func TestKeywordAdapter_Positive(t *testing.T) {
	a := NewKeywordAdapter(keywordConfig())

	result, err := a.Predict(context.Background(), "This is great, I love it. Excellent work.")
	require.NoError(t, err)

	assert.Equal(t, models.LabelPositive, result.Label)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, 1.0, result.Score)
}

func TestKeywordAdapter_Negative(t *testing.T) {
	a := NewKeywordAdapter(keywordConfig())

	result, err := a.Predict(context.Background(), "Terrible experience, everything is broken")
	require.NoError(t, err)

	assert.Equal(t, models.LabelNegative, result.Label)
	assert.Equal(t, -1.0, result.Score)
}

func TestKeywordAdapter_Mixed(t *testing.T) {
	a := NewKeywordAdapter(keywordConfig())

	// One positive and one negative match: neither ratio exceeds 0.6.
	result, err := a.Predict(context.Background(), "The camera is great but the battery is terrible")
	require.NoError(t, err)

	assert.Equal(t, models.LabelMixed, result.Label)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestKeywordAdapter_NoMatches(t *testing.T) {
	a := NewKeywordAdapter(keywordConfig())

	result, err := a.Predict(context.Background(), "The package arrived on tuesday")
	require.NoError(t, err)

	assert.Equal(t, models.LabelNeutral, result.Label)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestKeywordAdapter_CaseInsensitive(t *testing.T) {
	a := NewKeywordAdapter(models.ModelConfig{
		PositiveKeywords: []string{"GREAT"},
	})

	result, err := a.Predict(context.Background(), "great stuff")
	require.NoError(t, err)
	assert.Equal(t, models.LabelPositive, result.Label)
}

func TestKeywordAdapter_Deterministic(t *testing.T) {
	a := NewKeywordAdapter(keywordConfig())
	text := "great great terrible"

	first, err := a.Predict(context.Background(), text)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		result, err := a.Predict(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, first.Label, result.Label)
		assert.Equal(t, first.Score, result.Score)
		assert.Equal(t, first.Confidence, result.Confidence)
	}

	// 2 of 3 matches positive: ratio 0.667 crosses the dominance cutoff.
	assert.Equal(t, models.LabelPositive, first.Label)
	assert.InDelta(t, 0.667, first.Confidence, 0.001)
	assert.InDelta(t, 0.333, first.Score, 0.001)
}
