package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSentimentLabels(t *testing.T) {
	assert.Equal(t, SentimentPositive, AnalyzeSentiment("Shares rise on strong profit growth"))
	assert.Equal(t, SentimentNegative, AnalyzeSentiment("Stock falls after weak earnings miss"))
	assert.Equal(t, SentimentNeutral, AnalyzeSentiment("Company schedules annual meeting"))

	// Balanced text lands neutral
	assert.Equal(t, SentimentNeutral, AnalyzeSentiment("Shares rise then fall"))
}

func TestSentimentScoreBounds(t *testing.T) {
	assert.Equal(t, 0.0, SentimentScore(""))
	assert.Equal(t, 0.0, SentimentScore("completely ordinary words"))

	positive := SentimentScore("strong gain rise profit beat")
	assert.Greater(t, positive, 0.0)
	assert.LessOrEqual(t, positive, 1.0)

	negative := SentimentScore("weak loss drop miss decline")
	assert.Less(t, negative, 0.0)
	assert.GreaterOrEqual(t, negative, -1.0)
}

func TestStockNewsFallsBackToPlaceholders(t *testing.T) {
	// No keys configured: the service must still answer
	svc := NewNewsService("", "", nil)

	articles := svc.StockNews(context.Background(), "aapl")
	require.Len(t, articles, 2)
	for _, a := range articles {
		assert.Equal(t, "AAPL", a.Ticker)
		assert.NotEmpty(t, a.Title)
		assert.NotEmpty(t, a.URL)
		assert.NotEmpty(t, a.SentimentLabel)
	}
	assert.Equal(t, SentimentPositive, articles[0].SentimentLabel)
}
