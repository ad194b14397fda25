package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPredictService(quotePrice float64) *PredictService {
	resolver := NewPriceResolver(&stubQuotes{price: quotePrice}, nil, NewMarketState(), nil, time.Minute)
	history := NewHistoryService(nil, nil, nil, resolver)
	return NewPredictService(history)
}

func TestPredictReturnsRequestedHorizon(t *testing.T) {
	p := testPredictService(150)

	result, err := p.Predict(context.Background(), "aapl", 7)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.Ticker)
	assert.Len(t, result.Predictions, 7)
	assert.Greater(t, result.LastPrice, 0.0)
	for _, pred := range result.Predictions {
		assert.Greater(t, pred, 0.0)
	}
}

func TestPredictDefaultsAndCapsDays(t *testing.T) {
	p := testPredictService(150)

	result, err := p.Predict(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, result.Predictions, DefaultPredictDays)

	result, err = p.Predict(context.Background(), "AAPL", 500)
	require.NoError(t, err)
	assert.Len(t, result.Predictions, MaxPredictDays)
}

func TestPredictStaysNearAnchor(t *testing.T) {
	p := testPredictService(100)

	result, err := p.Predict(context.Background(), "MSFT", 7)
	require.NoError(t, err)

	// Synthetic history hovers within 2% of the anchor and the per-step
	// drift is clamped, so a week out stays in a tight band
	for _, pred := range result.Predictions {
		assert.InDelta(t, 100.0, pred, 20.0)
	}
}

func TestPredictRoundsToCents(t *testing.T) {
	p := testPredictService(123.456)

	result, err := p.Predict(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	for _, pred := range result.Predictions {
		cents := pred * 100
		assert.InDelta(t, cents, float64(int64(cents+0.5)), 0.0001)
	}
}
