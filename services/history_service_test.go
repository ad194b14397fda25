package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCandles struct {
	candles []Candle
	err     error
	calls   int
}

func (s *stubCandles) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	s.calls++
	return s.candles, s.err
}

func syntheticOnlyHistory() *HistoryService {
	resolver := NewPriceResolver(&stubQuotes{price: 100}, nil, NewMarketState(), nil, time.Minute)
	return NewHistoryService(nil, nil, nil, resolver)
}

func TestHistoryRejectsInvalidParameters(t *testing.T) {
	h := syntheticOnlyHistory()

	_, err := h.History(context.Background(), "AAPL", "7d", "1m")
	assert.Error(t, err)

	_, err = h.History(context.Background(), "AAPL", "1d", "3m")
	assert.Error(t, err)

	_, err = h.History(context.Background(), "AAPL", "1d", "1m")
	assert.NoError(t, err)
}

func TestHistoryUsesProviderCandles(t *testing.T) {
	provider := &stubCandles{candles: []Candle{
		{Timestamp: 1700000000, Open: 1, High: 3, Low: 1, Close: 2, Volume: 10},
		{Timestamp: 1700000060, Open: 2, High: 4, Low: 2, Close: 3, Volume: 20},
	}}
	resolver := NewPriceResolver(&stubQuotes{price: 100}, nil, NewMarketState(), nil, time.Minute)
	h := NewHistoryService(provider, nil, nil, resolver)

	points, err := h.History(context.Background(), "AAPL", "1d", "1m")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 2.0, points[0].Close)
	assert.Equal(t, 3.0, points[1].Close)
	assert.Equal(t, 1, provider.calls)
}

func TestHistoryProviderFailureFallsBackToSynthetic(t *testing.T) {
	provider := &stubCandles{err: fmt.Errorf("rate limited")}
	resolver := NewPriceResolver(&stubQuotes{price: 200}, nil, NewMarketState(), nil, time.Minute)
	h := NewHistoryService(provider, nil, nil, resolver)

	points, err := h.History(context.Background(), "AAPL", "1d", "1m")
	require.NoError(t, err)
	assert.NotEmpty(t, points, "history must always produce data")
}

func TestHistoryCapsPointCountByWideningInterval(t *testing.T) {
	h := syntheticOnlyHistory()

	// 1 day of 1-minute bars would be 1440 points
	points, err := h.History(context.Background(), "AAPL", "1d", "1m")
	require.NoError(t, err)
	assert.Len(t, points, MaxHistoryPoints)

	// 5 years of 1-minute bars collapses to the cap as well
	points, err = h.History(context.Background(), "AAPL", "5y", "1m")
	require.NoError(t, err)
	assert.Len(t, points, MaxHistoryPoints)

	// A combination under the cap keeps its natural size
	points, err = h.History(context.Background(), "AAPL", "1d", "1h")
	require.NoError(t, err)
	assert.Len(t, points, 24)
}

func TestHistorySyntheticIsOldestFirstStrictlyIncreasing(t *testing.T) {
	h := syntheticOnlyHistory()

	points, err := h.History(context.Background(), "AAPL", "5d", "1h")
	require.NoError(t, err)
	require.NotEmpty(t, points)

	prev, err := time.Parse(historyTimeLayout, points[0].Time)
	require.NoError(t, err)
	for _, p := range points[1:] {
		ts, err := time.Parse(historyTimeLayout, p.Time)
		require.NoError(t, err)
		assert.True(t, ts.After(prev), "timestamps must strictly increase: %v then %v", prev, ts)
		prev = ts
	}
}

func TestHistorySyntheticAnchorsOnCurrentPrice(t *testing.T) {
	resolver := NewPriceResolver(&stubQuotes{price: 321.5}, nil, NewMarketState(), nil, time.Minute)
	h := NewHistoryService(nil, nil, nil, resolver)

	points, err := h.History(context.Background(), "AAPL", "1d", "1h")
	require.NoError(t, err)
	require.NotEmpty(t, points)

	// The newest bar carries the resolved current price exactly
	last := points[len(points)-1]
	assert.Equal(t, 321.5, last.Close)

	// Every bar stays within the bounded variation of the anchor
	for _, p := range points {
		assert.InDelta(t, 321.5, p.Close, 321.5*0.021)
		assert.GreaterOrEqual(t, p.High, p.Close*0.99)
		assert.Greater(t, p.Volume, int64(0))
	}
}

func TestCandlesToPointsDropsDuplicates(t *testing.T) {
	points := candlesToPoints([]Candle{
		{Timestamp: 100, Close: 1},
		{Timestamp: 100, Close: 2},
		{Timestamp: 200, Close: 3},
		{Timestamp: 50, Close: 4},
	})

	require.Len(t, points, 3)
	assert.Equal(t, 4.0, points[0].Close)
	assert.Equal(t, 3.0, points[2].Close)
}
