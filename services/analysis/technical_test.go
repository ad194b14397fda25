package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}

	sma, err := SMA(closes, 5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, sma)

	// Only the trailing window counts
	sma, err = SMA(closes, 2)
	require.NoError(t, err)
	assert.Equal(t, 4.5, sma)

	_, err = SMA(closes, 6)
	assert.Error(t, err)
	_, err = SMA(closes, 0)
	assert.Error(t, err)
}

func TestEMAConvergesTowardRecentPrices(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10}
	ema, err := EMA(flat, 3)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ema)

	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ema, err = EMA(rising, 3)
	require.NoError(t, err)
	sma, _ := SMA(rising, 10)
	assert.Greater(t, ema, sma, "EMA must weight recent prices harder than the full-window mean")

	_, err = EMA([]float64{1}, 3)
	assert.Error(t, err)
}

func TestRSI(t *testing.T) {
	// Monotonic gains pin RSI at 100
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	rsi, err := RSI(rising, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	// Monotonic losses pin it at 0
	falling := []float64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	rsi, err = RSI(falling, 14)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rsi)

	// Equal gains and losses balance at 50
	alternating := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10}
	rsi, err = RSI(alternating, 14)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rsi, 0.0001)

	_, err = RSI([]float64{1, 2}, 14)
	assert.Error(t, err)
}

func TestDrift(t *testing.T) {
	// Constant 1% steps
	closes := []float64{100, 101, 102.01}
	drift, err := Drift(closes)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, drift, 0.0001)

	flat := []float64{5, 5, 5, 5}
	drift, err = Drift(flat)
	require.NoError(t, err)
	assert.Equal(t, 0.0, drift)

	_, err = Drift([]float64{1})
	assert.Error(t, err)
	_, err = Drift([]float64{0, 0})
	assert.Error(t, err)
}
