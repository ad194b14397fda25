package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	store, err := NewCandleStore(filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCandles(base int64, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			Timestamp: base + int64(i)*60,
			Open:      c - 1,
			High:      c + 1,
			Low:       c - 2,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestCandleStoreRoundtrip(t *testing.T) {
	store := testCandleStore(t)

	saved := testCandles(1700000000, 100, 101, 102)
	require.NoError(t, store.SaveCandles("AAPL", "1", saved))

	loaded, err := store.LoadCandles("AAPL", "1", 1700000000, 1700000000+3*60)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)

	count, err := store.CandleCount("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCandleStoreRangeFilter(t *testing.T) {
	store := testCandleStore(t)

	require.NoError(t, store.SaveCandles("AAPL", "1", testCandles(1700000000, 100, 101, 102, 103)))

	loaded, err := store.LoadCandles("AAPL", "1", 1700000060, 1700000120)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 101.0, loaded[0].Close)
	assert.Equal(t, 102.0, loaded[1].Close)
}

func TestCandleStoreUpsertReplaces(t *testing.T) {
	store := testCandleStore(t)

	require.NoError(t, store.SaveCandles("AAPL", "1", testCandles(1700000000, 100)))
	require.NoError(t, store.SaveCandles("AAPL", "1", testCandles(1700000000, 250)))

	loaded, err := store.LoadCandles("AAPL", "1", 0, 1800000000)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 250.0, loaded[0].Close)
}

func TestCandleStoreSeparatesSymbolsAndResolutions(t *testing.T) {
	store := testCandleStore(t)

	require.NoError(t, store.SaveCandles("AAPL", "1", testCandles(1700000000, 100)))
	require.NoError(t, store.SaveCandles("AAPL", "D", testCandles(1700000000, 200)))
	require.NoError(t, store.SaveCandles("TSLA", "1", testCandles(1700000000, 300)))

	loaded, err := store.LoadCandles("AAPL", "1", 0, 1800000000)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 100.0, loaded[0].Close)
}

func TestLatestClose(t *testing.T) {
	store := testCandleStore(t)

	_, err := store.LatestClose(context.Background(), "AAPL")
	assert.Error(t, err, "no rows means no close")

	require.NoError(t, store.SaveCandles("AAPL", "D", testCandles(1700000000, 100, 110, 120)))

	close, err := store.LatestClose(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 120.0, close)
}
