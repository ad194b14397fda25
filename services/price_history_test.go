package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stock_dashboard_backend/models"
)

func testPriceHistoryStore(t *testing.T) *PriceHistoryStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "prices.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateStockModels(db))
	return NewPriceHistoryStore(db)
}

func TestPriceHistoryLatestClose(t *testing.T) {
	store := testPriceHistoryStore(t)

	_, err := store.LatestClose(context.Background(), "AAPL")
	assert.Error(t, err, "empty table means no close")

	require.NoError(t, store.SaveDailyCandles("AAPL", testCandles(1700000000, 100, 110, 120)))

	close, err := store.LatestClose(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 120.0, close)

	_, err = store.LatestClose(context.Background(), "TSLA")
	assert.Error(t, err, "rows for one ticker must not answer for another")
}

func TestPriceHistorySaveSkipsDuplicates(t *testing.T) {
	store := testPriceHistoryStore(t)

	require.NoError(t, store.SaveDailyCandles("AAPL", testCandles(1700000000, 100, 110)))
	require.NoError(t, store.SaveDailyCandles("AAPL", testCandles(1700000000, 100, 110)))

	count, err := store.RowCount("AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestHistoryPersistsDailyBarsToDatabase(t *testing.T) {
	rows := testPriceHistoryStore(t)
	provider := &stubCandles{candles: testCandles(1700000000, 100, 110, 120)}
	resolver := NewPriceResolver(&stubQuotes{price: 100}, nil, NewMarketState(), nil, time.Minute)
	h := NewHistoryService(provider, nil, rows, resolver)

	// Minute bars are cache material, not database facts
	_, err := h.History(context.Background(), "AAPL", "1d", "1m")
	require.NoError(t, err)

	count, err := rows.RowCount("AAPL")
	require.NoError(t, err)
	assert.Zero(t, count)

	// Daily bars land in the database
	_, err = h.History(context.Background(), "AAPL", "1mo", "1d")
	require.NoError(t, err)

	count, err = rows.RowCount("AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestHistoryLatestCloseFallsThroughToDatabase(t *testing.T) {
	rows := testPriceHistoryStore(t)
	require.NoError(t, rows.SaveDailyCandles("NVDA", testCandles(1700000000, 495)))

	h := NewHistoryService(nil, nil, rows, nil)

	close, err := h.LatestClose(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 495.0, close)

	_, err = h.LatestClose(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestChainClosersTriesSourcesInOrder(t *testing.T) {
	first := &stubCloser{err: fmt.Errorf("cache miss")}
	second := &stubCloser{close: 142.75}

	chain := ChainClosers(nil, first, second)
	require.NotNil(t, chain)

	close, err := chain.LatestClose(context.Background(), "AMZN")
	require.NoError(t, err)
	assert.Equal(t, 142.75, close)

	assert.Nil(t, ChainClosers(nil, nil), "all-nil chain collapses to nil")

	empty := ChainClosers(&stubCloser{err: fmt.Errorf("empty")})
	_, err = empty.LatestClose(context.Background(), "AMZN")
	assert.Error(t, err)
}
