package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock_dashboard_backend/models"
)

// PriceHistoryStore persists daily bars to the relational database. It is the
// durable backstop behind the local candle cache: fetched daily candles land
// here as well, and the most recent stored close feeds the resolver when both
// the provider and the cache come up empty.
type PriceHistoryStore struct {
	db *gorm.DB
}

// NewPriceHistoryStore creates the database-backed price history store
func NewPriceHistoryStore(db *gorm.DB) *PriceHistoryStore {
	return &PriceHistoryStore{db: db}
}

// SaveDailyCandles inserts daily bars for one ticker, skipping rows already
// present for the same timestamp
func (s *PriceHistoryStore) SaveDailyCandles(symbol string, candles []Candle) error {
	for _, c := range candles {
		row := models.StockPrice{
			Ticker:    symbol,
			Timestamp: time.Unix(c.Timestamp, 0).UTC(),
			Open:      decimal.NewFromFloat(c.Open),
			High:      decimal.NewFromFloat(c.High),
			Low:       decimal.NewFromFloat(c.Low),
			Close:     decimal.NewFromFloat(c.Close),
			Volume:    c.Volume,
		}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticker"}, {Name: "timestamp"}},
			DoNothing: true,
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to save price row for %s: %w", symbol, err)
		}
	}
	return nil
}

// LatestClose returns the most recent stored daily close for a symbol
func (s *PriceHistoryStore) LatestClose(ctx context.Context, symbol string) (float64, error) {
	var row models.StockPrice
	err := s.db.WithContext(ctx).
		Where("ticker = ?", symbol).
		Order("timestamp DESC").
		First(&row).Error
	if err != nil {
		return 0, fmt.Errorf("no stored prices for %s: %w", symbol, err)
	}

	close := row.Close.InexactFloat64()
	if close <= 0 {
		return 0, fmt.Errorf("no usable close for %s", symbol)
	}
	return close, nil
}

// RowCount returns the number of stored bars for a symbol
func (s *PriceHistoryStore) RowCount(symbol string) (int64, error) {
	var count int64
	err := s.db.Model(&models.StockPrice{}).Where("ticker = ?", symbol).Count(&count).Error
	return count, err
}
