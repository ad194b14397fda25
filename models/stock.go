package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockPrice represents a persisted historical price row
type StockPrice struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Ticker    string          `gorm:"uniqueIndex:idx_ticker_ts" json:"ticker"`
	Timestamp time.Time       `gorm:"uniqueIndex:idx_ticker_ts" json:"timestamp"`
	Open      decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High      decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close     decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	Volume    int64           `json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
}

// MigrateStockModels runs database migrations for stock-related models
func MigrateStockModels(db *gorm.DB) error {
	return db.AutoMigrate(&StockPrice{})
}
