package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert types
const (
	AlertPriceAbove = "price_above"
	AlertPriceBelow = "price_below"
)

// UserAlert represents a price alert for a user.
// Created active; flips to inactive exactly once when it first triggers.
type UserAlert struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"index" json:"user_id"`
	User        User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Ticker      string          `gorm:"index;not null" json:"ticker"`
	AlertType   string          `gorm:"not null" json:"alert_type"` // price_above, price_below
	Threshold   decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"threshold"`
	IsActive    bool            `gorm:"default:true" json:"is_active"`
	TriggeredAt *time.Time      `json:"triggered_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ValidAlertType reports whether t is a supported alert type
func ValidAlertType(t string) bool {
	return t == AlertPriceAbove || t == AlertPriceBelow
}

// MigrateAlertModels runs database migrations for alert models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&UserAlert{})
}
