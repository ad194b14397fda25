package models

import (
	"time"

	"gorm.io/gorm"
)

// NewsArticle represents a stored news article with sentiment
type NewsArticle struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Ticker         string    `gorm:"index" json:"ticker"`
	Title          string    `gorm:"not null" json:"title"`
	Content        string    `json:"description"`
	URL            string    `gorm:"uniqueIndex" json:"url"`
	Source         string    `json:"source"`
	PublishedAt    time.Time `json:"published_at"`
	SentimentScore float64   `json:"sentiment_score"` // -1 to 1
	SentimentLabel string    `json:"sentiment_label"` // positive, negative, neutral
	CreatedAt      time.Time `json:"created_at"`
}

// MigrateNewsModels runs database migrations for news models
func MigrateNewsModels(db *gorm.DB) error {
	return db.AutoMigrate(&NewsArticle{})
}
