package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_dashboard_backend/middleware"
	"stock_dashboard_backend/models"
	"stock_dashboard_backend/services"
)

// WatchlistController manages per-user watchlists
type WatchlistController struct {
	db    *gorm.DB
	state *services.MarketState
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB, state *services.MarketState) *WatchlistController {
	return &WatchlistController{db: db, state: state}
}

// WatchlistEntry is one row of the watchlist response, enriched with the
// symbol's live market data
type WatchlistEntry struct {
	Ticker        string  `json:"ticker"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// GetWatchlist returns the user's watchlist with current prices
// GET /api/watchlist
func (wc *WatchlistController) GetWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var items []models.Watchlist
	if err := wc.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load watchlist"})
		return
	}

	entries := make([]WatchlistEntry, 0, len(items))
	for _, item := range items {
		entry := WatchlistEntry{Ticker: item.Ticker}
		if price, ok := wc.state.GetPrice(item.Ticker); ok {
			entry.Price = price
			if stats, ok := wc.state.GetStats(item.Ticker); ok && stats.PreviousClose > 0 {
				entry.Change = price - stats.PreviousClose
				entry.ChangePercent = entry.Change / stats.PreviousClose * 100
			}
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, entries)
}

// AddToWatchlist adds a ticker to the user's watchlist
// POST /api/watchlist
func (wc *WatchlistController) AddToWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req struct {
		Ticker string `json:"ticker" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}

	var existing models.Watchlist
	if err := wc.db.Where("user_id = ? AND ticker = ?", userID, ticker).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ticker + " already in watchlist"})
		return
	}

	item := models.Watchlist{UserID: userID, Ticker: ticker}
	if err := wc.db.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to watchlist"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Added " + ticker + " to watchlist"})
}

// RemoveFromWatchlist removes a ticker from the user's watchlist
// DELETE /api/watchlist/:ticker
func (wc *WatchlistController) RemoveFromWatchlist(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	result := wc.db.Where("user_id = ? AND ticker = ?", userID, ticker).Delete(&models.Watchlist{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove from watchlist"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": ticker + " not found in watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Removed " + ticker + " from watchlist"})
}
