package controllers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_dashboard_backend/models"
	"stock_dashboard_backend/services"
)

// NewsController serves company news with sentiment
type NewsController struct {
	db   *gorm.DB
	news *services.NewsService
}

// NewNewsController creates a new news controller
func NewNewsController(db *gorm.DB, news *services.NewsService) *NewsController {
	return &NewsController{db: db, news: news}
}

// GetNews returns recent scored articles for a ticker. Stored articles are
// served first; a refresh or an empty store falls through to the fetchers.
// GET /api/news/:ticker?refresh=true
func (nc *NewsController) GetNews(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	forceRefresh := strings.ToLower(c.Query("refresh")) == "true"

	if forceRefresh {
		nc.news.CleanupOldArticles()
		log.Printf("Cleared stale news before refresh of %s", ticker)
	}

	if nc.db != nil && !forceRefresh {
		var stored []models.NewsArticle
		err := nc.db.Where("ticker = ?", ticker).
			Order("published_at DESC").
			Limit(20).
			Find(&stored).Error
		if err == nil && len(stored) > 0 {
			c.JSON(http.StatusOK, stored)
			return
		}
	}

	articles := nc.news.StockNews(c.Request.Context(), ticker)
	c.JSON(http.StatusOK, articles)
}
