package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"stock_dashboard_backend/middleware"
	"stock_dashboard_backend/models"
)

// AlertController manages per-user price alerts
type AlertController struct {
	db *gorm.DB
}

// NewAlertController creates a new alert controller
func NewAlertController(db *gorm.DB) *AlertController {
	return &AlertController{db: db}
}

// GetAlerts returns the user's alerts, active ones by default
// GET /api/alerts?all=true
func (ac *AlertController) GetAlerts(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	query := ac.db.Where("user_id = ?", userID)
	if c.Query("all") != "true" {
		query = query.Where("is_active = ?", true)
	}

	var alerts []models.UserAlert
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load alerts"})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// CreateAlert creates a new price alert for the user
// POST /api/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req struct {
		Ticker    string  `json:"ticker" binding:"required"`
		AlertType string  `json:"alert_type" binding:"required"`
		Threshold float64 `json:"threshold" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticker is required"})
		return
	}
	if !models.ValidAlertType(req.AlertType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert_type must be price_above or price_below"})
		return
	}
	if req.Threshold <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Threshold must be positive"})
		return
	}

	alert := models.UserAlert{
		UserID:    userID,
		Ticker:    ticker,
		AlertType: req.AlertType,
		Threshold: decimal.NewFromFloat(req.Threshold),
		IsActive:  true,
	}
	if err := ac.db.Create(&alert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Alert created", "alert_id": alert.ID})
}

// DeleteAlert removes one of the user's alerts
// DELETE /api/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	result := ac.db.Where("id = ? AND user_id = ?", c.Param("id"), userID).Delete(&models.UserAlert{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
}
