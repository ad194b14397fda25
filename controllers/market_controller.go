package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stock_dashboard_backend/services"
	"stock_dashboard_backend/services/analysis"
)

// MarketController serves prices, stats, history, forecasts and feed status
type MarketController struct {
	engine   *services.MarketEngine
	state    *services.MarketState
	resolver *services.PriceResolver
	history  *services.HistoryService
	predict  *services.PredictService
}

// NewMarketController creates a new market controller
func NewMarketController(engine *services.MarketEngine, state *services.MarketState, resolver *services.PriceResolver, history *services.HistoryService, predict *services.PredictService) *MarketController {
	return &MarketController{
		engine:   engine,
		state:    state,
		resolver: resolver,
		history:  history,
		predict:  predict,
	}
}

// GetPrices returns the current price for every tracked symbol
// GET /api/prices
func (mc *MarketController) GetPrices(c *gin.Context) {
	result := make(map[string]float64)
	for _, sym := range mc.engine.Symbols() {
		resolved := mc.resolver.Resolve(c.Request.Context(), sym)
		result[sym] = resolved.Price
	}
	c.JSON(http.StatusOK, result)
}

// GetStats returns daily stats for every tracked symbol
// GET /api/stats
func (mc *MarketController) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, mc.state.StatsSnapshot())
}

// GetHistory returns historical bars for one ticker
// GET /api/history/:ticker?period=1d&interval=1m
func (mc *MarketController) GetHistory(c *gin.Context) {
	ticker := c.Param("ticker")
	period := c.DefaultQuery("period", "1d")
	interval := c.DefaultQuery("interval", "1m")

	if !services.ValidPeriod(period) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid period: " + period})
		return
	}
	if !services.ValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval: " + interval})
		return
	}

	points, err := mc.history.History(c.Request.Context(), ticker, period, interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	response := gin.H{
		"ticker":   strings.ToUpper(strings.TrimSpace(ticker)),
		"period":   period,
		"interval": interval,
		"points":   points,
	}

	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
	}
	if rsi, err := analysis.RSI(closes, 14); err == nil {
		response["rsi14"] = rsi
	}

	c.JSON(http.StatusOK, response)
}

// Predict returns a price forecast for one ticker
// GET /api/predict?ticker=AAPL&days=7
func (mc *MarketController) Predict(c *gin.Context) {
	ticker := strings.ToUpper(c.DefaultQuery("ticker", "AAPL"))
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days parameter"})
		return
	}

	result, err := mc.predict.Predict(c.Request.Context(), ticker, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Forecast unavailable for " + ticker})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetFeedStatus reports the health of the upstream feed and the hub
// GET /api/feed/status
func (mc *MarketController) GetFeedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, mc.engine.FeedStatus())
}
