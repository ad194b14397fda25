package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"stock_dashboard_backend/controllers"
	"stock_dashboard_backend/middleware"
	"stock_dashboard_backend/services"
)

// Prediction endpoint budget: 3 requests per 10 minutes per client
const (
	PredictRateLimit  = 3
	PredictRateWindow = 10 * time.Minute
)

// Deps bundles everything the route tree needs
type Deps struct {
	DB        *gorm.DB
	JWTSecret string
	Engine    *services.MarketEngine
	State     *services.MarketState
	Resolver  *services.PriceResolver
	History   *services.HistoryService
	Predict   *services.PredictService
	News      *services.NewsService
	Hub       *services.MarketHub
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	userController := controllers.NewUserController(deps.DB, deps.JWTSecret)
	marketController := controllers.NewMarketController(deps.Engine, deps.State, deps.Resolver, deps.History, deps.Predict)
	watchlistController := controllers.NewWatchlistController(deps.DB, deps.State)
	alertController := controllers.NewAlertController(deps.DB)
	newsController := controllers.NewNewsController(deps.DB, deps.News)

	predictLimiter := middleware.NewRateLimiter(PredictRateLimit, PredictRateWindow)

	// Dashboard stream
	router.GET("/ws", func(c *gin.Context) {
		deps.Hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := router.Group("/api")
	{
		// Public routes
		api.POST("/register", userController.Register)
		api.POST("/login", userController.Login)
		api.GET("/feed/status", marketController.GetFeedStatus)

		// Authenticated routes
		auth := api.Group("")
		auth.Use(middleware.JWTAuthMiddleware(deps.JWTSecret))
		{
			auth.GET("/prices", marketController.GetPrices)
			auth.GET("/stats", marketController.GetStats)
			auth.GET("/history/:ticker", marketController.GetHistory)
			auth.GET("/predict", predictLimiter.Middleware(), marketController.Predict)

			auth.GET("/news/:ticker", newsController.GetNews)

			auth.GET("/watchlist", watchlistController.GetWatchlist)
			auth.POST("/watchlist", watchlistController.AddToWatchlist)
			auth.DELETE("/watchlist/:ticker", watchlistController.RemoveFromWatchlist)

			auth.GET("/alerts", alertController.GetAlerts)
			auth.POST("/alerts", alertController.CreateAlert)
			auth.DELETE("/alerts/:id", alertController.DeleteAlert)
		}
	}
}
