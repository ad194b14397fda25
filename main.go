package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"stock_dashboard_backend/config"
	"stock_dashboard_backend/models"
	"stock_dashboard_backend/routes"
	"stock_dashboard_backend/scheduler"
	"stock_dashboard_backend/services"
)

// dbInitialized tracks whether the database and market pipeline have been
// initialized, for the /ready probe while startup runs in the background
var dbInitialized bool
var dbInitMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Stock Dashboard Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Health endpoints first so orchestrators can see the service is up
	// while the pipeline initializes in the background
	setupHealthEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	feedCtx, cancelFeed := context.WithCancel(context.Background())

	// Handed from the init goroutine to the shutdown path under dbInitMutex
	var jobScheduler *scheduler.Scheduler
	var hub *services.MarketHub
	var feed *services.FeedConnection
	var archive *services.TickArchive

	go func() {
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		log.Println("Running database migrations...")
		if err := runMigrations(); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Build the market pipeline
		state := services.NewMarketState()
		quotes := services.NewFinnhubClient(cfg.FinnhubAPIKey)

		candleStore, err := services.NewCandleStore(services.DefaultCandleDBPath)
		if err != nil {
			log.Printf("Warning: candle cache unavailable: %v", err)
			candleStore = nil
		}
		priceRows := services.NewPriceHistoryStore(db)

		var feedConn *services.FeedConnection
		if cfg.FinnhubAPIKey != "" {
			feedConn = services.NewFeedConnection(services.FeedConfig{
				URL:                  cfg.FinnhubWSURL,
				APIKey:               cfg.FinnhubAPIKey,
				MaxReconnectAttempts: cfg.MaxReconnectAttempts,
				ReconnectDelay:       cfg.ReconnectDelay,
			})
		}

		closers := services.ChainClosers(storeCloser(candleStore), priceRows)
		resolver := services.NewPriceResolver(quotes, closers, state, feedStatus(feedConn), cfg.PriceCacheTTL)
		history := services.NewHistoryService(quotes, candleStore, priceRows, resolver)
		predict := services.NewPredictService(history)
		news := services.NewNewsService(cfg.NewsAPIKey, cfg.FinnhubAPIKey, db)
		alerts := services.NewAlertEvaluator(services.NewGormAlertStore(db))

		tickArchive, err := services.NewTickArchive(cfg.MongoURI)
		if err != nil {
			log.Printf("Warning: tick archive unavailable: %v", err)
			tickArchive = nil
		}

		mktHub := services.NewMarketHub()
		mktHub.Start()

		engine := services.NewMarketEngine(feedCtx, state, resolver, alerts, mktHub, feedConn, tickArchive, cfg.Tickers)
		engine.InitializeSymbols(feedCtx)

		if feedConn != nil {
			if err := feedConn.Connect(feedCtx); err != nil {
				log.Printf("Initial feed connection failed: %v", err)
			}
		}

		routes.SetupRoutes(router, routes.Deps{
			DB:        db,
			JWTSecret: cfg.JWTSecret,
			Engine:    engine,
			State:     state,
			Resolver:  resolver,
			History:   history,
			Predict:   predict,
			News:      news,
			Hub:       mktHub,
		})

		sched := scheduler.NewScheduler(engine, history, news,
			time.Duration(cfg.RefreshSeconds)*time.Second, cfg.SimulateDrift)
		go sched.Start()

		dbInitMutex.Lock()
		jobScheduler = sched
		hub = mktHub
		feed = feedConn
		archive = tickArchive
		dbInitialized = true
		dbInitMutex.Unlock()

		log.Println("Application fully initialized with database")
	}()

	gracefulShutdown(server, func() {
		cancelFeed()

		dbInitMutex.RLock()
		sched, mktHub, feedConn, tickArchive := jobScheduler, hub, feed, archive
		dbInitMutex.RUnlock()

		if sched != nil {
			sched.Stop()
		}
		if feedConn != nil {
			feedConn.Close()
		}
		if mktHub != nil {
			mktHub.Shutdown()
		}
		if tickArchive != nil {
			if err := tickArchive.Close(); err != nil {
				log.Printf("Tick archive close error: %v", err)
			}
		}
	})
}

// storeCloser adapts a possibly-nil candle store to the resolver interface
func storeCloser(store *services.CandleStore) services.HistoricalCloser {
	if store == nil {
		return nil
	}
	return store
}

// feedStatus adapts a possibly-nil feed to the resolver interface
func feedStatus(feed *services.FeedConnection) services.FeedStatus {
	if feed == nil {
		return nil
	}
	return feed
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateUserModels(db); err != nil {
		return err
	}
	if err := models.MigrateAlertModels(db); err != nil {
		return err
	}
	if err := models.MigrateNewsModels(db); err != nil {
		return err
	}
	if err := models.MigrateStockModels(db); err != nil {
		return err
	}
	return nil
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stock Dashboard Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
		})
	})

	// Readiness probe
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		ready := dbInitialized
		dbInitMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "initializing",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a permissive CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown waits for a termination signal, then stops background
// work before shutting the HTTP server down
func gracefulShutdown(server *http.Server, stopBackground func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
