package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"stock_dashboard_backend/services"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron    *gocron.Scheduler
	engine  *services.MarketEngine
	history *services.HistoryService
	news    *services.NewsService

	refreshInterval time.Duration
	simulateDrift   bool
}

// NewScheduler creates a new scheduler instance. history and news may be nil;
// their jobs are skipped.
func NewScheduler(engine *services.MarketEngine, history *services.HistoryService, news *services.NewsService, refreshInterval time.Duration, simulateDrift bool) *Scheduler {
	if refreshInterval <= 0 {
		refreshInterval = services.DefaultRefreshInterval
	}
	return &Scheduler{
		cron:            gocron.NewScheduler(time.UTC),
		engine:          engine,
		history:         history,
		news:            news,
		refreshInterval: refreshInterval,
		simulateDrift:   simulateDrift,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Refresh every tracked symbol on the base cadence. All state access
	// goes through the engine, never directly at the maps.
	s.cron.Every(int(s.refreshInterval.Seconds())).Seconds().Do(func() {
		s.refreshPrices()
	})

	if s.simulateDrift {
		s.cron.Every(int(s.refreshInterval.Seconds())).Seconds().Do(func() {
			s.engine.DriftOnce()
		})
	}

	// Warm the candle cache with daily bars after US market close
	if s.history != nil {
		s.cron.Every(1).Day().At("21:30").Do(func() {
			s.warmCandleCache()
		})
	}

	// Sweep stale news articles nightly
	if s.news != nil {
		s.cron.Every(1).Day().At("01:00").Do(func() {
			s.news.CleanupOldArticles()
		})
	}

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// refreshPrices runs one pass of the refresh loop
func (s *Scheduler) refreshPrices() {
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshInterval)
	defer cancel()
	s.engine.RefreshAll(ctx)
}

// warmCandleCache prefetches daily bars for every tracked symbol so history
// requests and forecasts have local data to fall back on
func (s *Scheduler) warmCandleCache() {
	log.Println("Warming candle cache...")

	for _, sym := range s.engine.Symbols() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := s.history.History(ctx, sym, "6mo", "1d")
		cancel()
		if err != nil {
			log.Printf("Error warming candle cache for %s: %v", sym, err)
		}
	}

	log.Println("Candle cache warm complete")
}
