package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxHistoryPoints caps one history response; longer ranges get their
// interval widened instead of being truncated
const MaxHistoryPoints = 500

// HistoryPoint is one bar of a history response
type HistoryPoint struct {
	Time   string  `json:"time"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
}

const historyTimeLayout = "2006-01-02 15:04"

// periodSeconds maps a request period to the lookback window in seconds
var periodSeconds = map[string]int64{
	"1d":  1 * 24 * 60 * 60,
	"5d":  5 * 24 * 60 * 60,
	"1mo": 30 * 24 * 60 * 60,
	"3mo": 90 * 24 * 60 * 60,
	"6mo": 180 * 24 * 60 * 60,
	"1y":  365 * 24 * 60 * 60,
	"2y":  2 * 365 * 24 * 60 * 60,
	"5y":  5 * 365 * 24 * 60 * 60,
	"10y": 10 * 365 * 24 * 60 * 60,
	"ytd": 365 * 24 * 60 * 60,
	"max": 10 * 365 * 24 * 60 * 60,
}

// intervalResolution maps a request interval to the provider's resolution
var intervalResolution = map[string]string{
	"1m": "1", "2m": "1", "5m": "5", "15m": "15", "30m": "30",
	"60m": "60", "90m": "60", "1h": "60",
	"1d": "D", "5d": "D", "1wk": "W", "1mo": "M", "3mo": "M",
}

var periodDays = map[string]int{
	"1d": 1, "5d": 5, "1mo": 30, "3mo": 90, "6mo": 180,
	"1y": 365, "2y": 730, "5y": 1825, "10y": 3650, "ytd": 365, "max": 3650,
}

var intervalMinutes = map[string]int{
	"1m": 1, "2m": 2, "5m": 5, "15m": 15, "30m": 30,
	"60m": 60, "90m": 90, "1h": 60, "1d": 1440, "5d": 7200,
	"1wk": 10080, "1mo": 43200, "3mo": 129600,
}

// ValidPeriod reports whether the period token is supported
func ValidPeriod(period string) bool {
	_, ok := periodSeconds[period]
	return ok
}

// ValidInterval reports whether the interval token is supported
func ValidInterval(interval string) bool {
	_, ok := intervalMinutes[interval]
	return ok
}

// HistoryService serves OHLCV history for a symbol. Sources, in order: the
// provider's candle endpoint (cached to the local store on success), the
// local candle store, and finally generated bars anchored at the symbol's
// current resolved price. The last source always produces data. Fetched
// daily bars are also written through to the relational price history.
type HistoryService struct {
	provider CandleProvider
	store    *CandleStore
	rows     *PriceHistoryStore
	resolver *PriceResolver

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHistoryService creates a history service. provider, store and rows may
// be nil.
func NewHistoryService(provider CandleProvider, store *CandleStore, rows *PriceHistoryStore, resolver *PriceResolver) *HistoryService {
	return &HistoryService{
		provider: provider,
		store:    store,
		rows:     rows,
		resolver: resolver,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// History returns bars for a ticker over the requested period/interval,
// oldest first with strictly increasing timestamps
func (h *HistoryService) History(ctx context.Context, ticker, period, interval string) ([]HistoryPoint, error) {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("invalid period %q", period)
	}
	if !ValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}

	resolution := intervalResolution[interval]
	to := time.Now()
	from := to.Add(-time.Duration(periodSeconds[period]) * time.Second)

	if h.provider != nil {
		candles, err := h.provider.Candles(ctx, sym, resolution, from, to)
		if err == nil && len(candles) > 0 {
			if h.store != nil {
				if err := h.store.SaveCandles(sym, resolution, candles); err != nil {
					log.Printf("Failed to cache candles for %s: %v", sym, err)
				}
			}
			// Daily bars are durable facts worth keeping in the database
			if h.rows != nil && resolution == "D" {
				if err := h.rows.SaveDailyCandles(sym, candles); err != nil {
					log.Printf("Failed to persist daily bars for %s: %v", sym, err)
				}
			}
			return candlesToPoints(candles), nil
		}
		if err != nil {
			log.Printf("History fetch failed for %s: %v", sym, err)
		}
	}

	if h.store != nil {
		candles, err := h.store.LoadCandles(sym, resolution, from.Unix(), to.Unix())
		if err == nil && len(candles) > 0 {
			return candlesToPoints(candles), nil
		}
	}

	current := h.resolver.Resolve(ctx, sym)
	return h.generateHistory(period, interval, current.Price), nil
}

// LatestClose satisfies HistoricalCloser, trying the candle cache first and
// the relational price history second
func (h *HistoryService) LatestClose(ctx context.Context, symbol string) (float64, error) {
	if h.store != nil {
		if close, err := h.store.LatestClose(ctx, symbol); err == nil {
			return close, nil
		}
	}
	if h.rows != nil {
		return h.rows.LatestClose(ctx, symbol)
	}
	return 0, fmt.Errorf("no close stored for %s", symbol)
}

func candlesToPoints(candles []Candle) []HistoryPoint {
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })

	points := make([]HistoryPoint, 0, len(candles))
	var lastTS int64
	for _, c := range candles {
		// Drop duplicate bars so timestamps stay strictly increasing
		if c.Timestamp <= lastTS && len(points) > 0 {
			continue
		}
		lastTS = c.Timestamp
		points = append(points, HistoryPoint{
			Time:   time.Unix(c.Timestamp, 0).UTC().Format(historyTimeLayout),
			Price:  c.Close,
			Volume: c.Volume,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
		})
	}
	return points
}

// generateHistory builds bars around the current price when no real data is
// available. When the period/interval pair would exceed the point cap, the
// interval is widened to land exactly on the cap.
func (h *HistoryService) generateHistory(period, interval string, currentPrice float64) []HistoryPoint {
	days := periodDays[period]
	minutes := intervalMinutes[interval]

	totalMinutes := days * 24 * 60
	numPoints := totalMinutes / minutes
	if numPoints > MaxHistoryPoints {
		minutes = totalMinutes / MaxHistoryPoints
		numPoints = MaxHistoryPoints
	}
	if numPoints < 1 {
		numPoints = 1
	}

	now := time.Now()
	points := make([]HistoryPoint, numPoints)

	h.mu.Lock()
	defer h.mu.Unlock()

	// Walk backwards from now; index 0 carries the current price exactly
	for i := 0; i < numPoints; i++ {
		var ts time.Time
		if minutes < 1440 {
			ts = now.Add(-time.Duration(i*minutes) * time.Minute)
		} else {
			ts = now.AddDate(0, 0, -i*(minutes/1440))
		}

		price := currentPrice
		if i > 0 {
			variation := math.Min(0.02, float64(i*minutes)/(24*60)*0.01)
			price = currentPrice * (1 + (h.rng.Float64()*2-1)*variation)
		}

		open := price * (1 + (h.rng.Float64()*2-1)*0.005)
		high := math.Max(open, price) * (1 + h.rng.Float64()*0.01)
		low := math.Min(open, price) * (1 - h.rng.Float64()*0.01)

		// Filled oldest-first after the loop by writing back to front
		points[numPoints-1-i] = HistoryPoint{
			Time:   ts.Format(historyTimeLayout),
			Price:  price,
			Volume: 1000000 + h.rng.Int63n(4000000),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
		}
	}
	return points
}
