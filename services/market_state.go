package services

import (
	"math"
	"sync"
	"time"
)

// DailyStats holds per-symbol session statistics. High/low only ever widen
// for the lifetime of the process; they reset on restart.
type DailyStats struct {
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previousClose"`
	Volume        int64   `json:"volume"`
}

// StateUpdate captures the result of one state mutation: the symbol that
// changed plus full price and stats snapshots taken under the same lock hold,
// so alert evaluation and fan-out observe exactly the post-mutation state.
type StateUpdate struct {
	Symbol string
	Price  float64
	Prices map[string]float64
	Stats  map[string]DailyStats
}

// MarketState is the single authoritative mapping of symbol to current price
// and daily stats. All reads and writes from every other component go through
// it; the price and stats maps share one lock so a symbol's price/high/low
// are always observed consistently as a unit.
type MarketState struct {
	mu        sync.RWMutex
	prices    map[string]float64
	stats     map[string]DailyStats
	updatedAt map[string]time.Time
	liveAt    map[string]time.Time
}

// NewMarketState creates an empty market state store
func NewMarketState() *MarketState {
	return &MarketState{
		prices:    make(map[string]float64),
		stats:     make(map[string]DailyStats),
		updatedAt: make(map[string]time.Time),
		liveAt:    make(map[string]time.Time),
	}
}

// validPrice rejects non-positive and non-finite values
func validPrice(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// ApplyTrade applies a live trade to the store. Returns false when the price
// is invalid and was discarded.
func (ms *MarketState) ApplyTrade(symbol string, price float64, volume int64, ts time.Time) (StateUpdate, bool) {
	if !validPrice(price) {
		return StateUpdate{}, false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.applyLocked(symbol, price, volume)
	ms.updatedAt[symbol] = ts
	ms.liveAt[symbol] = ts
	return ms.updateLocked(symbol, price), true
}

// SetPrice applies a resolved (non-feed) price to the store. Returns false
// when the price is invalid and was discarded.
func (ms *MarketState) SetPrice(symbol string, price float64, ts time.Time) (StateUpdate, bool) {
	if !validPrice(price) {
		return StateUpdate{}, false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.applyLocked(symbol, price, 0)
	ms.updatedAt[symbol] = ts
	return ms.updateLocked(symbol, price), true
}

// Seed initializes a symbol during startup. PreviousClose is pinned to the
// seed price and left alone afterwards.
func (ms *MarketState) Seed(symbol string, price float64, volume int64) bool {
	if !validPrice(price) {
		return false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.prices[symbol] = price
	ms.stats[symbol] = DailyStats{
		High:          price * 1.02,
		Low:           price * 0.98,
		Open:          price * 0.99,
		PreviousClose: price,
		Volume:        volume,
	}
	ms.updatedAt[symbol] = time.Now()
	return true
}

// applyLocked performs the compound price/stats mutation. Caller holds mu.
func (ms *MarketState) applyLocked(symbol string, price float64, volume int64) {
	st, ok := ms.stats[symbol]
	if !ok {
		// First touch: synthetic spread so readers never see zeroed stats
		st = DailyStats{
			High:          price * 1.02,
			Low:           price * 0.98,
			Open:          price * 0.99,
			PreviousClose: price,
		}
	}
	st.High = math.Max(st.High, price)
	st.Low = math.Min(st.Low, price)
	if volume > 0 {
		st.Volume = volume
	}
	ms.prices[symbol] = price
	ms.stats[symbol] = st
}

// updateLocked builds a StateUpdate with snapshot copies. Caller holds mu.
func (ms *MarketState) updateLocked(symbol string, price float64) StateUpdate {
	return StateUpdate{
		Symbol: symbol,
		Price:  price,
		Prices: ms.snapshotLocked(),
		Stats:  ms.statsSnapshotLocked(),
	}
}

// GetPrice returns the current price for a symbol
func (ms *MarketState) GetPrice(symbol string) (float64, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	price, ok := ms.prices[symbol]
	return price, ok
}

// GetStats returns the daily stats for a symbol
func (ms *MarketState) GetStats(symbol string) (DailyStats, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	st, ok := ms.stats[symbol]
	return st, ok
}

// LastUpdate returns when a symbol was last written from any source
func (ms *MarketState) LastUpdate(symbol string) (time.Time, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	ts, ok := ms.updatedAt[symbol]
	return ts, ok
}

// LastLiveUpdate returns when a symbol was last written from the live feed
func (ms *MarketState) LastLiveUpdate(symbol string) (time.Time, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	ts, ok := ms.liveAt[symbol]
	return ts, ok
}

// Snapshot returns a copy of the full symbol -> price map
func (ms *MarketState) Snapshot() map[string]float64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.snapshotLocked()
}

// StatsSnapshot returns a copy of the full symbol -> stats map
func (ms *MarketState) StatsSnapshot() map[string]DailyStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.statsSnapshotLocked()
}

func (ms *MarketState) snapshotLocked() map[string]float64 {
	out := make(map[string]float64, len(ms.prices))
	for k, v := range ms.prices {
		out[k] = v
	}
	return out
}

func (ms *MarketState) statsSnapshotLocked() map[string]DailyStats {
	out := make(map[string]DailyStats, len(ms.stats))
	for k, v := range ms.stats {
		out[k] = v
	}
	return out
}
