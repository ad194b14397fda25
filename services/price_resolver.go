package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultPriceCacheTTL bounds how long a resolved quote stays fresh
const DefaultPriceCacheTTL = 300 * time.Second

// Provenance tags every resolved price with where it came from
type Provenance string

const (
	ProvenanceReal   Provenance = "real"
	ProvenanceCached Provenance = "cached"
	ProvenanceMock   Provenance = "mock"
)

// ResolvedPrice is the outcome of one price resolution
type ResolvedPrice struct {
	Price      float64    `json:"price"`
	Provenance Provenance `json:"provenance"`
}

// HistoricalCloser exposes the most recent stored close for a symbol
type HistoricalCloser interface {
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// FeedStatus reports whether the streaming feed is currently live
type FeedStatus interface {
	IsConnected() bool
}

type closerChain []HistoricalCloser

// LatestClose returns the first usable close any chained source produces
func (c closerChain) LatestClose(ctx context.Context, symbol string) (float64, error) {
	for _, closer := range c {
		if close, err := closer.LatestClose(ctx, symbol); err == nil && close > 0 {
			return close, nil
		}
	}
	return 0, fmt.Errorf("no stored close for %s", symbol)
}

// ChainClosers combines close sources into one that tries each in order.
// Nil entries are skipped; an empty chain collapses to nil.
func ChainClosers(closers ...HistoricalCloser) HistoricalCloser {
	chain := make(closerChain, 0, len(closers))
	for _, c := range closers {
		if c != nil {
			chain = append(chain, c)
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// baselinePrices anchor the synthetic walk when nothing real was ever seen
var baselinePrices = map[string]float64{
	"AAPL":  175.0,
	"TSLA":  250.0,
	"AMZN":  145.0,
	"GOOGL": 140.0,
	"MSFT":  380.0,
	"NVDA":  495.0,
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// PriceResolver produces a usable price for any symbol by falling through a
// fixed source ladder: its own quote cache, the live feed state, the REST
// quote endpoint, the stored historical close, and finally a synthetic
// random walk. The last tier never fails, so Resolve always returns a price.
type PriceResolver struct {
	quotes  QuoteProvider
	history HistoricalCloser
	state   *MarketState
	feed    FeedStatus
	ttl     time.Duration

	mu       sync.Mutex
	cache    map[string]cachedPrice
	lastMock map[string]float64
	rng      *rand.Rand
}

// NewPriceResolver creates a resolver. history and feed may be nil; the
// corresponding tiers are skipped.
func NewPriceResolver(quotes QuoteProvider, history HistoricalCloser, state *MarketState, feed FeedStatus, ttl time.Duration) *PriceResolver {
	if ttl <= 0 {
		ttl = DefaultPriceCacheTTL
	}
	return &PriceResolver{
		quotes:   quotes,
		history:  history,
		state:    state,
		feed:     feed,
		ttl:      ttl,
		cache:    make(map[string]cachedPrice),
		lastMock: make(map[string]float64),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve returns a price for the symbol, walking the source ladder top down
func (r *PriceResolver) Resolve(ctx context.Context, symbol string) ResolvedPrice {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	now := time.Now()

	// Tier 1: fresh entry in the quote cache
	r.mu.Lock()
	if entry, ok := r.cache[sym]; ok && now.Sub(entry.fetchedAt) < r.ttl {
		r.mu.Unlock()
		return ResolvedPrice{Price: entry.price, Provenance: ProvenanceCached}
	}
	r.mu.Unlock()

	// Tier 2: the live feed has written this symbol recently. The feed's
	// trades land in the market state directly, so the state is the only
	// copy consulted here.
	if r.feed != nil && r.feed.IsConnected() {
		if liveAt, ok := r.state.LastLiveUpdate(sym); ok && now.Sub(liveAt) < r.ttl {
			if price, ok := r.state.GetPrice(sym); ok {
				return ResolvedPrice{Price: price, Provenance: ProvenanceReal}
			}
		}
	}

	// Tier 3: REST quote, written through to the cache on success
	if r.quotes != nil {
		quoteCtx, cancel := context.WithTimeout(ctx, QuoteTimeout)
		price, err := r.quotes.Quote(quoteCtx, sym)
		cancel()
		if err == nil && price > 0 {
			r.mu.Lock()
			r.cache[sym] = cachedPrice{price: price, fetchedAt: now}
			r.mu.Unlock()
			return ResolvedPrice{Price: price, Provenance: ProvenanceReal}
		}
		if err != nil {
			log.Printf("Quote lookup failed for %s: %v", sym, err)
		}
	}

	// Tier 4: most recent stored close
	if r.history != nil {
		if close, err := r.history.LatestClose(ctx, sym); err == nil && close > 0 {
			return ResolvedPrice{Price: close, Provenance: ProvenanceReal}
		}
	}

	// Tier 5: synthetic walk, never fails
	return ResolvedPrice{Price: r.syntheticPrice(sym), Provenance: ProvenanceMock}
}

// syntheticPrice performs one step of a bounded random walk: the last known
// price for the symbol moved by at most half a percent
func (r *PriceResolver) syntheticPrice(symbol string) float64 {
	base := r.walkBase(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	price := base * (1 + (r.rng.Float64()*2-1)*0.005)
	r.lastMock[symbol] = price
	return price
}

// walkBase picks the anchor for the synthetic walk: the freshest real price
// available, then the previous synthetic value, then a fixed baseline
func (r *PriceResolver) walkBase(symbol string) float64 {
	if price, ok := r.state.GetPrice(symbol); ok && price > 0 {
		return price
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.cache[symbol]; ok && entry.price > 0 {
		return entry.price
	}
	if last, ok := r.lastMock[symbol]; ok && last > 0 {
		return last
	}
	if base, ok := baselinePrices[symbol]; ok {
		return base
	}
	return 100.0
}

// CacheSize returns the number of cached quotes
func (r *PriceResolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
