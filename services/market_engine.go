package services

import (
	"context"
	"log"
	"strings"
	"time"
)

// Refresh behavior
const (
	DefaultRefreshInterval = 10 * time.Second
	// With a live feed attached, polling only backstops symbols the feed
	// is not covering, so it runs at a third of the pace
	LiveRefreshDivisor = 3
	RefreshCallTimeout = 8 * time.Second
)

// MarketEngine owns the update pipeline: every price change, whether from
// the live feed, the refresh loop, or the drift simulator, flows through
// the same sequence of state mutation, alert evaluation, and fan-out.
type MarketEngine struct {
	ctx      context.Context
	state    *MarketState
	resolver *PriceResolver
	alerts   *AlertEvaluator
	hub      *MarketHub
	feed     *FeedConnection
	archive  *TickArchive
	symbols  []string

	refreshTicks int
}

// NewMarketEngine wires the pipeline. ctx bounds the engine's lifetime: once
// it is cancelled, alert evaluation stops touching the database. feed and
// archive may be nil.
func NewMarketEngine(ctx context.Context, state *MarketState, resolver *PriceResolver, alerts *AlertEvaluator, hub *MarketHub, feed *FeedConnection, archive *TickArchive, symbols []string) *MarketEngine {
	if ctx == nil {
		ctx = context.Background()
	}

	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if t := strings.ToUpper(strings.TrimSpace(s)); t != "" {
			upper = append(upper, t)
		}
	}

	e := &MarketEngine{
		ctx:      ctx,
		state:    state,
		resolver: resolver,
		alerts:   alerts,
		hub:      hub,
		feed:     feed,
		archive:  archive,
		symbols:  upper,
	}

	if feed != nil {
		feed.AddPriceListener(e.HandleTrade)
		feed.AddConnectionListener(e.HandleConnectionStatus)
	}
	if hub != nil {
		hub.SetConnectHandler(e.snapshotMessage)
	}
	return e
}

// Symbols returns the tracked symbol set
func (e *MarketEngine) Symbols() []string {
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}

// InitializeSymbols seeds the state with a starting price for every tracked
// symbol so the dashboard has data before the first trade or refresh tick
func (e *MarketEngine) InitializeSymbols(ctx context.Context) {
	log.Printf("Initializing %d symbols", len(e.symbols))
	for _, sym := range e.symbols {
		resolved := e.resolver.Resolve(ctx, sym)
		if !e.state.Seed(sym, resolved.Price, 0) {
			log.Printf("Skipped seeding %s: invalid price %.4f", sym, resolved.Price)
			continue
		}
		log.Printf("Initialized %s: $%.2f (%s)", sym, resolved.Price, resolved.Provenance)
	}
}

// HandleTrade is the feed's price listener. Ordering is fixed: the state
// mutates first, alerts evaluate against the post-mutation snapshot, then
// the snapshot fans out, then the raw tick is archived.
func (e *MarketEngine) HandleTrade(symbol string, price, volume float64, ts time.Time) {
	update, ok := e.state.ApplyTrade(symbol, price, int64(volume), ts)
	if !ok {
		log.Printf("Discarded invalid trade for %s: %.4f", symbol, price)
		return
	}

	e.dispatch(update, ProvenanceReal)

	if e.archive != nil {
		e.archive.Record(symbol, price, volume, ts)
	}
}

// HandleConnectionStatus is the feed's connection listener. On connect the
// tracked symbols are (re)subscribed; clients learn the feed status either way.
func (e *MarketEngine) HandleConnectionStatus(connected bool) {
	if connected {
		for _, sym := range e.symbols {
			e.feed.Subscribe(sym)
		}
	}
	if e.hub != nil {
		e.hub.PublishConnectionStatus(connected)
	}
}

// RefreshAll resolves a fresh price for every tracked symbol and pushes the
// result through the pipeline. While the feed is live only every third tick
// does work, and symbols with recent live data are skipped entirely.
func (e *MarketEngine) RefreshAll(ctx context.Context) {
	feedLive := e.feed != nil && e.feed.IsConnected()
	if feedLive {
		e.refreshTicks++
		if e.refreshTicks%LiveRefreshDivisor != 0 {
			return
		}
	}

	for _, sym := range e.symbols {
		if feedLive {
			if liveAt, ok := e.state.LastLiveUpdate(sym); ok && time.Since(liveAt) < DefaultPriceCacheTTL {
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, RefreshCallTimeout)
		resolved := e.resolver.Resolve(callCtx, sym)
		cancel()

		update, ok := e.state.SetPrice(sym, resolved.Price, time.Now())
		if !ok {
			continue
		}
		e.dispatch(update, resolved.Provenance)
	}
}

// DriftOnce applies one synthetic walk step to every tracked symbol. Used in
// demo mode when no real data source is configured.
func (e *MarketEngine) DriftOnce() {
	for _, sym := range e.symbols {
		price := e.resolver.syntheticPrice(sym)
		update, ok := e.state.SetPrice(sym, price, time.Now())
		if !ok {
			continue
		}
		e.dispatch(update, ProvenanceMock)
	}
}

// dispatch runs the fixed post-mutation sequence for one update: alerts
// first, then the symbol-scoped price frame, then the unscoped full-snapshot
// stats frame that keeps filtered clients current on the whole market
func (e *MarketEngine) dispatch(update StateUpdate, provenance Provenance) {
	if e.alerts != nil {
		for _, fired := range e.alerts.Evaluate(e.ctx, update.Prices) {
			if e.hub != nil {
				e.hub.PublishAlert(fired)
			}
		}
	}
	if e.hub != nil {
		e.hub.PublishUpdate(update, provenance)
		e.hub.PublishStats(update.Prices, update.Stats)
	}
}

// snapshotMessage builds the full-market frame pushed to new hub clients
func (e *MarketEngine) snapshotMessage() HubMessage {
	return HubMessage{
		Type: MsgSnapshot,
		Data: map[string]interface{}{
			"prices": e.state.Snapshot(),
			"stats":  e.state.StatsSnapshot(),
		},
		Time: time.Now().Format(time.RFC3339),
	}
}

// FeedStatus summarizes the upstream feed for the status endpoint
type FeedStatusReport struct {
	State             string `json:"state"`
	Connected         bool   `json:"connected"`
	Exhausted         bool   `json:"exhausted"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	SubscribedSymbols int    `json:"subscribed_symbols"`
	DashboardClients  int    `json:"dashboard_clients"`
	ArchivedDrops     int64  `json:"archived_drops"`
}

// FeedStatus reports the current feed and hub health
func (e *MarketEngine) FeedStatus() FeedStatusReport {
	report := FeedStatusReport{State: StateDisconnected.String()}
	if e.feed != nil {
		report.State = e.feed.State().String()
		report.Connected = e.feed.IsConnected()
		report.Exhausted = e.feed.Exhausted()
		report.ReconnectAttempts = e.feed.ReconnectAttempts()
		report.SubscribedSymbols = len(e.feed.SubscribedSymbols())
	}
	if e.hub != nil {
		report.DashboardClients = e.hub.ClientCount()
	}
	if e.archive != nil {
		report.ArchivedDrops = e.archive.Dropped()
	}
	return report
}
