package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock_dashboard_backend/models"
)

func testEngine(state *MarketState, resolver *PriceResolver, alerts *AlertEvaluator, symbols ...string) *MarketEngine {
	return NewMarketEngine(context.Background(), state, resolver, alerts, nil, nil, nil, symbols)
}

func TestEngineNormalizesSymbols(t *testing.T) {
	e := testEngine(NewMarketState(), nil, nil, " aapl ", "TSLA", "")
	assert.Equal(t, []string{"AAPL", "TSLA"}, e.Symbols())
}

func TestInitializeSymbolsSeedsState(t *testing.T) {
	state := NewMarketState()
	resolver := NewPriceResolver(&stubQuotes{price: 50}, nil, state, nil, time.Minute)
	e := testEngine(state, resolver, nil, "AAPL", "TSLA")

	e.InitializeSymbols(context.Background())

	for _, sym := range []string{"AAPL", "TSLA"} {
		price, ok := state.GetPrice(sym)
		require.True(t, ok)
		assert.Equal(t, 50.0, price)

		stats, _ := state.GetStats(sym)
		assert.Equal(t, 50.0, stats.PreviousClose)
	}
}

func TestHandleTradeEvaluatesPostMutationState(t *testing.T) {
	state := NewMarketState()
	state.Seed("AAPL", 90.0, 0)

	store := newMemAlertStore(alertFixture(1, "AAPL", models.AlertPriceAbove, 100))
	alerts := NewAlertEvaluator(store)

	var firedPrice float64
	alerts.AddNotifier(func(ta TriggeredAlert) {
		firedPrice = ta.Price
	})

	e := testEngine(state, nil, alerts, "AAPL")
	e.HandleTrade("AAPL", 150.0, 10, time.Now())

	// The evaluator saw the freshly written price, not the seed
	assert.Equal(t, 150.0, firedPrice)

	price, _ := state.GetPrice("AAPL")
	assert.Equal(t, 150.0, price)
}

func TestHandleTradeDiscardsInvalidPrices(t *testing.T) {
	state := NewMarketState()
	state.Seed("AAPL", 90.0, 0)

	store := newMemAlertStore(alertFixture(1, "AAPL", models.AlertPriceBelow, 50))
	alerts := NewAlertEvaluator(store)

	e := testEngine(state, nil, alerts, "AAPL")
	e.HandleTrade("AAPL", -5, 0, time.Now())

	price, _ := state.GetPrice("AAPL")
	assert.Equal(t, 90.0, price, "invalid trade must not touch the state")

	active, _ := store.Active(context.Background())
	assert.Len(t, active, 1, "invalid trade must not reach the evaluator")
}

func TestRefreshAllWritesEverySymbol(t *testing.T) {
	state := NewMarketState()
	resolver := NewPriceResolver(&stubQuotes{price: 123.45}, nil, state, nil, time.Minute)
	e := testEngine(state, resolver, nil, "AAPL", "MSFT", "NVDA")

	e.RefreshAll(context.Background())

	for _, sym := range e.Symbols() {
		price, ok := state.GetPrice(sym)
		require.True(t, ok, "symbol %s missing after refresh", sym)
		assert.Equal(t, 123.45, price)
	}
}

func TestDriftOnceStaysBounded(t *testing.T) {
	state := NewMarketState()
	state.Seed("AAPL", 200.0, 0)
	resolver := NewPriceResolver(nil, nil, state, nil, time.Minute)
	e := testEngine(state, resolver, nil, "AAPL")

	e.DriftOnce()

	price, _ := state.GetPrice("AAPL")
	assert.InDelta(t, 200.0, price, 200.0*0.005+0.0001)

	// Drift writes are not live-feed writes
	_, live := state.LastLiveUpdate("AAPL")
	assert.False(t, live)
}

func TestHandleTradeBroadcastsStatsToFilteredClients(t *testing.T) {
	hub, url := startHub(t)

	state := NewMarketState()
	state.Seed("TSLA", 200.0, 0)
	e := NewMarketEngine(context.Background(), state, nil, nil, hub, nil, nil, []string{"AAPL", "TSLA"})

	conn := dialHub(t, url)
	waitForClients(t, hub, 1)

	// Narrow the client to AAPL, then move TSLA
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action":  "subscribe",
		"tickers": []string{"AAPL"},
	}))
	time.Sleep(50 * time.Millisecond)

	e.HandleTrade("TSLA", 210.0, 5, time.Now())

	// The TSLA price frame is filtered out, but the full-snapshot stats
	// frame still arrives so the client's view of TSLA stays current
	msg := readMessage(t, conn)
	assert.Equal(t, MsgStatsUpdate, msg.Type)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var payload struct {
		Prices map[string]float64    `json:"prices"`
		Stats  map[string]DailyStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 210.0, payload.Prices["TSLA"])
	assert.Equal(t, 210.0, payload.Stats["TSLA"].High)
}

// ctxAwareStore records the context state it was last queried with
type ctxAwareStore struct {
	mu      sync.Mutex
	lastErr error
}

func (s *ctxAwareStore) Active(ctx context.Context) ([]models.UserAlert, error) {
	s.mu.Lock()
	s.lastErr = ctx.Err()
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *ctxAwareStore) MarkTriggered(ctx context.Context, id uint, at time.Time) (bool, error) {
	return false, nil
}

func (s *ctxAwareStore) lastContextErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func TestEngineAlertEvaluationHonorsShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &ctxAwareStore{}
	alerts := NewAlertEvaluator(store)
	e := NewMarketEngine(ctx, NewMarketState(), nil, alerts, nil, nil, nil, []string{"AAPL"})

	cancel()
	e.HandleTrade("AAPL", 10.0, 0, time.Now())

	assert.ErrorIs(t, store.lastContextErr(), context.Canceled,
		"alert queries must carry the engine's lifetime context")
}

func TestFeedStatusWithoutFeed(t *testing.T) {
	e := testEngine(NewMarketState(), nil, nil, "AAPL")

	report := e.FeedStatus()
	assert.Equal(t, "disconnected", report.State)
	assert.False(t, report.Connected)
	assert.False(t, report.Exhausted)
	assert.Zero(t, report.DashboardClients)
}
