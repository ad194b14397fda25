package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuotes struct {
	price float64
	err   error
	calls int
}

func (s *stubQuotes) Quote(ctx context.Context, symbol string) (float64, error) {
	s.calls++
	return s.price, s.err
}

type stubCloser struct {
	close float64
	err   error
}

func (s *stubCloser) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return s.close, s.err
}

type stubFeed struct {
	connected bool
}

func (s *stubFeed) IsConnected() bool { return s.connected }

func TestResolveUsesQuoteAndCachesIt(t *testing.T) {
	quotes := &stubQuotes{price: 175.5}
	r := NewPriceResolver(quotes, nil, NewMarketState(), nil, time.Minute)

	first := r.Resolve(context.Background(), "AAPL")
	assert.Equal(t, 175.5, first.Price)
	assert.Equal(t, ProvenanceReal, first.Provenance)
	assert.Equal(t, 1, quotes.calls)

	// Second resolve inside the TTL must come from the cache
	second := r.Resolve(context.Background(), "AAPL")
	assert.Equal(t, 175.5, second.Price)
	assert.Equal(t, ProvenanceCached, second.Provenance)
	assert.Equal(t, 1, quotes.calls)
}

func TestResolveCacheExpires(t *testing.T) {
	quotes := &stubQuotes{price: 175.5}
	r := NewPriceResolver(quotes, nil, NewMarketState(), nil, time.Nanosecond)

	r.Resolve(context.Background(), "AAPL")
	time.Sleep(time.Millisecond)
	resolved := r.Resolve(context.Background(), "AAPL")

	assert.Equal(t, ProvenanceReal, resolved.Provenance)
	assert.Equal(t, 2, quotes.calls)
}

func TestResolvePrefersLiveFeedState(t *testing.T) {
	state := NewMarketState()
	state.ApplyTrade("AAPL", 181.25, 0, time.Now())

	quotes := &stubQuotes{price: 175.5}
	r := NewPriceResolver(quotes, nil, state, &stubFeed{connected: true}, time.Minute)

	resolved := r.Resolve(context.Background(), "AAPL")
	assert.Equal(t, 181.25, resolved.Price)
	assert.Equal(t, ProvenanceReal, resolved.Provenance)
	assert.Zero(t, quotes.calls, "live state must shadow the REST quote")
}

func TestResolveSkipsStaleFeedState(t *testing.T) {
	state := NewMarketState()
	state.ApplyTrade("AAPL", 181.25, 0, time.Now().Add(-time.Hour))

	quotes := &stubQuotes{price: 175.5}
	r := NewPriceResolver(quotes, nil, state, &stubFeed{connected: true}, time.Minute)

	resolved := r.Resolve(context.Background(), "AAPL")
	assert.Equal(t, 175.5, resolved.Price)
	assert.Equal(t, 1, quotes.calls)
}

func TestResolveDisconnectedFeedIgnoresState(t *testing.T) {
	state := NewMarketState()
	state.ApplyTrade("AAPL", 181.25, 0, time.Now())

	quotes := &stubQuotes{price: 175.5}
	r := NewPriceResolver(quotes, nil, state, &stubFeed{connected: false}, time.Minute)

	resolved := r.Resolve(context.Background(), "AAPL")
	assert.Equal(t, 175.5, resolved.Price)
}

func TestResolveFallsBackToHistoricalClose(t *testing.T) {
	quotes := &stubQuotes{err: fmt.Errorf("quota exceeded")}
	closer := &stubCloser{close: 142.75}
	r := NewPriceResolver(quotes, closer, NewMarketState(), nil, time.Minute)

	resolved := r.Resolve(context.Background(), "AMZN")
	assert.Equal(t, 142.75, resolved.Price)
	assert.Equal(t, ProvenanceReal, resolved.Provenance)
}

func TestResolveSyntheticNeverFails(t *testing.T) {
	quotes := &stubQuotes{err: fmt.Errorf("unreachable")}
	closer := &stubCloser{err: fmt.Errorf("empty store")}
	r := NewPriceResolver(quotes, closer, NewMarketState(), nil, time.Minute)

	resolved := r.Resolve(context.Background(), "MSFT")
	assert.Equal(t, ProvenanceMock, resolved.Provenance)
	assert.Greater(t, resolved.Price, 0.0)

	// The walk anchors on the known baseline within half a percent
	assert.InDelta(t, 380.0, resolved.Price, 380.0*0.005+0.0001)
}

func TestResolveSyntheticWalksFromLastValue(t *testing.T) {
	r := NewPriceResolver(nil, nil, NewMarketState(), nil, time.Minute)

	prev := r.Resolve(context.Background(), "ZZZZ")
	require.Equal(t, ProvenanceMock, prev.Provenance)
	assert.InDelta(t, 100.0, prev.Price, 100.0*0.005+0.0001)

	for i := 0; i < 20; i++ {
		next := r.Resolve(context.Background(), "ZZZZ")
		maxStep := prev.Price*0.005 + 0.0001
		assert.LessOrEqual(t, math.Abs(next.Price-prev.Price), maxStep)
		prev = next
	}
}

func TestResolveSyntheticAnchorsOnKnownState(t *testing.T) {
	state := NewMarketState()
	state.Seed("AAPL", 250.0, 0)

	r := NewPriceResolver(nil, nil, state, nil, time.Minute)
	resolved := r.Resolve(context.Background(), "AAPL")

	assert.Equal(t, ProvenanceMock, resolved.Provenance)
	assert.InDelta(t, 250.0, resolved.Price, 250.0*0.005+0.0001)
}
