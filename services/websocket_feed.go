package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Feed connection defaults
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
	FeedHandshakeTimeout        = 10 * time.Second
	FeedWriteTimeout            = 10 * time.Second
)

// ConnectionState describes the feed connection lifecycle
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// PriceListener is invoked for every decoded trade, in registration order
type PriceListener func(symbol string, price, volume float64, ts time.Time)

// ConnectionListener is invoked on every connect/disconnect transition
type ConnectionListener func(connected bool)

// FeedConfig holds feed connection settings
type FeedConfig struct {
	URL                  string
	APIKey               string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// FeedConnection maintains one persistent streaming session to the market
// data provider. It owns reconnect scheduling with a bounded attempt counter
// and replays the subscription set after every successful reconnect.
type FeedConnection struct {
	cfg    FeedConfig
	dialer websocket.Dialer

	mu         sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn
	subscribed map[string]struct{}
	priceList  []PriceListener
	connList   []ConnectionListener
	attempts   int
	exhausted  bool

	// writeMu serializes all writes on the connection (gorilla allows one
	// concurrent writer)
	writeMu sync.Mutex
}

// feedFrame is the provider wire format: trade batches and keep-alive pings
type feedFrame struct {
	Type string      `json:"type"`
	Data []feedTrade `json:"data"`
}

type feedTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // milliseconds
}

type feedCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// NewFeedConnection creates a feed connection. Connect must be called to
// start the session.
func NewFeedConnection(cfg FeedConfig) *FeedConnection {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &FeedConnection{
		cfg:        cfg,
		dialer:     websocket.Dialer{HandshakeTimeout: FeedHandshakeTimeout},
		state:      StateDisconnected,
		subscribed: make(map[string]struct{}),
	}
}

// AddPriceListener registers a trade listener. Listeners run synchronously in
// registration order; a panicking listener is isolated and logged.
func (f *FeedConnection) AddPriceListener(l PriceListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceList = append(f.priceList, l)
}

// AddConnectionListener registers a connection status listener
func (f *FeedConnection) AddConnectionListener(l ConnectionListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connList = append(f.connList, l)
}

// Connect dials the provider and starts the receive loop. On failure the
// reconnect path is scheduled and the dial error returned.
func (f *FeedConnection) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateClosing || f.state == StateConnected || f.state == StateConnecting {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("feed connect skipped: state is %s", state)
	}
	f.state = StateConnecting
	f.mu.Unlock()

	url := f.cfg.URL
	if f.cfg.APIKey != "" {
		url = fmt.Sprintf("%s?token=%s", f.cfg.URL, f.cfg.APIKey)
	}

	conn, _, err := f.dialer.DialContext(ctx, url, nil)
	if err != nil {
		f.mu.Lock()
		f.state = StateDisconnected
		f.mu.Unlock()
		f.scheduleReconnect(ctx)
		return fmt.Errorf("feed dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.state = StateConnected
	f.attempts = 0
	replay := make([]string, 0, len(f.subscribed))
	for sym := range f.subscribed {
		replay = append(replay, sym)
	}
	f.mu.Unlock()

	log.Println("Feed connection established")
	f.notifyConnection(true)

	// Replay the subscription set, one frame per symbol
	for _, sym := range replay {
		if err := f.writeCommand(feedCommand{Type: "subscribe", Symbol: sym}); err != nil {
			log.Printf("Failed to replay subscription for %s: %v", sym, err)
		}
	}

	go f.readLoop(ctx, conn)
	return nil
}

// readLoop receives frames until the transport fails or the feed is closed
func (f *FeedConnection) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.State() == StateClosing {
				return
			}
			log.Printf("Feed read error: %v", err)
			f.teardown(ctx, conn)
			return
		}

		if err := f.handleMessage(message); err != nil {
			// Keep-alive violation is a transport-level failure
			log.Printf("Feed protocol error: %v", err)
			f.teardown(ctx, conn)
			return
		}
	}
}

// handleMessage decodes one frame. Malformed frames are dropped and logged;
// only a failed pong reply is returned as an error.
func (f *FeedConnection) handleMessage(message []byte) error {
	var frame feedFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("Failed to parse feed message: %v", err)
		return nil
	}

	switch frame.Type {
	case "ping":
		// Answer before any other processing
		if err := f.writeCommand(feedCommand{Type: "pong"}); err != nil {
			return fmt.Errorf("pong write failed: %w", err)
		}
	case "trade":
		for _, trade := range frame.Data {
			if trade.Symbol == "" || trade.Price <= 0 {
				continue
			}
			f.dispatchTrade(trade)
		}
	default:
		// Ignore status and unknown frame types
	}
	return nil
}

// dispatchTrade invokes every price listener in order, isolating failures so
// one listener cannot break ingestion
func (f *FeedConnection) dispatchTrade(trade feedTrade) {
	f.mu.RLock()
	listeners := make([]PriceListener, len(f.priceList))
	copy(listeners, f.priceList)
	f.mu.RUnlock()

	ts := time.UnixMilli(trade.Timestamp)
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Price listener panic for %s: %v", trade.Symbol, r)
				}
			}()
			l(trade.Symbol, trade.Price, trade.Volume, ts)
		}()
	}
}

// teardown moves to Disconnected, notifies listeners and schedules a reconnect
func (f *FeedConnection) teardown(ctx context.Context, conn *websocket.Conn) {
	f.mu.Lock()
	if f.state == StateClosing {
		f.mu.Unlock()
		return
	}
	f.state = StateDisconnected
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()

	conn.Close()
	log.Println("Feed connection lost")
	f.notifyConnection(false)
	f.scheduleReconnect(ctx)
}

// scheduleReconnect arms one reconnect attempt after the configured delay.
// After the attempt counter exceeds its ceiling the feed halts permanently.
func (f *FeedConnection) scheduleReconnect(ctx context.Context) {
	f.mu.Lock()
	if f.state == StateClosing || f.exhausted {
		f.mu.Unlock()
		return
	}
	if f.attempts >= f.cfg.MaxReconnectAttempts {
		f.exhausted = true
		f.mu.Unlock()
		log.Printf("ERROR: feed reconnect attempts exhausted (%d), streaming disabled until restart",
			f.cfg.MaxReconnectAttempts)
		return
	}
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	log.Printf("Scheduling feed reconnect (%d/%d) in %v", attempt, f.cfg.MaxReconnectAttempts, f.cfg.ReconnectDelay)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
		if err := f.Connect(ctx); err != nil {
			log.Printf("Feed reconnect failed: %v", err)
		}
	}()
}

// notifyConnection invokes connection listeners with failure isolation
func (f *FeedConnection) notifyConnection(connected bool) {
	f.mu.RLock()
	listeners := make([]ConnectionListener, len(f.connList))
	copy(listeners, f.connList)
	f.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Connection listener panic: %v", r)
				}
			}()
			l(connected)
		}()
	}
}

// Subscribe adds a symbol to the subscription set. Subscribing an already
// subscribed symbol is a no-op. When connected the subscribe frame is sent
// immediately; otherwise it is replayed on the next successful connect.
func (f *FeedConnection) Subscribe(symbol string) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return
	}

	f.mu.Lock()
	if _, ok := f.subscribed[sym]; ok {
		f.mu.Unlock()
		return
	}
	f.subscribed[sym] = struct{}{}
	connected := f.state == StateConnected
	f.mu.Unlock()

	if connected {
		if err := f.writeCommand(feedCommand{Type: "subscribe", Symbol: sym}); err != nil {
			log.Printf("Failed to subscribe to %s: %v", sym, err)
		}
	}
}

// Unsubscribe removes a symbol from the subscription set
func (f *FeedConnection) Unsubscribe(symbol string) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	f.mu.Lock()
	_, ok := f.subscribed[sym]
	delete(f.subscribed, sym)
	connected := f.state == StateConnected
	f.mu.Unlock()

	if ok && connected {
		if err := f.writeCommand(feedCommand{Type: "unsubscribe", Symbol: sym}); err != nil {
			log.Printf("Failed to unsubscribe from %s: %v", sym, err)
		}
	}
}

// writeCommand sends one JSON frame on the connection
func (f *FeedConnection) writeCommand(cmd feedCommand) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(FeedWriteTimeout))
	return conn.WriteJSON(cmd)
}

// State returns the current connection state
func (f *FeedConnection) State() ConnectionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// IsConnected reports whether the feed is currently connected
func (f *FeedConnection) IsConnected() bool {
	return f.State() == StateConnected
}

// Exhausted reports whether the reconnect ceiling was hit; once true the
// feed never reconnects automatically
func (f *FeedConnection) Exhausted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.exhausted
}

// ReconnectAttempts returns the current consecutive attempt counter
func (f *FeedConnection) ReconnectAttempts() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attempts
}

// SubscribedSymbols returns the current subscription set
func (f *FeedConnection) SubscribedSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subscribed))
	for sym := range f.subscribed {
		out = append(out, sym)
	}
	return out
}

// Close shuts the connection down permanently
func (f *FeedConnection) Close() {
	f.mu.Lock()
	f.state = StateClosing
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Println("Feed connection closed")
}
