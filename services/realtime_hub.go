package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub configuration
const (
	MaxHubClients      = 100
	HubWriteTimeout    = 10 * time.Second
	HubPongTimeout     = 60 * time.Second
	HubPingInterval    = 30 * time.Second
	ClientSendBuffer   = 256
	BroadcastQueueSize = 256
)

// HubMessage is the envelope for every frame pushed to dashboard clients
type HubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// Hub message types
const (
	MsgPriceUpdate      = "price_update"
	MsgStatsUpdate      = "stats_update"
	MsgSnapshot         = "snapshot"
	MsgAlertTriggered   = "alert_triggered"
	MsgConnectionStatus = "connection_status"
)

// priceUpdatePayload carries one mutation plus full snapshots so clients
// never need a second round trip to render
type priceUpdatePayload struct {
	Ticker     string                `json:"ticker"`
	Price      float64               `json:"price"`
	Provenance Provenance            `json:"provenance"`
	Prices     map[string]float64    `json:"prices"`
	Stats      map[string]DailyStats `json:"stats"`
}

type outboundMessage struct {
	symbol  string // empty means deliver to everyone
	payload []byte
}

// hubClient is one dashboard connection
type hubClient struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

// wants reports whether the client should receive a message for symbol.
// Clients that never subscribed explicitly receive everything.
func (c *hubClient) wants(symbol string) bool {
	if symbol == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[symbol]
}

// MarketHub fans market updates out to dashboard WebSocket clients. Sends
// never block the caller: a client whose buffer is full is dropped and its
// connection closed, so one slow consumer cannot stall the rest.
type MarketHub struct {
	clients    map[*hubClient]bool
	broadcast  chan outboundMessage
	register   chan *hubClient
	unregister chan *hubClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	// onConnect supplies the snapshot pushed to every new client
	onConnect func() HubMessage
}

// NewMarketHub creates the hub. Start must be called before use.
func NewMarketHub() *MarketHub {
	return &MarketHub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan outboundMessage, BroadcastQueueSize),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetConnectHandler installs the snapshot provider for new connections
func (h *MarketHub) SetConnectHandler(fn func() HubMessage) {
	h.onConnect = fn
}

// Start runs the hub loop in a goroutine
func (h *MarketHub) Start() {
	go h.run()
	log.Println("Market hub started")
}

// Shutdown closes every client connection and stops the hub loop
func (h *MarketHub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*hubClient]bool)
	h.mu.Unlock()

	log.Println("Market hub shutdown complete")
}

func (h *MarketHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxHubClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("Dashboard client rejected: max clients reached (%d)", MaxHubClients)
				continue
			}
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Dashboard client %s connected. Total clients: %d", client.id, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Dashboard client %s disconnected. Total clients: %d", client.id, clientCount)

		case message := <-h.broadcast:
			h.mu.Lock()
			deadClients := make([]*hubClient, 0)
			for client := range h.clients {
				if !client.wants(message.symbol) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Buffer full: drop the client rather than block
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(h.clients, client)
				close(client.send)
				client.conn.Close()
				log.Printf("Dashboard client %s dropped: send buffer full", client.id)
			}
			h.mu.Unlock()
		}
	}
}

// PublishUpdate fans one state mutation out to interested clients
func (h *MarketHub) PublishUpdate(update StateUpdate, provenance Provenance) {
	h.publish(update.Symbol, HubMessage{
		Type: MsgPriceUpdate,
		Data: priceUpdatePayload{
			Ticker:     update.Symbol,
			Price:      update.Price,
			Provenance: provenance,
			Prices:     update.Prices,
			Stats:      update.Stats,
		},
		Time: time.Now().Format(time.RFC3339),
	})
}

// PublishStats fans the full price and stats snapshots out to every client.
// Stats frames are never symbol-scoped: a client narrowed to one symbol still
// sees the rest of the market move, only its per-symbol stream is filtered.
func (h *MarketHub) PublishStats(prices map[string]float64, stats map[string]DailyStats) {
	h.publish("", HubMessage{
		Type: MsgStatsUpdate,
		Data: map[string]interface{}{
			"prices": prices,
			"stats":  stats,
		},
		Time: time.Now().Format(time.RFC3339),
	})
}

// PublishAlert fans a fired alert out to all clients
func (h *MarketHub) PublishAlert(t TriggeredAlert) {
	h.publish("", HubMessage{
		Type: MsgAlertTriggered,
		Data: t,
		Time: time.Now().Format(time.RFC3339),
	})
}

// PublishConnectionStatus tells clients whether the upstream feed is live
func (h *MarketHub) PublishConnectionStatus(connected bool) {
	h.publish("", HubMessage{
		Type: MsgConnectionStatus,
		Data: map[string]bool{"connected": connected},
		Time: time.Now().Format(time.RFC3339),
	})
}

// publish enqueues a message without ever blocking the caller
func (h *MarketHub) publish(symbol string, msg HubMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling hub message: %v", err)
		return
	}

	select {
	case h.broadcast <- outboundMessage{symbol: symbol, payload: payload}:
	default:
		log.Printf("Hub broadcast queue full, dropping %s message", msg.Type)
	}
}

// ClientCount returns the number of connected dashboard clients
func (h *MarketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request into a dashboard connection
func (h *MarketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxHubClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &hubClient{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, ClientSendBuffer),
		subscribed: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
		return
	}

	// Push the current market snapshot so the client renders immediately
	if h.onConnect != nil {
		if payload, err := json.Marshal(h.onConnect()); err == nil {
			select {
			case client.send <- payload:
			default:
			}
		}
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(HubPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(HubWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(HubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) readPump(h *MarketHub) {
	defer func() {
		// After Shutdown nobody drains unregister anymore
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(HubPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(HubPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Dashboard client read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Tickers []string `json:"tickers"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, ticker := range cmd.Tickers {
				c.subscribed[ticker] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, ticker := range cmd.Tickers {
				delete(c.subscribed, ticker)
			}
			c.mu.Unlock()
		}
	}
}
