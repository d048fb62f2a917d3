// Package ws streams engine events to dashboard clients over WebSocket.
// The hub is a fan-out: the engine publishes each event once and every
// connected client subscribed to that event type receives a copy. Slow
// clients are dropped-from, never blocked-on.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming subscription messages.
	maxMessageSize = 1024

	// sendBufferSize is the per-client outgoing message buffer.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware in front.
		return true
	},
}

// client is a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[domain.EventType]bool // empty set means all types
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to narrow its event feed.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Types  []string `json:"types"`
}

// Hub manages connected clients and fans engine events out to them. It
// implements domain.Notifier so it can sit alongside the operator channels
// in a notifier fan-out.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates a hub reporting the given run mode in its connect greeting.
func NewHub(mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Notify serializes the event and queues it for broadcast. It never blocks:
// when the broadcast buffer is full the event is dropped for the dashboard
// (it still reached storage and the operator channels).
func (h *Hub) Notify(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast buffer full, dropping event",
			slog.String("type", string(ev.Type)))
	}
	return nil
}

// Run drives the hub loop until ctx is cancelled. Call it in a goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case data := <-h.broadcast:
			var ev struct {
				Type domain.EventType `json:"type"`
			}
			_ = json.Unmarshal(data, &ev)

			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev.Type) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[domain.EventType]bool),
	}

	h.register <- c
	c.sendGreeting()

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump consumes subscription messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && len(sub.Types) > 0 {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.subs[domain.EventType(t)] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.subs, domain.EventType(t))
		}
	}
}

// wants reports whether the client should receive events of the given type.
// A client with no explicit subscriptions receives everything.
func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[t]
}

// sendGreeting pushes a status envelope so clients can mark the connection
// healthy before any engine events flow.
func (c *client) sendGreeting() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pushes queued events and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
