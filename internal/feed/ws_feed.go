// Package feed ingests venue price ticks over WebSocket and periodically
// scans the latest book for cross-venue spreads.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every parsed price tick.
type TickHandler func(ctx context.Context, tick domain.PriceTick)

// tickMessage is the wire shape of one price update from the aggregator feed.
type tickMessage struct {
	Exchange  string  `json:"exchange"`
	Pair      string  `json:"pair"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	Volume24h float64 `json:"volume_24h"`
	Timestamp string  `json:"timestamp"`
}

// subscribeCommand asks the feed for updates on a set of pairs.
type subscribeCommand struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

// WSFeed consumes the aggregator's price stream and invokes the handler on
// each tick. It reconnects with exponential backoff on disconnect.
type WSFeed struct {
	wsURL     string
	pairs     []string
	onTick    TickHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed subscribed to the given pairs.
func NewWSFeed(wsURL string, pairs []string, onTick TickHandler, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		pairs:  pairs,
		onTick: onTick,
		logger: logger.With(slog.String("component", "ws_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and consumes ticks until ctx is cancelled or Close is called.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs configured, feed exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Pairs: f.pairs}); err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.Int("pairs", len(f.pairs)))

	// Close the connection when the context ends so ReadMessage unblocks.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-f.done:
			conn.Close()
		case <-readDone:
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-readDone:
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		f.handleMessage(ctx, raw)
	}
}

// handleMessage parses one tick and hands it to the handler. Unparseable
// messages are dropped quietly.
func (f *WSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	pair, err := domain.ParsePair(msg.Pair)
	if err != nil || msg.Exchange == "" || msg.Price <= 0 {
		return
	}

	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}

	if f.onTick != nil {
		f.onTick(ctx, domain.PriceTick{
			Exchange:  msg.Exchange,
			Pair:      pair,
			Price:     msg.Price,
			Liquidity: msg.Liquidity,
			Volume24h: msg.Volume24h,
			Timestamp: ts,
		})
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
