package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/detect"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu   sync.Mutex
	opps []domain.Opportunity
	err  error
}

func (s *captureSink) Submit(opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.opps = append(s.opps, opp)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opps)
}

func tick(exchange, pair string, price, liquidity float64) domain.PriceTick {
	p, _ := domain.ParsePair(pair)
	return domain.PriceTick{
		Exchange:  exchange,
		Pair:      p,
		Price:     price,
		Liquidity: liquidity,
		Timestamp: time.Now().UTC(),
	}
}

func newTestScanner(sink OpportunitySink) *Scanner {
	det := detect.NewDetector(detect.Config{
		MinProfitPercent: 0.5,
		TradeSize:        0.5,
		TTL:              time.Minute,
		MaxTickAge:       time.Minute,
		Network:          "ethereum",
	}, testLogger())
	return NewScanner(det, sink, nil, nil, 10*time.Millisecond, testLogger())
}

func TestScannerDetectsAndSubmits(t *testing.T) {
	sink := &captureSink{}
	s := newTestScanner(sink)

	ctx := context.Background()
	s.HandleTick(ctx, tick("uniswap_v3", "ETH/USDC", 2000, 1_000_000))
	s.HandleTick(ctx, tick("sushiswap", "ETH/USDC", 2016, 1_000_000))
	s.Scan(ctx)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "ETH/USDC", sink.opps[0].Pair.String())
}

func TestScannerKeepsFreshestTickPerVenue(t *testing.T) {
	sink := &captureSink{}
	s := newTestScanner(sink)

	ctx := context.Background()
	// The later tick narrows the spread below threshold.
	s.HandleTick(ctx, tick("uniswap_v3", "ETH/USDC", 2000, 1_000_000))
	s.HandleTick(ctx, tick("sushiswap", "ETH/USDC", 2016, 1_000_000))
	s.HandleTick(ctx, tick("sushiswap", "ETH/USDC", 2001, 1_000_000))
	s.Scan(ctx)

	assert.Zero(t, sink.count())
}

func TestScannerQueueFullDropsQuietly(t *testing.T) {
	sink := &captureSink{err: domain.ErrQueueFull}
	s := newTestScanner(sink)

	ctx := context.Background()
	s.HandleTick(ctx, tick("uniswap_v3", "ETH/USDC", 2000, 1_000_000))
	s.HandleTick(ctx, tick("sushiswap", "ETH/USDC", 2016, 1_000_000))
	s.Scan(ctx) // must not panic or retry
}

func TestWSFeedReceivesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotSubscribe sync.WaitGroup
	gotSubscribe.Add(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var cmd subscribeCommand
		require.NoError(t, conn.ReadJSON(&cmd))
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, []string{"ETH/USDC"}, cmd.Pairs)
		gotSubscribe.Done()

		require.NoError(t, conn.WriteJSON(tickMessage{
			Exchange: "uniswap_v3",
			Pair:     "ETH/USDC",
			Price:    2000,
		}))
		require.NoError(t, conn.WriteJSON(tickMessage{
			Exchange: "sushiswap",
			Pair:     "eth/usdc",
			Price:    2012,
		}))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var ticks []domain.PriceTick
	feed := NewWSFeed(
		"ws"+strings.TrimPrefix(srv.URL, "http"),
		[]string{"ETH/USDC"},
		func(_ context.Context, tk domain.PriceTick) {
			mu.Lock()
			ticks = append(ticks, tk)
			mu.Unlock()
		},
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)
	defer feed.Close()

	gotSubscribe.Wait()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ETH/USDC", ticks[1].Pair.String(), "pair casing must normalize")
}

func TestWSFeedNoPairsExitsCleanly(t *testing.T) {
	feed := NewWSFeed("ws://127.0.0.1:1", nil, nil, testLogger())
	require.NoError(t, feed.Run(context.Background()))
}
