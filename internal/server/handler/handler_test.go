package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

type fakeTradeStore struct {
	domain.TradeStore
	trades map[string]domain.Trade
}

func (s *fakeTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *fakeTradeStore) ListRecent(_ context.Context, _ domain.ListOpts) ([]domain.Trade, error) {
	out := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeTradeStore) ListUnresolved(_ context.Context) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Status == domain.TradeStatusFailedSellUnresolved {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeCanceller struct {
	err    error
	called []string
}

func (c *fakeCanceller) Cancel(_ context.Context, id string) error {
	c.called = append(c.called, id)
	return c.err
}

type fakeSubmitter struct {
	err  error
	opps []domain.Opportunity
}

func (s *fakeSubmitter) Submit(opp domain.Opportunity) error {
	if s.err != nil {
		return s.err
	}
	s.opps = append(s.opps, opp)
	return nil
}

func handlerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unresolvedTrade(id string) domain.Trade {
	return domain.Trade{
		ID:       id,
		Pair:     domain.TokenPair{Base: "ETH", Quote: "USDC"},
		Size:     0.5,
		BuyVenue: "uniswap_v3", SellVenue: "sushiswap",
		Status: domain.TradeStatusFailedSellUnresolved,
		BuyTx:  &domain.PendingTransaction{Hash: "0xbuy", Status: domain.TxStatusConfirmed},
	}
}

func mux(h *TradeHandler) *http.ServeMux {
	m := http.NewServeMux()
	m.HandleFunc("GET /api/trades", h.ListTrades)
	m.HandleFunc("GET /api/trades/unresolved", h.ListUnresolved)
	m.HandleFunc("GET /api/trades/{id}", h.GetTrade)
	m.HandleFunc("POST /api/trades/{id}/cancel", h.CancelTrade)
	return m
}

func TestGetTrade(t *testing.T) {
	store := &fakeTradeStore{trades: map[string]domain.Trade{
		"t1": {ID: "t1", Status: domain.TradeStatusCompleted},
	}}
	h := NewTradeHandler(store, nil, handlerTestLogger())

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/t1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, domain.TradeStatusCompleted, got.Status)
}

func TestGetTradeNotFound(t *testing.T) {
	h := NewTradeHandler(&fakeTradeStore{trades: map[string]domain.Trade{}}, nil, handlerTestLogger())

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUnresolvedIncludesPosition(t *testing.T) {
	store := &fakeTradeStore{trades: map[string]domain.Trade{
		"u1": unresolvedTrade("u1"),
		"c1": {ID: "c1", Status: domain.TradeStatusCompleted},
	}}
	h := NewTradeHandler(store, nil, handlerTestLogger())

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/unresolved", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Unresolved []struct {
			Trade    domain.Trade              `json:"trade"`
			Position domain.UnresolvedPosition `json:"position"`
		} `json:"unresolved"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "u1", body.Unresolved[0].Trade.ID)
	assert.Equal(t, "0xbuy", body.Unresolved[0].Position.BuyTxHash)
	assert.Equal(t, "ETH", body.Unresolved[0].Position.Token)
}

func TestCancelTradeStatuses(t *testing.T) {
	cases := []struct {
		name       string
		cancelErr  error
		wantStatus int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"too late", domain.ErrCancelTooLate, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			canceller := &fakeCanceller{err: tc.cancelErr}
			h := NewTradeHandler(&fakeTradeStore{}, canceller, handlerTestLogger())

			rec := httptest.NewRecorder()
			mux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades/t1/cancel", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, []string{"t1"}, canceller.called)
		})
	}
}

func TestCancelTradeWithoutEngine(t *testing.T) {
	h := NewTradeHandler(&fakeTradeStore{}, nil, handlerTestLogger())

	rec := httptest.NewRecorder()
	mux(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades/t1/cancel", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitOpportunity(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewOpportunityHandler(nil, sub, handlerTestLogger())

	body, _ := json.Marshal(map[string]any{
		"pair":       "eth/usdc",
		"buy_venue":  "uniswap_v3",
		"sell_venue": "sushiswap",
		"buy_price":  2000.0,
		"sell_price": 2016.0,
		"size":       0.5,
		"network":    "ethereum",
	})
	rec := httptest.NewRecorder()
	h.SubmitOpportunity(rec, httptest.NewRequest(http.MethodPost, "/api/opportunities", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sub.opps, 1)
	opp := sub.opps[0]
	assert.Equal(t, "ETH/USDC", opp.Pair.String(), "pair is normalized")
	assert.NotEmpty(t, opp.ID)
	assert.InDelta(t, 0.8, opp.SpreadPercent, 1e-9)
	assert.WithinDuration(t, time.Now().Add(defaultOpportunityTTL), opp.ExpiresAt, 2*time.Second)
}

func TestSubmitOpportunityValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad pair", map[string]any{"pair": "ETHUSDC", "buy_venue": "a", "sell_venue": "b", "buy_price": 1.0, "sell_price": 2.0, "size": 1.0}},
		{"same venue", map[string]any{"pair": "ETH/USDC", "buy_venue": "a", "sell_venue": "a", "buy_price": 1.0, "sell_price": 2.0, "size": 1.0}},
		{"inverted prices", map[string]any{"pair": "ETH/USDC", "buy_venue": "a", "sell_venue": "b", "buy_price": 2.0, "sell_price": 1.0, "size": 1.0}},
		{"zero size", map[string]any{"pair": "ETH/USDC", "buy_venue": "a", "sell_venue": "b", "buy_price": 1.0, "sell_price": 2.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			h := NewOpportunityHandler(nil, sub, handlerTestLogger())

			body, _ := json.Marshal(tc.body)
			rec := httptest.NewRecorder()
			h.SubmitOpportunity(rec, httptest.NewRequest(http.MethodPost, "/api/opportunities", bytes.NewReader(body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sub.opps)
		})
	}
}

func TestSubmitOpportunityQueueFull(t *testing.T) {
	sub := &fakeSubmitter{err: domain.ErrQueueFull}
	h := NewOpportunityHandler(nil, sub, handlerTestLogger())

	body, _ := json.Marshal(map[string]any{
		"pair": "ETH/USDC", "buy_venue": "a", "sell_venue": "b",
		"buy_price": 2000.0, "sell_price": 2016.0, "size": 0.5,
	})
	rec := httptest.NewRecorder()
	h.SubmitOpportunity(rec, httptest.NewRequest(http.MethodPost, "/api/opportunities", bytes.NewReader(body)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return io.ErrUnexpectedEOF },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
}
