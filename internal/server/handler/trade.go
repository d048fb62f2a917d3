package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// TradeCanceller requests cancellation of an in-flight trade.
type TradeCanceller interface {
	Cancel(ctx context.Context, tradeID string) error
}

// TradeHandler serves trade records and cancellation requests.
type TradeHandler struct {
	store     domain.TradeStore
	canceller TradeCanceller
	logger    *slog.Logger
}

// NewTradeHandler creates a TradeHandler. canceller may be nil when the
// engine is not running (monitor mode); cancel requests then return 503.
func NewTradeHandler(store domain.TradeStore, canceller TradeCanceller, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		store:     store,
		canceller: canceller,
		logger:    logger.With(slog.String("handler", "trades")),
	}
}

// ListTrades returns recent trades, newest first.
// GET /api/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

// GetTrade returns a single trade by ID.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trade, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade",
			slog.String("trade_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// ListUnresolved returns trades holding inventory that needs manual closing,
// with the open position details alongside each record.
// GET /api/trades/unresolved
func (h *TradeHandler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.ListUnresolved(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list unresolved", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list unresolved trades")
		return
	}

	type entry struct {
		Trade    domain.Trade              `json:"trade"`
		Position domain.UnresolvedPosition `json:"position"`
	}
	out := make([]entry, 0, len(trades))
	for _, t := range trades {
		pos, ok := t.Unresolved()
		if !ok {
			continue
		}
		out = append(out, entry{Trade: t, Position: pos})
	}
	writeJSON(w, http.StatusOK, map[string]any{"unresolved": out, "count": len(out)})
}

// CancelTrade requests cancellation of an active trade. Cancellation is
// best-effort: a 202 means the request was accepted, not that the trade will
// end cancelled.
// POST /api/trades/{id}/cancel
func (h *TradeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	if h.canceller == nil {
		writeError(w, http.StatusServiceUnavailable, "trading engine not running")
		return
	}

	id := r.PathValue("id")
	err := h.canceller.Cancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"trade_id": id, "status": "cancel_requested"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no active trade with that id")
	case errors.Is(err, domain.ErrCancelTooLate):
		writeError(w, http.StatusConflict, "buy leg already confirmed, trade cannot be cancelled")
	default:
		h.logger.ErrorContext(r.Context(), "cancel trade",
			slog.String("trade_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel trade")
	}
}
