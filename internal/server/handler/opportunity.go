package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// defaultOpportunityTTL bounds how long a manually submitted opportunity
// stays admissible.
const defaultOpportunityTTL = 30 * time.Second

// OpportunitySubmitter enqueues an opportunity for admission.
type OpportunitySubmitter interface {
	Submit(opp domain.Opportunity) error
}

// OpportunityHandler serves opportunity history and manual submission.
type OpportunityHandler struct {
	store     domain.OpportunityStore
	submitter OpportunitySubmitter
	logger    *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. submitter may be nil
// in monitor mode; submissions then return 503.
func NewOpportunityHandler(store domain.OpportunityStore, submitter OpportunitySubmitter, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		store:     store,
		submitter: submitter,
		logger:    logger.With(slog.String("handler", "opportunities")),
	}
}

// ListRecent returns recently detected opportunities, newest first.
// GET /api/opportunities/recent
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.store.ListRecent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps, "count": len(opps)})
}

// submitRequest is the body of a manual opportunity submission.
type submitRequest struct {
	Pair          string  `json:"pair"`
	BuyVenue      string  `json:"buy_venue"`
	SellVenue     string  `json:"sell_venue"`
	BuyPrice      float64 `json:"buy_price"`
	SellPrice     float64 `json:"sell_price"`
	Size          float64 `json:"size"`
	BuyLiquidity  float64 `json:"buy_liquidity"`
	SellLiquidity float64 `json:"sell_liquidity"`
	Network       string  `json:"network"`
	TTLSeconds    int     `json:"ttl_seconds"`
}

func (req submitRequest) validate() (domain.TokenPair, error) {
	pair, err := domain.ParsePair(req.Pair)
	if err != nil {
		return domain.TokenPair{}, errors.New("pair must be BASE/QUOTE")
	}
	switch {
	case req.BuyVenue == "" || req.SellVenue == "":
		return domain.TokenPair{}, errors.New("buy_venue and sell_venue are required")
	case req.BuyVenue == req.SellVenue:
		return domain.TokenPair{}, errors.New("buy and sell venue must differ")
	case req.BuyPrice <= 0 || req.SellPrice <= 0:
		return domain.TokenPair{}, errors.New("prices must be positive")
	case req.SellPrice <= req.BuyPrice:
		return domain.TokenPair{}, errors.New("sell_price must exceed buy_price")
	case req.Size <= 0:
		return domain.TokenPair{}, errors.New("size must be positive")
	}
	return pair, nil
}

// SubmitOpportunity enqueues a manually constructed opportunity. Admission
// still runs through the normal pipeline (dedup, risk gate, ranking).
// POST /api/opportunities
func (h *OpportunityHandler) SubmitOpportunity(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "trading engine not running")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pair, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := defaultOpportunityTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	now := time.Now().UTC()

	opp := domain.Opportunity{
		ID:            uuid.NewString(),
		Pair:          pair,
		BuyVenue:      req.BuyVenue,
		SellVenue:     req.SellVenue,
		BuyPrice:      req.BuyPrice,
		SellPrice:     req.SellPrice,
		SpreadPercent: (req.SellPrice - req.BuyPrice) / req.BuyPrice * 100,
		Size:          req.Size,
		BuyLiquidity:  req.BuyLiquidity,
		SellLiquidity: req.SellLiquidity,
		Network:       req.Network,
		DetectedAt:    now,
		ExpiresAt:     now.Add(ttl),
	}

	if err := h.submitter.Submit(opp); err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "opportunity queue full")
			return
		}
		h.logger.ErrorContext(r.Context(), "submit opportunity", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit opportunity")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": opp.ID, "status": "queued"})
}
