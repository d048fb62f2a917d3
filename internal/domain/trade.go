package domain

import "time"

// TradeStatus is the lifecycle state of a two-leg trade.
type TradeStatus string

const (
	TradeStatusPending              TradeStatus = "pending"
	TradeStatusBuying               TradeStatus = "buying"
	TradeStatusBought               TradeStatus = "bought"
	TradeStatusSelling              TradeStatus = "selling"
	TradeStatusCompleted            TradeStatus = "completed"
	TradeStatusFailedBuy            TradeStatus = "failed_buy"
	TradeStatusFailedSellUnresolved TradeStatus = "failed_sell_unresolved"
	TradeStatusCancelled            TradeStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusCompleted, TradeStatusFailedBuy, TradeStatusFailedSellUnresolved, TradeStatusCancelled:
		return true
	default:
		return false
	}
}

// Trade is created when an Opportunity is admitted. It is owned exclusively by
// its coordinator while executing and handed to storage as a read-only record
// once a terminal status is reached.
//
// A trade never reaches completed without both legs confirmed, and a trade in
// failed_sell_unresolved always retains BuyTx so the held inventory stays
// traceable.
type Trade struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	Pair          TokenPair `json:"pair"`
	BuyVenue      string    `json:"buy_venue"`
	SellVenue     string    `json:"sell_venue"`
	Network       string    `json:"network"`
	Size          float64   `json:"size"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`

	BuyTx  *PendingTransaction `json:"buy_tx,omitempty"`
	SellTx *PendingTransaction `json:"sell_tx,omitempty"`

	Status         TradeStatus `json:"status"`
	ExpectedProfit float64     `json:"expected_profit"`
	RealizedProfit *float64    `json:"realized_profit,omitempty"`
	RiskScore      float64     `json:"risk_score"`
	ErrorDetail    string      `json:"error_detail,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	BuySubmittedAt  *time.Time `json:"buy_submitted_at,omitempty"`
	BuyConfirmedAt  *time.Time `json:"buy_confirmed_at,omitempty"`
	SellSubmittedAt *time.Time `json:"sell_submitted_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// UnresolvedPosition describes the inventory held by a trade whose buy leg
// confirmed but whose sell leg failed. It is what an operator needs to close
// the position out manually.
type UnresolvedPosition struct {
	TradeID   string  `json:"trade_id"`
	Token     string  `json:"token"`
	Amount    float64 `json:"amount"`
	BuyVenue  string  `json:"buy_venue"`
	SellVenue string  `json:"sell_venue"`
	BuyTxHash string  `json:"buy_tx_hash"`
}

// Unresolved returns the open position for a failed_sell_unresolved trade, or
// false for any other status.
func (t Trade) Unresolved() (UnresolvedPosition, bool) {
	if t.Status != TradeStatusFailedSellUnresolved || t.BuyTx == nil {
		return UnresolvedPosition{}, false
	}
	return UnresolvedPosition{
		TradeID:   t.ID,
		Token:     t.Pair.Base,
		Amount:    t.Size,
		BuyVenue:  t.BuyVenue,
		SellVenue: t.SellVenue,
		BuyTxHash: t.BuyTx.Hash,
	}, true
}
