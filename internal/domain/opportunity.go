package domain

import "time"

// Opportunity is a detected cross-venue price spread. It is immutable once
// detected: the detector creates it from a batch of price ticks and the engine
// consumes it exactly once (admitted or discarded).
type Opportunity struct {
	ID            string    `json:"id"`
	Pair          TokenPair `json:"pair"`
	BuyVenue      string    `json:"buy_venue"`
	SellVenue     string    `json:"sell_venue"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	SpreadPercent float64   `json:"spread_percent"`
	Size          float64   `json:"size"`
	BuyLiquidity  float64   `json:"buy_liquidity"`
	SellLiquidity float64   `json:"sell_liquidity"`
	Network       string    `json:"network"`
	DetectedAt    time.Time `json:"detected_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the opportunity is past its TTL at the given instant.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// ExpectedProfit returns the gross expected profit in quote units, before gas.
func (o Opportunity) ExpectedProfit() float64 {
	return (o.SellPrice - o.BuyPrice) * o.Size
}

// Notional returns the buy-side notional value of the trade.
func (o Opportunity) Notional() float64 {
	return o.BuyPrice * o.Size
}
