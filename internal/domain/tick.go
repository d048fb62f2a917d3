package domain

import (
	"fmt"
	"strings"
	"time"
)

// TokenPair identifies a traded pair, e.g. ETH/USDC.
type TokenPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair parses "BASE/QUOTE" into a TokenPair.
func ParsePair(s string) (TokenPair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TokenPair{}, fmt.Errorf("domain: invalid pair %q", s)
	}
	return TokenPair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// String returns the canonical "BASE/QUOTE" form.
func (p TokenPair) String() string {
	return p.Base + "/" + p.Quote
}

// Valid reports whether both legs of the pair are set.
func (p TokenPair) Valid() bool {
	return p.Base != "" && p.Quote != "" && p.Base != p.Quote
}

// SharesToken reports whether the two pairs have a token in common.
func (p TokenPair) SharesToken(other TokenPair) bool {
	return p.Base == other.Base || p.Base == other.Quote ||
		p.Quote == other.Base || p.Quote == other.Quote
}

// PriceTick is one normalized price observation from a venue. The feed is
// at-least-once and unordered within a window; consumers re-derive state from
// the latest tick per (exchange, pair) rather than trusting arrival order.
type PriceTick struct {
	Exchange  string
	Pair      TokenPair
	Price     float64
	Liquidity float64
	Volume24h float64
	Timestamp time.Time
}

// Stale reports whether the tick is older than maxAge at the given instant.
func (t PriceTick) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(t.Timestamp) > maxAge
}
