package mev

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

func testConfig() Config {
	return Config{
		Venues: map[string]VenueProfile{
			"uniswap":   {Popularity: 0.9, AMM: true, TypicalSlippageBps: 30},
			"sushiswap": {Popularity: 0.6, AMM: true, TypicalSlippageBps: 40},
			"obdex":     {Popularity: 0.2, AMM: false, TypicalSlippageBps: 5},
		},
		Tokens: map[string]TokenProfile{
			"ETH":  {Volatility: 0.5, LendingAdjacent: true},
			"PEPE": {Volatility: 0.95},
		},
		BlockTimeMs: map[string]int64{"ethereum": 12_000},
	}
}

func opp(buyVenue, sellVenue, base string, size, liquidity float64) domain.Opportunity {
	return domain.Opportunity{
		Pair:          domain.TokenPair{Base: base, Quote: "USDC"},
		BuyVenue:      buyVenue,
		SellVenue:     sellVenue,
		BuyPrice:      2000,
		SellPrice:     2012,
		Size:          size,
		BuyLiquidity:  liquidity,
		SellLiquidity: liquidity,
		Network:       "ethereum",
	}
}

func TestAssessHighExposure(t *testing.T) {
	a := NewAdvisor(testConfig(), func(string) float64 { return 0.95 }, slog.Default())

	// Large trade against thin AMM liquidity on popular venues.
	got := a.Assess(opp("uniswap", "sushiswap", "ETH", 5, 50_000))

	assert.Equal(t, domain.MevLevelHigh, got.Level)
	assert.True(t, got.Has(domain.MitigationPrivateSubmission))
	assert.True(t, got.Has(domain.MitigationBundling))
	assert.True(t, got.Has(domain.MitigationTimingJitter))
}

func TestAssessLowExposure(t *testing.T) {
	a := NewAdvisor(testConfig(), func(string) float64 { return 0.1 }, slog.Default())

	// Tiny trade on a quiet orderbook venue with deep liquidity.
	got := a.Assess(opp("obdex", "obdex2", "PEPE", 0.01, 50_000_000))

	assert.Equal(t, domain.MevLevelLow, got.Level)
	assert.Empty(t, got.Mitigations)
}

func TestAssessMediumMitigations(t *testing.T) {
	got := mitigationsFor(domain.MevLevelMedium)
	assert.Equal(t, []domain.Mitigation{
		domain.MitigationGasPremium,
		domain.MitigationTightenSlippage,
	}, got)
}

func TestScoreIsAverageOfSubScores(t *testing.T) {
	a := NewAdvisor(testConfig(), func(string) float64 { return 0.5 }, slog.Default())
	o := opp("uniswap", "sushiswap", "ETH", 1, 5_000_000)

	buy := a.cfg.Venues[o.BuyVenue]
	sell := a.cfg.Venues[o.SellVenue]
	token := a.cfg.Tokens["ETH"]

	want := (a.frontrunningScore(o, buy, sell) +
		a.sandwichScore(o, buy, sell) +
		a.timingScore(o, token) +
		a.liquidationScore(token)) / 4

	assert.InDelta(t, want, a.Assess(o).Score, 1e-9)
}

func TestNilCongestionDefaultsNeutral(t *testing.T) {
	a := NewAdvisor(testConfig(), nil, slog.Default())
	assert.Equal(t, 0.5, a.congestion("ethereum"))
}
