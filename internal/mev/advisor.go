// Package mev scores the MEV exposure of a prospective two-leg trade and
// derives mitigation directives from the composite level. The assessment is
// an input to gas and timing decisions, not a replacement for them.
package mev

import (
	"log/slog"
	"math"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// VenueProfile describes the static MEV-relevant traits of a venue.
type VenueProfile struct {
	// Popularity in [0,1]: busier venues attract more searchers.
	Popularity float64
	// AMM venues expose swaps to sandwiching; orderbook venues less so.
	AMM bool
	// TypicalSlippageBps is the venue's usual execution slippage.
	TypicalSlippageBps float64
}

// TokenProfile describes the MEV-relevant traits of a base token.
type TokenProfile struct {
	// Volatility in [0,1].
	Volatility float64
	// LendingAdjacent marks tokens heavily used as lending collateral,
	// where liquidation bots compete in the same blockspace.
	LendingAdjacent bool
}

// CongestionFunc reports current network congestion in [0,1].
type CongestionFunc func(network string) float64

// Config configures the advisor.
type Config struct {
	// MediumThreshold and HighThreshold bucket the averaged score.
	MediumThreshold float64
	HighThreshold   float64
	Venues          map[string]VenueProfile
	Tokens          map[string]TokenProfile
	// BlockTimeMs per network; slower blocks widen the timing window.
	BlockTimeMs map[string]int64
}

// Advisor computes composite MEV exposure. It is stateless per call aside
// from reads of the injected congestion source.
type Advisor struct {
	cfg        Config
	congestion CongestionFunc
	logger     *slog.Logger
}

// NewAdvisor creates an Advisor. congestion may be nil, in which case a
// neutral 0.5 estimate is used.
func NewAdvisor(cfg Config, congestion CongestionFunc, logger *slog.Logger) *Advisor {
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = 0.33
	}
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = 0.66
	}
	if congestion == nil {
		congestion = func(string) float64 { return 0.5 }
	}
	return &Advisor{
		cfg:        cfg,
		congestion: congestion,
		logger:     logger.With(slog.String("component", "mev_advisor")),
	}
}

// Assess scores the opportunity's MEV exposure as the average of four
// independent sub-scores (frontrunning, sandwich, timing, liquidation
// adjacency) and maps the level to mitigation directives:
//
//	high   -> private submission + bundling + timing jitter
//	medium -> gas premium + slippage tightening
//	low    -> none
func (a *Advisor) Assess(opp domain.Opportunity) domain.MevAssessment {
	buyVenue := a.cfg.Venues[opp.BuyVenue]
	sellVenue := a.cfg.Venues[opp.SellVenue]
	token := a.cfg.Tokens[opp.Pair.Base]

	front := a.frontrunningScore(opp, buyVenue, sellVenue)
	sandwich := a.sandwichScore(opp, buyVenue, sellVenue)
	timing := a.timingScore(opp, token)
	liquidation := a.liquidationScore(token)

	score := (front + sandwich + timing + liquidation) / 4

	level := domain.MevLevelLow
	switch {
	case score >= a.cfg.HighThreshold:
		level = domain.MevLevelHigh
	case score >= a.cfg.MediumThreshold:
		level = domain.MevLevelMedium
	}

	assessment := domain.MevAssessment{
		Level:       level,
		Score:       score,
		Mitigations: mitigationsFor(level),
	}

	a.logger.Debug("mev assessed",
		slog.String("pair", opp.Pair.String()),
		slog.Float64("frontrunning", front),
		slog.Float64("sandwich", sandwich),
		slog.Float64("timing", timing),
		slog.Float64("liquidation", liquidation),
		slog.String("level", string(level)),
	)
	return assessment
}

// frontrunningScore weighs opportunity value, congestion, venue popularity,
// and liquidity depth. Valuable trades on busy, popular, thin venues are the
// ones searchers race.
func (a *Advisor) frontrunningScore(opp domain.Opportunity, buy, sell VenueProfile) float64 {
	// Opportunity value saturates around $500 expected profit.
	value := clamp01(opp.ExpectedProfit() / 500)
	congestion := clamp01(a.congestion(opp.Network))
	popularity := math.Max(buy.Popularity, sell.Popularity)

	depth := 0.0
	minLiq := math.Min(opp.BuyLiquidity, opp.SellLiquidity)
	if minLiq > 0 {
		// Thin liquidity relative to notional raises visibility.
		depth = clamp01(opp.Notional() * 100 / minLiq)
	}

	return (value + congestion + popularity + depth) / 4
}

// sandwichScore weighs trade-size-to-liquidity ratio, venue type, and typical
// slippage. AMM swaps with meaningful price impact are sandwich targets.
func (a *Advisor) sandwichScore(opp domain.Opportunity, buy, sell VenueProfile) float64 {
	ratio := 0.0
	minLiq := math.Min(opp.BuyLiquidity, opp.SellLiquidity)
	if minLiq > 0 {
		ratio = clamp01(opp.Notional() * 200 / minLiq)
	}

	venueType := 0.2
	if buy.AMM || sell.AMM {
		venueType = 0.8
	}

	slippage := clamp01(math.Max(buy.TypicalSlippageBps, sell.TypicalSlippageBps) / 100)

	return (ratio + venueType + slippage) / 3
}

// timingScore weighs token volatility against block time: volatile tokens on
// slow networks leave a wide reordering window.
func (a *Advisor) timingScore(opp domain.Opportunity, token TokenProfile) float64 {
	blockMs := a.cfg.BlockTimeMs[opp.Network]
	if blockMs == 0 {
		blockMs = 12_000
	}
	// 12s blocks map to 0.5; faster chains shrink the window.
	window := clamp01(float64(blockMs) / 24_000)
	return (clamp01(token.Volatility) + window) / 2
}

// liquidationScore marks tokens adjacent to lending/leverage flows.
func (a *Advisor) liquidationScore(token TokenProfile) float64 {
	if token.LendingAdjacent {
		return 0.7
	}
	return 0.1
}

func mitigationsFor(level domain.MevLevel) []domain.Mitigation {
	switch level {
	case domain.MevLevelHigh:
		return []domain.Mitigation{
			domain.MitigationPrivateSubmission,
			domain.MitigationBundling,
			domain.MitigationTimingJitter,
		}
	case domain.MevLevelMedium:
		return []domain.Mitigation{
			domain.MitigationGasPremium,
			domain.MitigationTightenSlippage,
		}
	default:
		return nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
