// Package risk implements the pre-admission risk gate and the rolling state
// it evaluates against. The gate is a pure function of (opportunity, rolling
// state snapshot): re-evaluating the same inputs yields the same decision.
package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Severity weights for the composite score. Categories not represented in a
// factor list contribute zero.
const (
	weightMarket    = 0.30
	weightLiquidity = 0.25
	weightExecution = 0.25
	weightOther     = 0.20
)

// Composite severity bucket boundaries.
const (
	severityMedium   = 0.40
	severityHigh     = 0.65
	severityCritical = 0.85
)

// Config holds the tunable parameters for the gate's checks.
type Config struct {
	// DailyLossLimit is the realized-loss ceiling per UTC day.
	DailyLossLimit float64
	// WorstCaseLossFraction estimates a trade's worst-case loss as this
	// fraction of its notional.
	WorstCaseLossFraction float64
	// MaxPositionSize caps a single trade's notional.
	MaxPositionSize float64
	// CorrelationThreshold rejects pairs too correlated with open positions.
	CorrelationThreshold float64
	// MinLiquidityRatio is the floor on venue liquidity relative to trade
	// notional.
	MinLiquidityRatio float64
}

// Gate evaluates opportunities against configured limits and rolling state.
type Gate struct {
	cfg    Config
	logger *slog.Logger
}

// NewGate creates a Gate.
func NewGate(cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Evaluate runs the ordered checks against the opportunity and state
// snapshot, short-circuiting on the first hard violation. Checks that pass
// still contribute a severity score; a weighted composite of high or critical
// severity rejects even when no single hard check fails.
//
// Order: (1) daily loss ceiling, (2) position size, (3) pair correlation,
// (4) venue liquidity floor.
func (g *Gate) Evaluate(opp domain.Opportunity, state domain.RollingState) domain.RiskAssessment {
	a := domain.RiskAssessment{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		CreatedAt:     time.Now().UTC(),
	}

	notional := opp.Notional()

	// Check 1: daily realized-loss ceiling.
	worstCase := notional * g.cfg.WorstCaseLossFraction
	if state.DailyRealizedLoss >= g.cfg.DailyLossLimit ||
		state.DailyRealizedLoss+worstCase > g.cfg.DailyLossLimit {
		return g.reject(a, domain.RiskFactor{
			Name:     "daily_loss_ceiling",
			Category: "other",
			Severity: 1.0,
			Hard:     true,
			Detail: fmt.Sprintf("realized %.2f + worst case %.2f breaches limit %.2f",
				state.DailyRealizedLoss, worstCase, g.cfg.DailyLossLimit),
		})
	}
	lossHeadroom := 0.0
	if g.cfg.DailyLossLimit > 0 {
		lossHeadroom = (state.DailyRealizedLoss + worstCase) / g.cfg.DailyLossLimit
	}
	a.Factors = append(a.Factors, domain.RiskFactor{
		Name:     "daily_loss_headroom",
		Category: "other",
		Severity: clamp01(lossHeadroom),
	})

	// Check 2: trade size within the max position size.
	if notional > g.cfg.MaxPositionSize {
		return g.reject(a, domain.RiskFactor{
			Name:     "max_position_size",
			Category: "market",
			Severity: 1.0,
			Hard:     true,
			Detail:   fmt.Sprintf("notional %.2f exceeds max %.2f", notional, g.cfg.MaxPositionSize),
		})
	}
	sizeRatio := 0.0
	if g.cfg.MaxPositionSize > 0 {
		sizeRatio = notional / g.cfg.MaxPositionSize
	}
	a.Factors = append(a.Factors, domain.RiskFactor{
		Name:     "position_size",
		Category: "market",
		Severity: clamp01(sizeRatio),
	})

	// Check 3: pair correlation with open positions.
	correlation := maxCorrelation(opp.Pair, state.OpenPositions)
	if correlation >= g.cfg.CorrelationThreshold {
		return g.reject(a, domain.RiskFactor{
			Name:     "pair_correlation",
			Category: "market",
			Severity: 1.0,
			Hard:     true,
			Detail: fmt.Sprintf("correlation %.2f with open positions >= threshold %.2f",
				correlation, g.cfg.CorrelationThreshold),
		})
	}
	a.Factors = append(a.Factors, domain.RiskFactor{
		Name:     "pair_correlation",
		Category: "market",
		Severity: clamp01(correlation),
	})

	// Check 4: minimum liquidity on both venues relative to trade size.
	minLiq := opp.BuyLiquidity
	if opp.SellLiquidity < minLiq {
		minLiq = opp.SellLiquidity
	}
	required := notional * g.cfg.MinLiquidityRatio
	if minLiq < required {
		return g.reject(a, domain.RiskFactor{
			Name:     "venue_liquidity",
			Category: "liquidity",
			Severity: 1.0,
			Hard:     true,
			Detail:   fmt.Sprintf("liquidity %.2f below required %.2f", minLiq, required),
		})
	}
	liqSeverity := 0.0
	if minLiq > 0 {
		liqSeverity = required / minLiq
	}
	a.Factors = append(a.Factors, domain.RiskFactor{
		Name:     "venue_liquidity",
		Category: "liquidity",
		Severity: clamp01(liqSeverity),
	})

	// Execution-cost pressure: thinner spreads leave less room for gas and
	// slippage.
	execSeverity := 0.0
	if opp.SpreadPercent > 0 {
		execSeverity = clamp01(0.5 / opp.SpreadPercent * 0.5)
	}
	a.Factors = append(a.Factors, domain.RiskFactor{
		Name:     "execution_cost_pressure",
		Category: "execution",
		Severity: execSeverity,
	})

	a.Score = compositeScore(a.Factors)
	a.Severity = bucket(a.Score)
	a.Accepted = a.Severity != domain.RiskSeverityHigh && a.Severity != domain.RiskSeverityCritical

	if !a.Accepted {
		g.logger.Warn("opportunity rejected on composite severity",
			slog.String("opp_id", opp.ID),
			slog.Float64("score", a.Score),
			slog.String("severity", string(a.Severity)),
		)
	}
	return a
}

// reject finalizes an assessment on a hard violation.
func (g *Gate) reject(a domain.RiskAssessment, hard domain.RiskFactor) domain.RiskAssessment {
	a.Factors = append(a.Factors, hard)
	a.Score = 1.0
	a.Severity = domain.RiskSeverityCritical
	a.Accepted = false
	g.logger.Warn("opportunity rejected on hard check",
		slog.String("opp_id", a.OpportunityID),
		slog.String("check", hard.Name),
		slog.String("detail", hard.Detail),
	)
	return a
}

// compositeScore combines per-category worst severities with the documented
// weights (market 0.3, liquidity 0.25, execution 0.25, other 0.2).
func compositeScore(factors []domain.RiskFactor) float64 {
	worst := map[string]float64{}
	for _, f := range factors {
		if f.Severity > worst[f.Category] {
			worst[f.Category] = f.Severity
		}
	}
	return worst["market"]*weightMarket +
		worst["liquidity"]*weightLiquidity +
		worst["execution"]*weightExecution +
		worst["other"]*weightOther
}

func bucket(score float64) domain.RiskSeverity {
	switch {
	case score >= severityCritical:
		return domain.RiskSeverityCritical
	case score >= severityHigh:
		return domain.RiskSeverityHigh
	case score >= severityMedium:
		return domain.RiskSeverityMedium
	default:
		return domain.RiskSeverityLow
	}
}

// maxCorrelation approximates pair-level correlation as token overlap between
// the candidate pair and each open position's pair: identical pair 1.0,
// shared token 0.5, disjoint 0.
func maxCorrelation(pair domain.TokenPair, open []domain.OpenPosition) float64 {
	maxCorr := 0.0
	for _, p := range open {
		corr := 0.0
		switch {
		case p.Pair == pair:
			corr = 1.0
		case p.Pair.SharesToken(pair):
			corr = 0.5
		}
		if corr > maxCorr {
			maxCorr = corr
		}
	}
	return maxCorr
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
