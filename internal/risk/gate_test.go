package risk

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

func newTestGate() *Gate {
	return NewGate(Config{
		DailyLossLimit:        1_000,
		WorstCaseLossFraction: 0.10,
		MaxPositionSize:       10_000,
		CorrelationThreshold:  0.7,
		MinLiquidityRatio:     10,
	}, slog.Default())
}

func testOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:            "opp-1",
		Pair:          domain.TokenPair{Base: "ETH", Quote: "USDC"},
		BuyVenue:      "uniswap",
		SellVenue:     "sushiswap",
		BuyPrice:      2000,
		SellPrice:     2012,
		SpreadPercent: 0.6,
		Size:          1.0,
		BuyLiquidity:  5_000_000,
		SellLiquidity: 5_000_000,
	}
}

func TestEvaluateAccepts(t *testing.T) {
	g := newTestGate()
	a := g.Evaluate(testOpp(), domain.RollingState{})

	assert.True(t, a.Accepted)
	assert.NotEmpty(t, a.Factors)
	assert.Less(t, a.Score, severityHigh)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	g := newTestGate()
	opp := testOpp()
	state := domain.RollingState{
		DailyRealizedLoss: 200,
		OpenPositions: []domain.OpenPosition{
			{Pair: domain.TokenPair{Base: "WBTC", Quote: "USDT"}, Notional: 500},
		},
	}

	first := g.Evaluate(opp, state)
	second := g.Evaluate(opp, state)

	assert.Equal(t, first.Accepted, second.Accepted)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Severity, second.Severity)
}

func TestEvaluateDailyLossCeiling(t *testing.T) {
	g := newTestGate()
	a := g.Evaluate(testOpp(), domain.RollingState{DailyRealizedLoss: 950})

	// Worst case 10% of 2000 notional = 200, breaching the 1000 limit.
	require.False(t, a.Accepted)
	assert.Equal(t, domain.RiskSeverityCritical, a.Severity)
	last := a.Factors[len(a.Factors)-1]
	assert.Equal(t, "daily_loss_ceiling", last.Name)
	assert.True(t, last.Hard)
}

func TestEvaluateMaxPositionSize(t *testing.T) {
	// Loss ceiling high enough that the 2,000 worst case passes check 1
	// and the position-size check is the one that trips.
	g := NewGate(Config{
		DailyLossLimit:        5_000,
		WorstCaseLossFraction: 0.10,
		MaxPositionSize:       10_000,
		CorrelationThreshold:  0.7,
		MinLiquidityRatio:     10,
	}, slog.Default())
	opp := testOpp()
	opp.Size = 10 // 20,000 notional > 10,000 max

	a := g.Evaluate(opp, domain.RollingState{})
	require.False(t, a.Accepted)
	assert.Equal(t, "max_position_size", a.Factors[len(a.Factors)-1].Name)
}

func TestEvaluateCorrelation(t *testing.T) {
	g := newTestGate()
	opp := testOpp()

	// Same pair already open: correlation 1.0 >= 0.7 threshold.
	a := g.Evaluate(opp, domain.RollingState{
		OpenPositions: []domain.OpenPosition{{Pair: opp.Pair, Notional: 1000}},
	})
	require.False(t, a.Accepted)
	assert.Equal(t, "pair_correlation", a.Factors[len(a.Factors)-1].Name)

	// Shared token only: 0.5 < 0.7, passes.
	a = g.Evaluate(opp, domain.RollingState{
		OpenPositions: []domain.OpenPosition{
			{Pair: domain.TokenPair{Base: "ETH", Quote: "USDT"}, Notional: 1000},
		},
	})
	assert.True(t, a.Accepted)
}

func TestEvaluateLiquidityFloor(t *testing.T) {
	g := newTestGate()
	opp := testOpp()
	opp.SellLiquidity = 1_000 // below 10 x 2000 notional

	a := g.Evaluate(opp, domain.RollingState{})
	require.False(t, a.Accepted)
	assert.Equal(t, "venue_liquidity", a.Factors[len(a.Factors)-1].Name)
}

func TestCompositeWeights(t *testing.T) {
	factors := []domain.RiskFactor{
		{Category: "market", Severity: 1.0},
		{Category: "liquidity", Severity: 1.0},
		{Category: "execution", Severity: 1.0},
		{Category: "other", Severity: 1.0},
	}
	assert.InDelta(t, 1.0, compositeScore(factors), 1e-9)

	factors = []domain.RiskFactor{{Category: "market", Severity: 1.0}}
	assert.InDelta(t, 0.30, compositeScore(factors), 1e-9)
}

func TestTrackerDailyRollover(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.RecordLoss(400)
	assert.Equal(t, 400.0, tr.Snapshot().DailyRealizedLoss)

	// Next UTC day: accumulator resets.
	tr.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.Equal(t, 0.0, tr.Snapshot().DailyRealizedLoss)
}

func TestTrackerPositions(t *testing.T) {
	tr := NewTracker()
	pair := domain.TokenPair{Base: "ETH", Quote: "USDC"}

	tr.OpenPosition("t1", pair, 2000)
	snap := tr.Snapshot()
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, pair, snap.OpenPositions[0].Pair)

	tr.ClosePosition("t1", -50)
	snap = tr.Snapshot()
	assert.Empty(t, snap.OpenPositions)
	assert.Equal(t, 50.0, snap.DailyRealizedLoss)

	// Profits do not offset the loss accumulator.
	tr.OpenPosition("t2", pair, 2000)
	tr.ClosePosition("t2", 80)
	assert.Equal(t, 50.0, tr.Snapshot().DailyRealizedLoss)
}
