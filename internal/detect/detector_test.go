package detect

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

func newTestDetector() *Detector {
	return NewDetector(Config{
		MinProfitPercent: 0.5,
		TradeSize:        1.0,
		TTL:              5 * time.Minute,
		MaxTickAge:       30 * time.Second,
		Network:          "ethereum",
	}, slog.Default())
}

func tick(venue string, price float64, ts time.Time) domain.PriceTick {
	return domain.PriceTick{
		Exchange:  venue,
		Pair:      domain.TokenPair{Base: "ETH", Quote: "USDC"},
		Price:     price,
		Liquidity: 5_000_000,
		Timestamp: ts,
	}
}

func TestScanDetectsSpreadAboveThreshold(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	// 2000.00 on A, 2012.00 on B: spread 0.6% clears the 0.5% threshold.
	opps := d.Scan([]domain.PriceTick{
		tick("uniswap", 2000.00, now),
		tick("sushiswap", 2012.00, now),
	}, now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "uniswap", opp.BuyVenue)
	assert.Equal(t, "sushiswap", opp.SellVenue)
	assert.InDelta(t, 0.6, opp.SpreadPercent, 1e-9)
	assert.Equal(t, "ETH/USDC", opp.Pair.String())
	assert.Equal(t, now.Add(5*time.Minute), opp.ExpiresAt)
}

func TestScanDiscardsThinSpread(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	// 0.1% spread stays below the 0.5% threshold.
	opps := d.Scan([]domain.PriceTick{
		tick("uniswap", 2000.00, now),
		tick("sushiswap", 2002.00, now),
	}, now)

	assert.Empty(t, opps)
}

func TestScanIgnoresStaleTicks(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	opps := d.Scan([]domain.PriceTick{
		tick("uniswap", 2000.00, now.Add(-time.Minute)),
		tick("sushiswap", 2012.00, now),
	}, now)

	assert.Empty(t, opps)
}

func TestScanKeepsFreshestTickPerVenue(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	// The older uniswap tick would have produced a wider spread; the fresher
	// one wins and the spread falls below threshold.
	opps := d.Scan([]domain.PriceTick{
		tick("uniswap", 1990.00, now.Add(-5*time.Second)),
		tick("uniswap", 2010.00, now),
		tick("sushiswap", 2012.00, now),
	}, now)

	assert.Empty(t, opps)
}

func TestScanRequiresTwoVenues(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	opps := d.Scan([]domain.PriceTick{tick("uniswap", 2000.00, now)}, now)
	assert.Empty(t, opps)
}

func TestSizeCappedByLiquidity(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	a := tick("uniswap", 2000.00, now)
	a.Liquidity = 100_000 // 1% of 100k = $1,000 → 0.5 ETH at $2,000
	b := tick("sushiswap", 2020.00, now)

	opps := d.Scan([]domain.PriceTick{a, b}, now)
	require.Len(t, opps, 1)
	assert.InDelta(t, 0.5, opps[0].Size, 1e-9)
}
