package gas

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

const gwei = 1_000_000_000

var ethUSDC = domain.TokenPair{Base: "ETH", Quote: "USDC"}

func newTestAdvisor() *Advisor {
	return NewAdvisor(Config{
		WindowSize:  10,
		MaxGasLimit: 1_000_000,
		Defaults: map[string]NetworkDefaults{
			"ethereum": {
				GasPriceWei:    20 * gwei,
				PriorityFeeWei: 2 * gwei,
				CeilingWei:     500 * gwei,
			},
		},
	}, slog.Default())
}

func TestRecommendHighCongestion(t *testing.T) {
	a := newTestAdvisor()
	a.ObservePrice("ethereum", 30*gwei)
	a.SetCongestion("ethereum", 0.9)

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)

	// 1.2x the observed baseline, within the [1.2x, 1.5x] band for 0.9
	// congestion and under the ceiling.
	assert.GreaterOrEqual(t, q.GasPriceWei, uint64(1.2*float64(30*gwei)))
	assert.LessOrEqual(t, q.GasPriceWei, uint64(1.5*float64(30*gwei)))
	assert.LessOrEqual(t, q.GasPriceWei, uint64(500*gwei))
}

func TestRecommendLowCongestionDiscount(t *testing.T) {
	a := newTestAdvisor()
	a.ObservePrice("ethereum", 30*gwei)
	a.SetCongestion("ethereum", 0.1)

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0.9*float64(30*gwei)), q.GasPriceWei)
}

func TestRecommendCeilingClamp(t *testing.T) {
	a := newTestAdvisor()
	a.ObservePrice("ethereum", 600*gwei)
	a.SetCongestion("ethereum", 0.9)

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500*gwei), q.GasPriceWei)
}

func TestRecommendColdWindowUsesDefaults(t *testing.T) {
	a := newTestAdvisor()

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20*gwei), q.GasPriceWei)
	assert.Equal(t, uint64(2*gwei), q.PriorityFeeWei)
}

func TestRecommendNeutralUntilCongestionReported(t *testing.T) {
	a := newTestAdvisor()
	a.ObservePrice("ethereum", 30*gwei)

	// No congestion report yet: the observed price passes through.
	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30*gwei), q.GasPriceWei)

	// An explicit zero is a quiet network and earns the discount.
	a.SetCongestion("ethereum", 0.0)
	q, err = a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(0.9*float64(30*gwei)), q.GasPriceWei)
}

func TestRecommendUnknownNetworkErrors(t *testing.T) {
	a := newTestAdvisor()
	_, err := a.Recommend("base", ethUSDC, 200_000)
	assert.Error(t, err)
}

func TestGasLimitBufferAndCache(t *testing.T) {
	a := newTestAdvisor()

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(210_000), q.GasLimit)

	// A smaller base estimate reuses the cached grant.
	q, err = a.Recommend("ethereum", ethUSDC, 100_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(210_000), q.GasLimit)

	// The configured maximum caps everything.
	q, err = a.Recommend("ethereum", ethUSDC, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), q.GasLimit)
}

func TestMedianWindow(t *testing.T) {
	a := newTestAdvisor()
	for _, p := range []uint64{10 * gwei, 50 * gwei, 30 * gwei} {
		a.ObservePrice("ethereum", p)
	}
	a.SetCongestion("ethereum", 0.5)

	q, err := a.Recommend("ethereum", ethUSDC, 200_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30*gwei), q.GasPriceWei)
}
