package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/chain"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/gas"
	"github.com/arbiterlabs/dexarbiter/internal/mev"
	"github.com/arbiterlabs/dexarbiter/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sellRevertRPC makes the transaction carrying revertNonce revert on chain.
type sellRevertRPC struct {
	*chain.SimClient
	revertNonce uint64
}

func (r *sellRevertRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if tx.Nonce() == r.revertNonce {
		r.SimClient.RevertNext(1)
	}
	return r.SimClient.SendTransaction(ctx, tx)
}

func testOpportunity(base string, spread float64) domain.Opportunity {
	buy := 2000.0
	now := time.Now().UTC()
	return domain.Opportunity{
		ID:            "opp-" + base,
		Pair:          domain.TokenPair{Base: base, Quote: "USDC"},
		BuyVenue:      "uniswap_v3",
		SellVenue:     "sushiswap",
		BuyPrice:      buy,
		SellPrice:     buy * (1 + spread/100),
		SpreadPercent: spread,
		Size:          0.5,
		BuyLiquidity:  1_000_000,
		SellLiquidity: 1_000_000,
		Network:       "ethereum",
		DetectedAt:    now,
		ExpiresAt:     now.Add(time.Minute),
	}
}

type coordHarness struct {
	sim     *chain.SimClient
	sub     *chain.Submitter
	seq     *chain.NonceSequencer
	gas     *gas.Advisor
	mev     *mev.Advisor
	tracker *risk.Tracker
}

func newCoordHarness(t *testing.T, rpc chain.RPCClient) *coordHarness {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	gasAdvisor := gas.NewAdvisor(gas.Config{
		MaxGasLimit: 500_000,
		Defaults: map[string]gas.NetworkDefaults{
			"ethereum": {GasPriceWei: 20_000_000_000, PriorityFeeWei: 1_500_000_000, CeilingWei: 200_000_000_000},
		},
	}, testLogger())

	return &coordHarness{
		sub: chain.NewSubmitter(rpc, key, big.NewInt(1), chain.SubmitterConfig{
			PollInterval:   5 * time.Millisecond,
			MaxRPCAttempts: 3,
		}, testLogger()),
		seq:     chain.NewNonceSequencer(rpc, testLogger()),
		gas:     gasAdvisor,
		mev:     mev.NewAdvisor(mev.Config{}, gasAdvisor.Congestion, testLogger()),
		tracker: risk.NewTracker(),
	}
}

func testCoordConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ConfirmTimeout:   500 * time.Millisecond,
		MaxCancelRetries: 2,
		MaxJitter:        5 * time.Millisecond,
		SwapGasLimit:     200_000,
	}
}

func newTestCoordinator(h *coordHarness, opp domain.Opportunity) *Coordinator {
	return NewCoordinator(testCoordConfig(), opp, 0.2, h.gas, h.mev, h.seq, h.sub, h.tracker, testLogger())
}

func TestCoordinatorCompletesTwoLegTrade(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	h := newCoordHarness(t, sim)
	opp := testOpportunity("ETH", 0.6)

	final := newTestCoordinator(h, opp).Run(context.Background())

	assert.Equal(t, domain.TradeStatusCompleted, final.Status)
	require.NotNil(t, final.BuyTx)
	require.NotNil(t, final.SellTx)
	assert.Equal(t, domain.TxStatusConfirmed, final.BuyTx.Status)
	assert.Equal(t, domain.TxStatusConfirmed, final.SellTx.Status)
	require.NotNil(t, final.RealizedProfit)
	assert.InDelta(t, opp.ExpectedProfit(), *final.RealizedProfit, 1e-9)
	require.NotNil(t, final.FinishedAt)

	// Both nonces resolved; position closed.
	assert.Zero(t, h.seq.Outstanding(h.sub.Account()))
	assert.Empty(t, h.tracker.Snapshot().OpenPositions)
}

func TestCoordinatorBuyRevertFailsWithoutPosition(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	sim.RevertNext(1)
	h := newCoordHarness(t, sim)

	final := newTestCoordinator(h, testOpportunity("ETH", 0.6)).Run(context.Background())

	assert.Equal(t, domain.TradeStatusFailedBuy, final.Status)
	assert.Nil(t, final.SellTx)
	assert.Empty(t, h.tracker.Snapshot().OpenPositions)
	assert.NotEmpty(t, final.ErrorDetail)

	// Gas burned on the reverted leg counts against the daily loss ceiling.
	assert.Greater(t, h.tracker.Snapshot().DailyRealizedLoss, 0.0)
}

func TestCoordinatorRejectsInsufficientBalance(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	h := newCoordHarness(t, sim)
	sim.SetBalance(h.sub.Account(), big.NewInt(0))

	final := newTestCoordinator(h, testOpportunity("ETH", 0.6)).Run(context.Background())

	assert.Equal(t, domain.TradeStatusCancelled, final.Status)
	assert.Contains(t, final.ErrorDetail, "balance")
	assert.Nil(t, final.BuyTx)
	assert.Zero(t, sim.Accepted(), "nothing may reach the network")
	assert.Zero(t, h.seq.Outstanding(h.sub.Account()))
}

func TestCoordinatorRejectsUnroutableVenue(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	h := newCoordHarness(t, sim)
	cfg := testCoordConfig()
	cfg.Routers = map[string]common.Address{"uniswap_v3": common.HexToAddress("0x1")}

	coord := NewCoordinator(cfg, testOpportunity("ETH", 0.6), 0.2,
		h.gas, h.mev, h.seq, h.sub, h.tracker, testLogger())
	final := coord.Run(context.Background())

	assert.Equal(t, domain.TradeStatusCancelled, final.Status)
	assert.Contains(t, final.ErrorDetail, "sushiswap")
	assert.Zero(t, sim.Accepted())
}

func TestCoordinatorSellRevertLandsUnresolved(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	rpc := &sellRevertRPC{SimClient: sim, revertNonce: 1}
	h := newCoordHarness(t, rpc)
	opp := testOpportunity("ETH", 0.6)

	final := newTestCoordinator(h, opp).Run(context.Background())

	assert.Equal(t, domain.TradeStatusFailedSellUnresolved, final.Status)
	require.NotNil(t, final.BuyTx, "buy tx must stay traceable")
	assert.Equal(t, domain.TxStatusConfirmed, final.BuyTx.Status)
	assert.Nil(t, final.RealizedProfit)

	pos, ok := final.Unresolved()
	require.True(t, ok)
	assert.Equal(t, "ETH", pos.Token)
	assert.Equal(t, final.BuyTx.Hash, pos.BuyTxHash)

	// Held inventory stays open for correlation checks.
	assert.Len(t, h.tracker.Snapshot().OpenPositions, 1)
}

func TestCoordinatorBuyTimeoutReplacedAndFailed(t *testing.T) {
	sim := chain.NewSimClient(time.Hour)
	sim.DropNext(1)
	h := newCoordHarness(t, sim)

	coord := NewCoordinator(CoordinatorConfig{
		ConfirmTimeout:   30 * time.Millisecond,
		MaxCancelRetries: 2,
		SwapGasLimit:     200_000,
	}, testOpportunity("ETH", 0.6), 0.2, h.gas, h.mev, h.seq, h.sub, h.tracker, testLogger())

	final := coord.Run(context.Background())

	assert.Equal(t, domain.TradeStatusFailedBuy, final.Status)
	// Original plus the replacement reached the network.
	assert.Equal(t, 2, sim.Accepted())
}

func TestCoordinatorCancelBeforeBuy(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	h := newCoordHarness(t, sim)
	coord := newTestCoordinator(h, testOpportunity("ETH", 0.6))

	require.NoError(t, coord.RequestCancel(context.Background()))
	final := coord.Run(context.Background())

	assert.Equal(t, domain.TradeStatusCancelled, final.Status)
	assert.Zero(t, sim.Accepted(), "no transaction may reach the network")
	assert.Zero(t, h.seq.Outstanding(h.sub.Account()), "allocated nonce must be returned")
}

func TestCoordinatorCancelAfterBuyConfirmRejected(t *testing.T) {
	sim := chain.NewSimClient(5 * time.Millisecond)
	h := newCoordHarness(t, sim)
	coord := newTestCoordinator(h, testOpportunity("ETH", 0.6))

	var wg sync.WaitGroup
	wg.Add(1)
	var final domain.Trade
	go func() {
		defer wg.Done()
		final = coord.Run(context.Background())
	}()
	wg.Wait()

	err := coord.RequestCancel(context.Background())
	require.ErrorIs(t, err, domain.ErrCancelTooLate)
	assert.Equal(t, domain.TradeStatusCompleted, final.Status)
}

func TestCoordinatorExpiredOpportunityCancelled(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	h := newCoordHarness(t, sim)
	opp := testOpportunity("ETH", 0.6)
	opp.ExpiresAt = time.Now().UTC().Add(-time.Second)

	final := newTestCoordinator(h, opp).Run(context.Background())

	assert.Equal(t, domain.TradeStatusCancelled, final.Status)
	assert.Zero(t, sim.Accepted())
}
