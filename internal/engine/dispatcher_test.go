package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/chain"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/risk"
)

// captureNotifier records every delivered event.
type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) ofType(t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testGate() *risk.Gate {
	return risk.NewGate(risk.Config{
		DailyLossLimit:        5_000,
		WorstCaseLossFraction: 0.10,
		MaxPositionSize:       10_000,
		CorrelationThreshold:  0.9,
		MinLiquidityRatio:     1.0,
	}, testLogger())
}

func newTestDispatcher(t *testing.T, rpc chain.RPCClient, maxConcurrent int64, queueCap int, notifier domain.Notifier) (*Dispatcher, *coordHarness) {
	t.Helper()
	h := newCoordHarness(t, rpc)
	d := NewDispatcher(
		DispatcherConfig{TickInterval: 10 * time.Millisecond, MaxConcurrent: maxConcurrent, QueueCapacity: queueCap},
		testCoordConfig(),
		testGate(), h.tracker, h.gas, h.mev, h.seq, h.sub,
		nil, notifier,
		nil, nil, nil,
		testLogger(),
	)
	return d, h
}

func TestDispatcherCompletesTradeEndToEnd(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	notifier := &captureNotifier{}
	d, _ := newTestDispatcher(t, sim, 4, 16, notifier)

	require.NoError(t, d.Submit(testOpportunity("ETH", 0.6)))
	d.Tick(context.Background())

	require.Eventually(t, func() bool {
		return d.Status().Completed == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventTradeCompleted)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, d.Status().Active)
}

func TestDispatcherConcurrencyCap(t *testing.T) {
	sim := chain.NewSimClient(300 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 32, nil)

	for i := 0; i < 8; i++ {
		require.NoError(t, d.Submit(testOpportunity(fmt.Sprintf("TK%d", i), 0.6)))
	}
	d.Tick(context.Background())

	st := d.Status()
	assert.Equal(t, 4, st.Active, "admission must stop at the concurrency cap")
	assert.Equal(t, 4, st.Queued, "overflow must wait in the queue")

	// Subsequent ticks drain the rest once slots free up.
	require.Eventually(t, func() bool {
		d.Tick(context.Background())
		return d.Status().Completed == 8
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDispatcherDropsConcurrentSamePair(t *testing.T) {
	sim := chain.NewSimClient(100 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 16, nil)

	require.NoError(t, d.Submit(testOpportunity("ETH", 0.6)))
	require.NoError(t, d.Submit(testOpportunity("ETH", 0.8)))
	d.Tick(context.Background())

	st := d.Status()
	assert.Equal(t, uint64(1), st.Admitted)
	assert.Equal(t, uint64(1), st.Duplicates)
}

func TestDispatcherExpiredCountsMissed(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 16, nil)

	opp := testOpportunity("ETH", 0.6)
	opp.ExpiresAt = time.Now().UTC().Add(-time.Second)
	require.NoError(t, d.Submit(opp))
	d.Tick(context.Background())

	st := d.Status()
	assert.Equal(t, uint64(1), st.Missed)
	assert.Zero(t, st.Admitted)
}

func TestDispatcherRiskRejectionEmitsEventAndReleasesPair(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	notifier := &captureNotifier{}
	d, _ := newTestDispatcher(t, sim, 4, 16, notifier)

	opp := testOpportunity("ETH", 0.6)
	opp.Size = 100 // notional 200k, far over the position cap
	require.NoError(t, d.Submit(opp))
	d.Tick(context.Background())

	st := d.Status()
	assert.Equal(t, uint64(1), st.RiskRejected)
	assert.Zero(t, st.Admitted)
	assert.Zero(t, d.locks.ActiveCount(), "rejected opportunity must not hold the pair")

	require.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventRiskRejected)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherQueueFull(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 1, nil)

	require.NoError(t, d.Submit(testOpportunity("ETH", 0.6)))
	err := d.Submit(testOpportunity("WBTC", 0.6))
	require.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, uint64(1), d.Status().Missed)
}

func TestDispatcherUnresolvedSellEmitsCriticalExactlyOnce(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	rpc := &sellRevertRPC{SimClient: sim, revertNonce: 1}
	notifier := &captureNotifier{}
	d, _ := newTestDispatcher(t, rpc, 4, 16, notifier)

	require.NoError(t, d.Submit(testOpportunity("ETH", 0.6)))
	d.Tick(context.Background())

	require.Eventually(t, func() bool {
		return d.Status().Unresolved == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(domain.EventSellFailedUnresolved)) >= 1
	}, time.Second, 10*time.Millisecond)

	// Give any stray duplicate a chance to arrive, then assert exactly one.
	time.Sleep(50 * time.Millisecond)
	events := notifier.ofType(domain.EventSellFailedUnresolved)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityCritical, events[0].Severity)
	assert.NotEmpty(t, events[0].Payload["buy_tx_hash"])
}

func TestDispatcherCancelUnknownTrade(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 16, nil)

	err := d.Cancel(context.Background(), "no-such-trade")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDispatcherRankOrdersBySpreadAndRisk(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 16, nil)

	wide := testOpportunity("ETH", 1.5)
	narrow := testOpportunity("WBTC", 0.6)
	a := domain.RiskAssessment{Accepted: true, Score: 0.2}

	assert.Greater(t,
		d.rank(context.Background(), wide, a),
		d.rank(context.Background(), narrow, a),
	)

	// A riskier assessment lowers the rank at equal spread.
	risky := domain.RiskAssessment{Accepted: true, Score: 0.6}
	assert.Greater(t,
		d.rank(context.Background(), narrow, a),
		d.rank(context.Background(), narrow, risky),
	)
}

type fixedScorer struct {
	score domain.AdvisoryScore
	err   error
}

func (s *fixedScorer) Score(context.Context, domain.Opportunity) (domain.AdvisoryScore, error) {
	return s.score, s.err
}

func TestDispatcherAdvisoryAdjustmentClamped(t *testing.T) {
	sim := chain.NewSimClient(10 * time.Millisecond)
	d, _ := newTestDispatcher(t, sim, 4, 16, nil)

	opp := testOpportunity("ETH", 0.6)
	a := domain.RiskAssessment{Accepted: true, Score: 0.2}
	base := d.rank(context.Background(), opp, a)

	d.scorer = &fixedScorer{score: domain.AdvisoryScore{Confidence: 0.9, Adjustment: 5.0}}
	assert.InDelta(t, base+advisoryClamp, d.rank(context.Background(), opp, a), 1e-9)

	d.scorer = &fixedScorer{err: fmt.Errorf("scorer down")}
	assert.InDelta(t, base, d.rank(context.Background(), opp, a), 1e-9,
		"scorer failure must not change the rank")
}
