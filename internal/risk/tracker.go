package risk

import (
	"sync"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Tracker maintains the rolling state the gate evaluates against: realized
// loss for the current UTC day and the set of open positions. It is safe for
// concurrent use by the engine and its coordinators.
type Tracker struct {
	mu        sync.Mutex
	lossDay   time.Time
	dailyLoss float64
	open      map[string]domain.OpenPosition // keyed by trade ID
	now       func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		open: make(map[string]domain.OpenPosition),
		now:  time.Now,
	}
}

// Snapshot returns a point-in-time copy of the rolling state. Gate
// evaluations against the same snapshot are idempotent.
func (t *Tracker) Snapshot() domain.RollingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked()

	positions := make([]domain.OpenPosition, 0, len(t.open))
	for _, p := range t.open {
		positions = append(positions, p)
	}
	return domain.RollingState{
		DailyRealizedLoss: t.dailyLoss,
		OpenPositions:     positions,
		ActiveTrades:      len(positions),
	}
}

// OpenPosition records that a trade now holds inventory.
func (t *Tracker) OpenPosition(tradeID string, pair domain.TokenPair, notional float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[tradeID] = domain.OpenPosition{Pair: pair, Notional: notional}
}

// ClosePosition removes a trade's position, recording its realized result.
// Losses accumulate against the daily ceiling; profits do not offset it.
func (t *Tracker) ClosePosition(tradeID string, realizedProfit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked()
	delete(t.open, tradeID)
	if realizedProfit < 0 {
		t.dailyLoss += -realizedProfit
	}
}

// RecordLoss adds a realized loss without an associated open position
// (e.g. gas burned on a failed buy leg).
func (t *Tracker) RecordLoss(amount float64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDayLocked()
	t.dailyLoss += amount
}

// rollDayLocked resets the loss accumulator when the UTC day changes.
func (t *Tracker) rollDayLocked() {
	day := t.now().UTC().Truncate(24 * time.Hour)
	if !day.Equal(t.lossDay) {
		t.lossDay = day
		t.dailyLoss = 0
	}
}
