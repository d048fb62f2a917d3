package engine

import (
	"sync"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// PairLock enforces the one-active-trade-per-pair rule. Admission is the only
// place that acquires, so an in-process registry is sufficient.
type PairLock struct {
	mu     sync.Mutex
	active map[string]string // pair key -> trade ID
}

// NewPairLock creates an empty registry.
func NewPairLock() *PairLock {
	return &PairLock{active: make(map[string]string)}
}

// TryAcquire marks the pair active for the trade. It returns
// domain.ErrPairActive when another trade already holds the pair.
func (l *PairLock) TryAcquire(pair domain.TokenPair, tradeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pair.String()
	if _, held := l.active[key]; held {
		return domain.ErrPairActive
	}
	l.active[key] = tradeID
	return nil
}

// Release frees the pair. Releasing an unheld pair is a no-op.
func (l *PairLock) Release(pair domain.TokenPair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, pair.String())
}

// Holder returns the trade currently holding the pair, if any.
func (l *PairLock) Holder(pair domain.TokenPair) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.active[pair.String()]
	return id, ok
}

// ActiveCount returns the number of held pairs.
func (l *PairLock) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}
