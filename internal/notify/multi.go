package notify

import (
	"context"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Multi fans one event out to several notifiers, e.g. the operator channels
// plus the dashboard WebSocket hub. Every notifier sees every event; the
// first error is returned after all have been tried.
type Multi []domain.Notifier

var _ domain.Notifier = (Multi)(nil)

func (m Multi) Notify(ctx context.Context, ev domain.Event) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
