package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/detect"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// OpportunitySink accepts detected opportunities for admission. Implemented
// by the engine dispatcher.
type OpportunitySink interface {
	Submit(opp domain.Opportunity) error
}

// Scanner holds the latest tick per (exchange, pair) and runs the detector
// over it on an interval. Detected opportunities go to the sink; the cache
// mirror and the detection event are both best-effort.
type Scanner struct {
	detector *detect.Detector
	sink     OpportunitySink
	cache    domain.TickCache
	notify   domain.Notifier
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	latest map[string]domain.PriceTick
}

// NewScanner creates a Scanner. cache and notify may be nil.
func NewScanner(
	detector *detect.Detector,
	sink OpportunitySink,
	cache domain.TickCache,
	notify domain.Notifier,
	interval time.Duration,
	logger *slog.Logger,
) *Scanner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Scanner{
		detector: detector,
		sink:     sink,
		cache:    cache,
		notify:   notify,
		interval: interval,
		latest:   make(map[string]domain.PriceTick),
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// HandleTick records the tick as the latest for its (exchange, pair) and
// mirrors it to the shared cache.
func (s *Scanner) HandleTick(ctx context.Context, tick domain.PriceTick) {
	if !tick.Pair.Valid() {
		return
	}
	s.mu.Lock()
	s.latest[tick.Exchange+"|"+tick.Pair.String()] = tick
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetTick(ctx, tick); err != nil {
			s.logger.Debug("tick cache write failed", slog.String("error", err.Error()))
		}
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started", slog.Duration("interval", s.interval))
	defer s.logger.Info("scanner stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one detection pass over the latest ticks.
func (s *Scanner) Scan(ctx context.Context) {
	s.mu.Lock()
	ticks := make([]domain.PriceTick, 0, len(s.latest))
	for _, t := range s.latest {
		ticks = append(ticks, t)
	}
	s.mu.Unlock()

	if len(ticks) == 0 {
		return
	}

	opps := s.detector.Scan(ticks, time.Now().UTC())
	if len(opps) == 0 {
		return
	}

	s.logger.Info("opportunities detected", slog.Int("count", len(opps)))
	if s.notify != nil {
		ev := domain.Event{
			Type:     domain.EventOpportunitiesDetected,
			Severity: domain.SeverityInfo,
			Title:    "Opportunities detected",
			Message:  fmt.Sprintf("%d cross-venue spread(s) found", len(opps)),
			Payload:  map[string]any{"count": len(opps)},
		}
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notify.Notify(nctx, ev); err != nil {
				s.logger.Debug("detection notification failed", slog.String("error", err.Error()))
			}
		}()
	}

	for _, opp := range opps {
		if err := s.sink.Submit(opp); err != nil {
			if errors.Is(err, domain.ErrQueueFull) {
				s.logger.Warn("opportunity dropped, queue full",
					slog.String("opportunity_id", opp.ID),
					slog.String("pair", opp.Pair.String()),
				)
				continue
			}
			s.logger.Warn("opportunity submit failed", slog.String("error", err.Error()))
		}
	}
}
