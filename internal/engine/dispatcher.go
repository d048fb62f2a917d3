package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Ranking weights: spread dominates, risk discounts.
const (
	rankSpreadWeight = 0.7
	rankRiskWeight   = 0.3
	// advisoryClamp bounds how far the optional scorer can move a rank.
	advisoryClamp = 0.1
)

// DispatcherConfig holds admission parameters.
type DispatcherConfig struct {
	TickInterval  time.Duration
	MaxConcurrent int64
	QueueCapacity int
}

// Status is a point-in-time view of the dispatcher for the status endpoint.
type Status struct {
	Queued       int    `json:"queued"`
	Active       int    `json:"active"`
	Admitted     uint64 `json:"admitted"`
	Completed    uint64 `json:"completed"`
	Failed       uint64 `json:"failed"`
	Unresolved   uint64 `json:"unresolved"`
	Cancelled    uint64 `json:"cancelled"`
	Missed       uint64 `json:"missed"`
	RiskRejected uint64 `json:"risk_rejected"`
	Duplicates   uint64 `json:"duplicates"`
}

// Dispatcher owns admission: it drains the opportunity queue on a tick,
// discards expired and duplicate-pair entries, runs each survivor through the
// risk gate, ranks what remains, and hands the best to coordinators under a
// concurrency cap. One slow or failing trade never blocks admission of
// others.
type Dispatcher struct {
	cfg      DispatcherConfig
	coordCfg CoordinatorConfig

	queue chan domain.Opportunity
	sem   *semaphore.Weighted
	locks *PairLock

	gate    RiskGate
	tracker RiskTracker
	gas     GasAdvisor
	mev     MevAdvisor
	seq     Sequencer
	sub     TxSubmitter
	scorer  domain.AdvisoryScorer
	notify  domain.Notifier

	trades      domain.TradeStore
	opps        domain.OpportunityStore
	assessments domain.RiskAssessmentStore

	logger *slog.Logger

	mu      sync.Mutex
	active  map[string]*Coordinator
	counter Status
}

// NewDispatcher wires a dispatcher. scorer, notify, and the stores may be nil
// when the corresponding collaborator is disabled.
func NewDispatcher(
	cfg DispatcherConfig,
	coordCfg CoordinatorConfig,
	gate RiskGate,
	tracker RiskTracker,
	gas GasAdvisor,
	mev MevAdvisor,
	seq Sequencer,
	sub TxSubmitter,
	scorer domain.AdvisoryScorer,
	notify domain.Notifier,
	trades domain.TradeStore,
	opps domain.OpportunityStore,
	assessments domain.RiskAssessmentStore,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	return &Dispatcher{
		cfg:         cfg,
		coordCfg:    coordCfg,
		queue:       make(chan domain.Opportunity, cfg.QueueCapacity),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		locks:       NewPairLock(),
		gate:        gate,
		tracker:     tracker,
		gas:         gas,
		mev:         mev,
		seq:         seq,
		sub:         sub,
		scorer:      scorer,
		notify:      notify,
		trades:      trades,
		opps:        opps,
		assessments: assessments,
		active:      make(map[string]*Coordinator),
		logger:      logger.With(slog.String("component", "dispatcher")),
	}
}

// Submit enqueues a detected opportunity without blocking. A full queue
// rejects with domain.ErrQueueFull; the opportunity is simply missed.
func (d *Dispatcher) Submit(opp domain.Opportunity) error {
	select {
	case d.queue <- opp:
		if d.opps != nil {
			d.background(func(ctx context.Context) error {
				return d.opps.Insert(ctx, opp)
			}, "opportunity insert")
		}
		return nil
	default:
		d.mu.Lock()
		d.counter.Missed++
		d.mu.Unlock()
		return domain.ErrQueueFull
	}
}

// Run drives admission until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		slog.Int64("max_concurrent", d.cfg.MaxConcurrent),
		slog.Int("queue_capacity", d.cfg.QueueCapacity),
	)
	defer d.logger.Info("dispatcher stopped")

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

type candidate struct {
	opp        domain.Opportunity
	assessment domain.RiskAssessment
	rank       float64
}

// Tick drains the queue once: filter, gate, rank, admit. Exported so tests
// and the monitor loop can drive admission without the ticker.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := time.Now().UTC()
	var candidates []candidate

	for drained := false; !drained; {
		select {
		case opp := <-d.queue:
			if c, ok := d.screen(ctx, opp, now); ok {
				candidates = append(candidates, c)
			}
		default:
			drained = true
		}
	}

	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].rank > candidates[j].rank
	})

	for _, c := range candidates {
		if !d.sem.TryAcquire(1) {
			// No capacity this tick: put it back and let the next tick
			// re-screen it against fresher state.
			d.locks.Release(c.opp.Pair)
			select {
			case d.queue <- c.opp:
			default:
				d.mu.Lock()
				d.counter.Missed++
				d.mu.Unlock()
			}
			continue
		}
		d.launch(ctx, c)
	}
}

// screen applies expiry, pair dedup, and the risk gate. On success the pair
// lock is held by the returned candidate.
func (d *Dispatcher) screen(ctx context.Context, opp domain.Opportunity, now time.Time) (candidate, bool) {
	log := d.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair.String()),
	)

	if opp.Expired(now) {
		d.mu.Lock()
		d.counter.Missed++
		d.mu.Unlock()
		log.Debug("opportunity expired in queue")
		return candidate{}, false
	}

	if err := d.locks.TryAcquire(opp.Pair, opp.ID); err != nil {
		d.mu.Lock()
		d.counter.Duplicates++
		d.mu.Unlock()
		log.Debug("pair already trading, dropped")
		return candidate{}, false
	}

	assessment := d.gate.Evaluate(opp, d.tracker.Snapshot())
	if d.assessments != nil {
		a := assessment
		d.background(func(ctx context.Context) error {
			return d.assessments.Insert(ctx, a)
		}, "risk assessment insert")
	}

	if !assessment.Accepted {
		d.locks.Release(opp.Pair)
		d.mu.Lock()
		d.counter.RiskRejected++
		d.mu.Unlock()
		log.Warn("risk gate rejected opportunity",
			slog.Float64("score", assessment.Score),
			slog.String("severity", string(assessment.Severity)),
		)
		d.emit(domain.Event{
			Type:     domain.EventRiskRejected,
			Severity: domain.SeverityWarning,
			Title:    "Opportunity rejected by risk gate",
			Message:  fmt.Sprintf("%s spread %.2f%% rejected (severity %s)", opp.Pair, opp.SpreadPercent, assessment.Severity),
			Payload:  map[string]any{"opportunity_id": opp.ID, "score": assessment.Score},
		})
		return candidate{}, false
	}

	return candidate{opp: opp, assessment: assessment, rank: d.rank(ctx, opp, assessment)}, true
}

// rank scores an accepted opportunity for admission ordering. The advisory
// scorer can nudge the rank but never decides admission; its failures are
// logged and ignored.
func (d *Dispatcher) rank(ctx context.Context, opp domain.Opportunity, assessment domain.RiskAssessment) float64 {
	base := rankSpreadWeight*opp.SpreadPercent + rankRiskWeight*(1-assessment.Score)
	if d.scorer == nil {
		return base
	}
	score, err := d.scorer.Score(ctx, opp)
	if err != nil {
		d.logger.Debug("advisory scorer unavailable", slog.String("error", err.Error()))
		return base
	}
	adj := score.Adjustment
	if adj > advisoryClamp {
		adj = advisoryClamp
	} else if adj < -advisoryClamp {
		adj = -advisoryClamp
	}
	return base + adj
}

// launch hands a candidate to a coordinator goroutine. The goroutine owns the
// semaphore slot and the pair lock until the trade terminates; a panic inside
// one trade is contained there.
func (d *Dispatcher) launch(ctx context.Context, c candidate) {
	coord := NewCoordinator(d.coordCfg, c.opp, c.assessment.Score, d.gas, d.mev, d.seq, d.sub, d.tracker, d.logger)

	d.mu.Lock()
	d.counter.Admitted++
	d.active[coord.TradeID()] = coord
	d.mu.Unlock()

	if d.opps != nil {
		oppID := c.opp.ID
		d.background(func(ctx context.Context) error {
			return d.opps.MarkAdmitted(ctx, oppID)
		}, "opportunity mark admitted")
	}
	if d.trades != nil {
		created := coord.Snapshot()
		d.background(func(ctx context.Context) error {
			return d.trades.Create(ctx, created)
		}, "trade create")
	}

	go func() {
		defer d.sem.Release(1)
		defer d.locks.Release(c.opp.Pair)
		defer func() {
			d.mu.Lock()
			delete(d.active, coord.TradeID())
			d.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("coordinator panicked",
					slog.String("trade_id", coord.TradeID()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				d.mu.Lock()
				d.counter.Failed++
				d.mu.Unlock()
			}
		}()

		final := coord.Run(ctx)
		d.settle(final)
	}()
}

// settle records a terminal trade and emits its outcome event.
func (d *Dispatcher) settle(trade domain.Trade) {
	d.mu.Lock()
	switch trade.Status {
	case domain.TradeStatusCompleted:
		d.counter.Completed++
	case domain.TradeStatusFailedBuy:
		d.counter.Failed++
	case domain.TradeStatusFailedSellUnresolved:
		d.counter.Unresolved++
	case domain.TradeStatusCancelled:
		d.counter.Cancelled++
	}
	d.mu.Unlock()

	if d.trades != nil {
		t := trade
		d.background(func(ctx context.Context) error {
			return d.trades.SaveTerminal(ctx, t)
		}, "trade save")
	}

	switch trade.Status {
	case domain.TradeStatusCompleted:
		profit := 0.0
		if trade.RealizedProfit != nil {
			profit = *trade.RealizedProfit
		}
		d.emit(domain.Event{
			Type:     domain.EventTradeCompleted,
			Severity: domain.SeverityInfo,
			Title:    "Trade completed",
			Message:  fmt.Sprintf("%s %s->%s profit %.4f", trade.Pair, trade.BuyVenue, trade.SellVenue, profit),
			Payload:  map[string]any{"trade_id": trade.ID, "profit": profit},
		})
	case domain.TradeStatusFailedBuy:
		d.emit(domain.Event{
			Type:     domain.EventTradeFailed,
			Severity: domain.SeverityWarning,
			Title:    "Trade failed on buy leg",
			Message:  fmt.Sprintf("%s on %s: %s", trade.Pair, trade.BuyVenue, trade.ErrorDetail),
			Payload:  map[string]any{"trade_id": trade.ID},
		})
	case domain.TradeStatusFailedSellUnresolved:
		pos, _ := trade.Unresolved()
		d.emit(domain.Event{
			Type:     domain.EventSellFailedUnresolved,
			Severity: domain.SeverityCritical,
			Title:    "OPERATOR ACTION REQUIRED: unresolved position",
			Message: fmt.Sprintf("sell leg failed for %s: holding %.6f %s bought on %s (buy tx %s)",
				trade.Pair, pos.Amount, pos.Token, pos.BuyVenue, pos.BuyTxHash),
			Payload: map[string]any{
				"trade_id":    trade.ID,
				"token":       pos.Token,
				"amount":      pos.Amount,
				"buy_tx_hash": pos.BuyTxHash,
			},
		})
	}
}

// Cancel requests cancellation of an active trade.
func (d *Dispatcher) Cancel(ctx context.Context, tradeID string) error {
	d.mu.Lock()
	coord, ok := d.active[tradeID]
	d.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	return coord.RequestCancel(ctx)
}

// ActiveTrades returns snapshots of all in-flight trades.
func (d *Dispatcher) ActiveTrades() []domain.Trade {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Trade, 0, len(d.active))
	for _, coord := range d.active {
		out = append(out, coord.Snapshot())
	}
	return out
}

// Status returns current counters.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.counter
	s.Queued = len(d.queue)
	s.Active = len(d.active)
	return s
}

// emit delivers a notification without blocking admission. Delivery failures
// are logged only.
func (d *Dispatcher) emit(ev domain.Event) {
	if d.notify == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.notify.Notify(ctx, ev); err != nil {
			d.logger.Warn("notification delivery failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// background runs a storage call detached from the trade path.
func (d *Dispatcher) background(fn func(context.Context) error, op string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("background storage call failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}()
}
