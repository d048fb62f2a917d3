package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/arbiterlabs/dexarbiter/internal/chain"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// gasPremiumMultiplier is applied to the gas quote under the gas_premium
// mitigation.
const gasPremiumMultiplier = 1.10

type legSide string

const (
	legBuy  legSide = "buy"
	legSell legSide = "sell"
)

// CoordinatorConfig holds the execution parameters shared by all trades.
type CoordinatorConfig struct {
	ConfirmTimeout   time.Duration
	MaxCancelRetries int
	MaxJitter        time.Duration
	SwapGasLimit     uint64
	// Routers maps venue name to the contract a leg is sent to.
	Routers map[string]common.Address
}

// Coordinator owns one trade from admission to a terminal status. Nothing
// else mutates the trade while Run is in flight; the dispatcher reads it
// through Snapshot and persists it after Run returns.
type Coordinator struct {
	cfg     CoordinatorConfig
	opp     domain.Opportunity
	gas     GasAdvisor
	mev     MevAdvisor
	seq     Sequencer
	sub     TxSubmitter
	tracker RiskTracker
	logger  *slog.Logger

	mu              sync.Mutex
	trade           domain.Trade
	cancelRequested bool
}

// NewCoordinator creates a coordinator for an admitted opportunity. riskScore
// is carried onto the trade record for audit.
func NewCoordinator(
	cfg CoordinatorConfig,
	opp domain.Opportunity,
	riskScore float64,
	gas GasAdvisor,
	mev MevAdvisor,
	seq Sequencer,
	sub TxSubmitter,
	tracker RiskTracker,
	logger *slog.Logger,
) *Coordinator {
	trade := domain.Trade{
		ID:             uuid.New().String(),
		OpportunityID:  opp.ID,
		Pair:           opp.Pair,
		BuyVenue:       opp.BuyVenue,
		SellVenue:      opp.SellVenue,
		Network:        opp.Network,
		Size:           opp.Size,
		BuyPrice:       opp.BuyPrice,
		SellPrice:      opp.SellPrice,
		Status:         domain.TradeStatusPending,
		ExpectedProfit: opp.ExpectedProfit(),
		RiskScore:      riskScore,
		CreatedAt:      time.Now().UTC(),
	}
	return &Coordinator{
		cfg:     cfg,
		opp:     opp,
		gas:     gas,
		mev:     mev,
		seq:     seq,
		sub:     sub,
		tracker: tracker,
		trade:   trade,
		logger: logger.With(
			slog.String("component", "trade_coordinator"),
			slog.String("trade_id", trade.ID),
			slog.String("pair", opp.Pair.String()),
		),
	}
}

// TradeID returns the trade's identifier.
func (c *Coordinator) TradeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trade.ID
}

// Snapshot returns a copy of the trade's current state.
func (c *Coordinator) Snapshot() domain.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trade
}

// Run drives the trade to a terminal status and returns the final record.
// The sequence is fixed: MEV assessment, then per leg gas pricing, nonce
// allocation, submission, confirmation. The buy leg fully resolves before the
// sell leg starts.
func (c *Coordinator) Run(ctx context.Context) domain.Trade {
	c.logger.Info("trade started",
		slog.String("buy_venue", c.opp.BuyVenue),
		slog.String("sell_venue", c.opp.SellVenue),
		slog.Float64("spread_percent", c.opp.SpreadPercent),
	)

	if c.opp.Expired(time.Now().UTC()) {
		return c.finish(domain.TradeStatusCancelled, domain.ErrExpired.Error())
	}
	if err := c.validate(ctx); err != nil {
		return c.finish(domain.TradeStatusCancelled, err.Error())
	}

	assessment := c.mev.Assess(c.opp)
	if assessment.Level != domain.MevLevelLow {
		c.logger.Warn("elevated extraction exposure",
			slog.String("level", string(assessment.Level)),
			slog.Float64("score", assessment.Score),
		)
	}

	if assessment.Has(domain.MitigationTimingJitter) {
		c.jitter(ctx)
	}

	// Buy leg.
	buyTx, err := c.executeLeg(ctx, legBuy, assessment)
	if err != nil {
		if c.cancelled() {
			return c.finish(domain.TradeStatusCancelled, "cancelled before buy confirmation")
		}
		c.recordGasLoss()
		return c.finish(domain.TradeStatusFailedBuy, err.Error())
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.trade.Status = domain.TradeStatusBought
	c.trade.BuyConfirmedAt = &now
	c.mu.Unlock()
	c.tracker.OpenPosition(c.trade.ID, c.opp.Pair, c.opp.Notional())
	c.logger.Info("buy leg confirmed", slog.String("tx", buyTx.Hash))

	// Sell leg. From here any failure leaves held inventory, so the trade
	// ends unresolved rather than rolled back.
	sellTx, err := c.executeLeg(ctx, legSell, assessment)
	if err != nil {
		c.logger.Error("sell leg failed with inventory held",
			slog.String("buy_tx", buyTx.Hash),
			slog.String("error", err.Error()),
		)
		c.recordGasLoss()
		return c.finish(domain.TradeStatusFailedSellUnresolved, err.Error())
	}
	c.logger.Info("sell leg confirmed", slog.String("tx", sellTx.Hash))

	realized := (c.opp.SellPrice - c.opp.BuyPrice) * c.opp.Size
	c.mu.Lock()
	c.trade.RealizedProfit = &realized
	c.mu.Unlock()
	c.tracker.ClosePosition(c.trade.ID, realized)

	return c.finish(domain.TradeStatusCompleted, "")
}

// validate runs the pre-execution checks: a well-formed pair, routable
// venues, and enough balance to cover worst-case gas for both legs. A
// failed check is final for the trade; nothing has touched the network yet.
func (c *Coordinator) validate(ctx context.Context) error {
	if c.opp.Pair.Base == "" || c.opp.Pair.Quote == "" {
		return &domain.ValidationError{Reason: "malformed token pair " + c.opp.Pair.String()}
	}
	if len(c.cfg.Routers) > 0 {
		for _, venue := range []string{c.opp.BuyVenue, c.opp.SellVenue} {
			if _, ok := c.cfg.Routers[venue]; !ok {
				return &domain.ValidationError{Reason: "no router configured for venue " + venue}
			}
		}
	}

	quote, err := c.gas.Recommend(c.opp.Network, c.opp.Pair, c.cfg.SwapGasLimit)
	if err != nil {
		return fmt.Errorf("engine: pricing validation quote: %w", err)
	}
	perLeg := new(big.Int).Mul(
		new(big.Int).SetUint64(quote.GasLimit),
		new(big.Int).SetUint64(quote.GasPriceWei+quote.PriorityFeeWei),
	)
	need := new(big.Int).Mul(perLeg, big.NewInt(2))

	balance, err := c.sub.Balance(ctx)
	if err != nil {
		return fmt.Errorf("engine: checking balance: %w", err)
	}
	if balance.Cmp(need) < 0 {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("balance %s wei below worst-case gas cost %s wei", balance, need),
		}
	}
	return nil
}

// recordGasLoss charges gas burned by mined-but-reverted legs against the
// day's loss ceiling, valued in native units.
func (c *Coordinator) recordGasLoss() {
	c.mu.Lock()
	var wei uint64
	for _, tx := range []*domain.PendingTransaction{c.trade.BuyTx, c.trade.SellTx} {
		if tx != nil && tx.Status == domain.TxStatusFailed {
			wei += tx.GasLimit * (tx.GasPriceWei + tx.PriorityFeeWei)
		}
	}
	c.mu.Unlock()
	if wei > 0 {
		c.tracker.RecordLoss(float64(wei) / 1e18)
	}
}

// executeLeg prices, sequences, submits, and confirms one leg. On success the
// returned transaction is confirmed on chain.
func (c *Coordinator) executeLeg(ctx context.Context, side legSide, assessment domain.MevAssessment) (*domain.PendingTransaction, error) {
	venue := c.opp.BuyVenue
	if side == legSell {
		venue = c.opp.SellVenue
	}

	quote, err := c.gas.Recommend(c.opp.Network, c.opp.Pair, c.cfg.SwapGasLimit)
	if err != nil {
		return nil, fmt.Errorf("engine: pricing %s leg: %w", side, err)
	}
	if assessment.Has(domain.MitigationGasPremium) {
		quote.GasPriceWei = uint64(float64(quote.GasPriceWei) * gasPremiumMultiplier)
		quote.PriorityFeeWei = uint64(float64(quote.PriorityFeeWei) * gasPremiumMultiplier)
	}

	account := c.sub.Account()
	nonce, err := c.seq.Allocate(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("engine: sequencing %s leg: %w", side, err)
	}

	// Last chance to back out without touching the network.
	if side == legBuy && c.cancelled() {
		if relErr := c.seq.Release(account, nonce); relErr != nil {
			c.logger.Warn("nonce release on cancel failed", slog.String("error", relErr.Error()))
		}
		return nil, domain.ErrCancelled
	}

	router := c.cfg.Routers[venue]
	hash, err := c.sub.Submit(ctx, chain.PreparedTx{
		To:    &router,
		Nonce: nonce,
		Gas:   quote,
	})
	if err != nil {
		// The transaction never reached the network; the nonce is safe to
		// hand back.
		if relErr := c.seq.Release(account, nonce); relErr != nil {
			c.logger.Warn("nonce release after failed submit", slog.String("error", relErr.Error()))
		}
		return nil, fmt.Errorf("engine: submitting %s leg: %w", side, err)
	}
	if err := c.seq.MarkBroadcast(account, nonce); err != nil {
		c.logger.Warn("mark broadcast failed", slog.String("error", err.Error()))
	}

	now := time.Now().UTC()
	tracked, _ := c.sub.Pending(hash)
	c.mu.Lock()
	if side == legBuy {
		c.trade.Status = domain.TradeStatusBuying
		c.trade.BuyTx = &tracked
		c.trade.BuySubmittedAt = &now
	} else {
		c.trade.Status = domain.TradeStatusSelling
		c.trade.SellTx = &tracked
		c.trade.SellSubmittedAt = &now
	}
	c.mu.Unlock()

	status, err := c.sub.AwaitConfirmation(ctx, hash, c.cfg.ConfirmTimeout)
	switch status {
	case chain.ConfirmationConfirmed:
		c.seq.Confirm(account, nonce)
		final, _ := c.sub.Pending(hash)
		c.updateLegTx(side, final)
		return &final, nil

	case chain.ConfirmationFailed:
		// Mined but reverted: the nonce is consumed.
		c.seq.Confirm(account, nonce)
		final, _ := c.sub.Pending(hash)
		c.updateLegTx(side, final)
		return nil, &domain.ExecutionError{Kind: kindFor(side), TxHash: hash.Hex(), Err: fmt.Errorf("transaction reverted")}

	default:
		// Not included within the timeout. Replace it so the nonce cannot
		// block later trades; whichever transaction wins, the nonce is
		// consumed on chain.
		c.replaceWithRetries(ctx, hash)
		c.seq.Confirm(account, nonce)
		if c.cancelled() && side == legBuy {
			return nil, domain.ErrCancelled
		}
		return nil, &domain.ExecutionError{Kind: kindFor(side), TxHash: hash.Hex(), Err: err}
	}
}

// replaceWithRetries attempts cancel-by-replacement with bounded retries.
func (c *Coordinator) replaceWithRetries(ctx context.Context, hash common.Hash) {
	attempts := c.cfg.MaxCancelRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ok, err := c.sub.Cancel(ctx, hash)
		if err == nil {
			if ok {
				c.logger.Warn("stuck transaction replaced", slog.String("hash", hash.Hex()))
			}
			return
		}
		c.logger.Warn("replacement attempt failed",
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
		}
	}
}

// RequestCancel asks the coordinator to abandon the trade. It succeeds only
// before the buy leg confirms; after that the position exists on chain and
// must run to completion or land unresolved.
func (c *Coordinator) RequestCancel(ctx context.Context) error {
	c.mu.Lock()
	status := c.trade.Status
	var buyHash string
	if c.trade.BuyTx != nil {
		buyHash = c.trade.BuyTx.Hash
	}
	if status == domain.TradeStatusPending || status == domain.TradeStatusBuying {
		c.cancelRequested = true
	}
	c.mu.Unlock()

	switch status {
	case domain.TradeStatusPending:
		return nil
	case domain.TradeStatusBuying:
		// The buy is in flight: race it with a replacement.
		if buyHash != "" {
			c.replaceWithRetries(ctx, common.HexToHash(buyHash))
		}
		return nil
	case domain.TradeStatusCancelled:
		return nil
	default:
		return domain.ErrCancelTooLate
	}
}

func (c *Coordinator) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// jitter delays submission by a random interval to break timing correlation
// with the detected spread.
func (c *Coordinator) jitter(ctx context.Context) {
	if c.cfg.MaxJitter <= 0 {
		return
	}
	delay := time.Duration(rand.Int63n(int64(c.cfg.MaxJitter)))
	c.logger.Debug("applying timing jitter", slog.Duration("delay", delay))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (c *Coordinator) updateLegTx(side legSide, tx domain.PendingTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if side == legBuy {
		c.trade.BuyTx = &tx
	} else {
		c.trade.SellTx = &tx
	}
}

func (c *Coordinator) finish(status domain.TradeStatus, detail string) domain.Trade {
	now := time.Now().UTC()
	c.mu.Lock()
	c.trade.Status = status
	c.trade.ErrorDetail = detail
	c.trade.FinishedAt = &now
	final := c.trade
	c.mu.Unlock()

	c.logger.Info("trade finished",
		slog.String("status", string(status)),
		slog.String("detail", detail),
	)
	return final
}

func kindFor(side legSide) domain.ExecutionErrorKind {
	if side == legSell {
		return domain.ExecSellFailedUnresolved
	}
	return domain.ExecBuyFailed
}
