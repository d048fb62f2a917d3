// Package engine turns detected opportunities into executed trades. The
// dispatcher owns admission (dedup, risk, ranking, concurrency); each
// admitted opportunity gets a coordinator goroutine that owns the trade's
// state machine exclusively until it reaches a terminal status.
package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/dexarbiter/internal/chain"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// RiskGate decides whether an opportunity may trade against a state snapshot.
type RiskGate interface {
	Evaluate(opp domain.Opportunity, state domain.RollingState) domain.RiskAssessment
}

// RiskTracker is the mutable rolling state behind the gate.
type RiskTracker interface {
	Snapshot() domain.RollingState
	OpenPosition(tradeID string, pair domain.TokenPair, notional float64)
	ClosePosition(tradeID string, realizedProfit float64)
	RecordLoss(amount float64)
}

// GasAdvisor prices one transaction leg.
type GasAdvisor interface {
	Recommend(network string, pair domain.TokenPair, baseGasLimit uint64) (domain.GasQuote, error)
}

// MevAdvisor assesses extraction exposure before any gas is spent.
type MevAdvisor interface {
	Assess(opp domain.Opportunity) domain.MevAssessment
}

// Sequencer allocates per-account nonces. Implemented by chain.NonceSequencer.
type Sequencer interface {
	Allocate(ctx context.Context, account common.Address) (uint64, error)
	MarkBroadcast(account common.Address, nonce uint64) error
	Release(account common.Address, nonce uint64) error
	Confirm(account common.Address, nonce uint64)
}

// TxSubmitter signs, broadcasts, and tracks transactions. Implemented by
// chain.Submitter.
type TxSubmitter interface {
	Account() common.Address
	Balance(ctx context.Context) (*big.Int, error)
	Submit(ctx context.Context, tx chain.PreparedTx) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (chain.ConfirmationStatus, error)
	Cancel(ctx context.Context, hash common.Hash) (bool, error)
	Pending(hash common.Hash) (domain.PendingTransaction, bool)
}
