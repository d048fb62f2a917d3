package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// cancelPremium is the gas price multiplier for a same-nonce replacement.
// Nodes require at least a 10% bump to accept a replacement; 20% makes the
// race winnable.
const cancelPremium = 1.20

// PreparedTx is a fully parameterized transaction ready for signing. The
// nonce must come from the NonceSequencer.
type PreparedTx struct {
	To       *common.Address
	Nonce    uint64
	Gas      domain.GasQuote
	ValueWei *big.Int
	Data     []byte
}

// ConfirmationStatus is the outcome of AwaitConfirmation.
type ConfirmationStatus string

const (
	// ConfirmationConfirmed means the transaction was mined successfully.
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	// ConfirmationFailed means the transaction was mined but reverted.
	ConfirmationFailed ConfirmationStatus = "failed"
	// ConfirmationTimedOut means the transaction was not included within
	// the timeout; the caller decides whether to cancel or keep waiting.
	ConfirmationTimedOut ConfirmationStatus = "timed_out"
)

// SubmitterConfig holds polling and retry parameters.
type SubmitterConfig struct {
	PollInterval   time.Duration
	MaxRPCAttempts int
}

// Submitter signs, submits, and tracks transactions for a single account.
// It distinguishes on-chain revert from non-inclusion and surfaces both to
// the caller rather than swallowing them.
type Submitter struct {
	rpc     RPCClient
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	cfg     SubmitterConfig
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[common.Hash]*domain.PendingTransaction
}

// NewSubmitter creates a Submitter signing with the given key on the given
// chain.
func NewSubmitter(rpc RPCClient, key *ecdsa.PrivateKey, chainID *big.Int, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRPCAttempts <= 0 {
		cfg.MaxRPCAttempts = 3
	}
	return &Submitter{
		rpc:     rpc,
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "tx_submitter")),
		pending: make(map[common.Hash]*domain.PendingTransaction),
	}
}

// Account returns the submitter's signing address.
func (s *Submitter) Account() common.Address {
	return s.address
}

// Balance returns the account's current balance in wei.
func (s *Submitter) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := s.rpc.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return nil, &domain.NetworkError{Op: "balance at", Err: err}
	}
	return bal, nil
}

// Submit signs and broadcasts a prepared transaction, retrying transient RPC
// failures with bounded backoff. The returned hash identifies the tracked
// PendingTransaction.
func (s *Submitter) Submit(ctx context.Context, prep PreparedTx) (common.Hash, error) {
	value := prep.ValueWei
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     prep.Nonce,
		GasTipCap: new(big.Int).SetUint64(prep.Gas.PriorityFeeWei),
		GasFeeCap: new(big.Int).SetUint64(prep.Gas.GasPriceWei),
		Gas:       prep.Gas.GasLimit,
		To:        prep.To,
		Value:     value,
		Data:      prep.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign tx nonce %d: %w", prep.Nonce, err)
	}

	if err := s.send(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	hash := signed.Hash()
	s.track(&domain.PendingTransaction{
		Hash:           hash.Hex(),
		Account:        s.address.Hex(),
		Nonce:          prep.Nonce,
		GasLimit:       prep.Gas.GasLimit,
		GasPriceWei:    prep.Gas.GasPriceWei,
		PriorityFeeWei: prep.Gas.PriorityFeeWei,
		SubmittedAt:    time.Now().UTC(),
		Status:         domain.TxStatusPending,
	})

	s.logger.Info("transaction submitted",
		slog.String("hash", hash.Hex()),
		slog.Uint64("nonce", prep.Nonce),
		slog.Uint64("gas_price_wei", prep.Gas.GasPriceWei),
	)
	return hash, nil
}

// send broadcasts with bounded retry. Backoff grows linearly and the attempt
// count is capped by config.
func (s *Submitter) send(ctx context.Context, tx *types.Transaction) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRPCAttempts; attempt++ {
		if err := s.rpc.SendTransaction(ctx, tx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return &domain.NetworkError{Op: "send transaction", Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return &domain.NetworkError{Op: "send transaction", Err: lastErr}
}

// AwaitConfirmation polls for the transaction's receipt until it is mined or
// the timeout elapses. A mined-but-reverted transaction reports
// ConfirmationFailed; non-inclusion reports ConfirmationTimedOut. Both are
// surfaced, never swallowed.
func (s *Submitter) AwaitConfirmation(ctx context.Context, hash common.Hash, timeout time.Duration) (ConfirmationStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				s.setStatus(hash, domain.TxStatusConfirmed)
				return ConfirmationConfirmed, nil
			}
			s.setStatus(hash, domain.TxStatusFailed)
			return ConfirmationFailed, nil
		case errors.Is(err, ethereum.NotFound):
			// Still pending.
		case err != nil:
			// Transient RPC failure: keep polling until the deadline.
			s.logger.Warn("receipt poll failed",
				slog.String("hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return ConfirmationTimedOut, domain.ErrConfirmationTimeout
		}

		select {
		case <-ctx.Done():
			return ConfirmationTimedOut, &domain.NetworkError{Op: "await confirmation", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// Cancel submits a same-nonce replacement to the null recipient at a higher
// gas price. It returns true when the replacement was broadcast; whether the
// replacement or the original wins the race is decided on chain.
func (s *Submitter) Cancel(ctx context.Context, hash common.Hash) (bool, error) {
	s.mu.Lock()
	orig, ok := s.pending[hash]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("chain: cancel %s: %w", hash.Hex(), domain.ErrNotFound)
	}
	if orig.Status != domain.TxStatusPending {
		return false, nil
	}

	bumped := domain.GasQuote{
		GasLimit:       21_000,
		GasPriceWei:    uint64(float64(orig.GasPriceWei) * cancelPremium),
		PriorityFeeWei: uint64(float64(orig.PriorityFeeWei) * cancelPremium),
	}
	nullTo := common.Address{}
	replacement := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     orig.Nonce,
		GasTipCap: new(big.Int).SetUint64(bumped.PriorityFeeWei),
		GasFeeCap: new(big.Int).SetUint64(bumped.GasPriceWei),
		Gas:       bumped.GasLimit,
		To:        &nullTo,
		Value:     new(big.Int),
	})

	signed, err := types.SignTx(replacement, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return false, fmt.Errorf("chain: sign replacement for %s: %w", hash.Hex(), err)
	}
	if err := s.send(ctx, signed); err != nil {
		return false, err
	}

	s.setStatus(hash, domain.TxStatusReplaced)
	s.track(&domain.PendingTransaction{
		Hash:           signed.Hash().Hex(),
		Account:        s.address.Hex(),
		Nonce:          orig.Nonce,
		GasLimit:       bumped.GasLimit,
		GasPriceWei:    bumped.GasPriceWei,
		PriorityFeeWei: bumped.PriorityFeeWei,
		SubmittedAt:    time.Now().UTC(),
		Status:         domain.TxStatusPending,
	})

	s.logger.Warn("cancel-by-replacement submitted",
		slog.String("original", hash.Hex()),
		slog.String("replacement", signed.Hash().Hex()),
		slog.Uint64("nonce", orig.Nonce),
	)
	return true, nil
}

// Pending returns a copy of the tracked state for a hash.
func (s *Submitter) Pending(hash common.Hash) (domain.PendingTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.pending[hash]
	if !ok {
		return domain.PendingTransaction{}, false
	}
	return *tx, true
}

func (s *Submitter) track(tx *domain.PendingTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[common.HexToHash(tx.Hash)] = tx
}

func (s *Submitter) setStatus(hash common.Hash, status domain.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.pending[hash]; ok {
		tx.Status = status
		if status == domain.TxStatusConfirmed {
			tx.Confirmations = 1
		}
	}
}
