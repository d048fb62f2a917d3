package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// simTx is a transaction accepted by the simulated network.
type simTx struct {
	tx          *types.Transaction
	submittedAt time.Time
	revert      bool
	drop        bool
}

// SimClient is an in-memory RPCClient for simulation mode and tests. It mines
// every accepted transaction after a fixed delay unless told to revert or
// drop it. All mutators are safe for concurrent use.
type SimClient struct {
	mu           sync.Mutex
	nonces       map[common.Address]uint64
	balances     map[common.Address]*big.Int
	txs          map[common.Hash]*simTx
	byNonce      map[uint64]common.Hash
	confirmAfter time.Duration
	gasPrice     *big.Int

	failSends  int
	revertNext int
	dropNext   int
}

// NewSimClient creates a simulated network that mines transactions after
// confirmAfter.
func NewSimClient(confirmAfter time.Duration) *SimClient {
	return &SimClient{
		nonces:       make(map[common.Address]uint64),
		balances:     make(map[common.Address]*big.Int),
		txs:          make(map[common.Hash]*simTx),
		byNonce:      make(map[uint64]common.Hash),
		confirmAfter: confirmAfter,
		gasPrice:     big.NewInt(20_000_000_000),
	}
}

// SeedNonce sets the pending nonce reported for an account.
func (c *SimClient) SeedNonce(account common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[account] = nonce
}

// SetBalance sets the balance reported for an account.
func (c *SimClient) SetBalance(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(wei)
}

// SetGasPrice sets the suggested gas price.
func (c *SimClient) SetGasPrice(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(wei)
}

// FailSends makes the next n SendTransaction calls fail with a transient
// error.
func (c *SimClient) FailSends(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSends = n
}

// RevertNext makes the next n accepted transactions mine with a failed
// receipt.
func (c *SimClient) RevertNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertNext = n
}

// DropNext makes the next n accepted transactions never mine, so callers
// observe a confirmation timeout.
func (c *SimClient) DropNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropNext = n
}

// PendingNonceAt returns the seeded nonce plus accepted transactions.
func (c *SimClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// SendTransaction accepts the transaction into the simulated mempool. A
// same-nonce resubmission replaces the earlier transaction, mirroring
// replacement semantics on a real node.
func (c *SimClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failSends > 0 {
		c.failSends--
		return &simSendError{}
	}

	st := &simTx{tx: tx, submittedAt: time.Now()}
	if c.revertNext > 0 {
		c.revertNext--
		st.revert = true
	}
	if c.dropNext > 0 {
		c.dropNext--
		st.drop = true
	}

	if prev, ok := c.byNonce[tx.Nonce()]; ok {
		// Replaced: the earlier tx will never produce a receipt.
		c.txs[prev].drop = true
	}
	c.byNonce[tx.Nonce()] = tx.Hash()
	c.txs[tx.Hash()] = st
	return nil
}

// TransactionReceipt reports NotFound until the confirm delay elapses, then a
// success or revert receipt.
func (c *SimClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.txs[txHash]
	if !ok || st.drop {
		return nil, ethereum.NotFound
	}
	if time.Since(st.submittedAt) < c.confirmAfter {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if st.revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:  status,
		TxHash:  txHash,
		GasUsed: st.tx.Gas(),
	}, nil
}

// SuggestGasPrice returns the configured gas price.
func (c *SimClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

// BalanceAt returns the seeded balance, defaulting to a funded account so
// simulation runs do not trip balance checks.
func (c *SimClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)), nil
}

// Accepted returns how many transactions the simulated network accepted.
func (c *SimClient) Accepted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

type simSendError struct{}

func (e *simSendError) Error() string { return "sim: transient send failure" }

var _ RPCClient = (*SimClient)(nil)
