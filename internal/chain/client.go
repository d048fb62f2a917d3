// Package chain owns everything that touches the ledger: nonce allocation,
// transaction signing and submission, confirmation polling, and
// cancel-by-replacement. All external calls carry timeouts; there is no
// unbounded wait in this package.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCClient is the narrow slice of an Ethereum JSON-RPC client the package
// needs. It is implemented by EthClient for live networks and by SimClient
// for simulation mode and tests.
type RPCClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EthClient adapts go-ethereum's ethclient to RPCClient.
type EthClient struct {
	ec *ethclient.Client
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rawurl string) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rawurl, err)
	}
	return &EthClient{ec: ec}, nil
}

// PendingNonceAt returns the account's next nonce including pending txs.
func (c *EthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.ec.PendingNonceAt(ctx, account)
}

// SendTransaction broadcasts a signed transaction.
func (c *EthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ec.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt for a mined transaction, or
// ethereum.NotFound while it is still pending.
func (c *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ec.TransactionReceipt(ctx, txHash)
}

// SuggestGasPrice returns the node's current gas price estimate.
func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

// BalanceAt returns the account balance at the given block (nil = latest).
func (c *EthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.ec.BalanceAt(ctx, account, blockNumber)
}

// Close tears down the underlying connection.
func (c *EthClient) Close() {
	c.ec.Close()
}

var _ RPCClient = (*EthClient)(nil)
