package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// nonceState tracks allocation for one account. Invariant: the set of
// allocated-but-unconfirmed nonces is contiguous from the last confirmed
// nonce; no two in-flight transactions from the account share a nonce.
type nonceState struct {
	mu          sync.Mutex
	initialized bool
	next        uint64
	// outstanding maps allocated nonce -> broadcast flag. A nonce is
	// removed on confirmation; a false flag means it was allocated but
	// never handed to the network.
	outstanding map[uint64]bool
}

// NonceSequencer owns per-account monotonic nonce allocation. Allocation is
// strictly serialized per account even though coordinators run concurrently;
// across accounts no ordering is implied.
type NonceSequencer struct {
	mu       sync.Mutex
	accounts map[common.Address]*nonceState
	rpc      RPCClient
	logger   *slog.Logger
}

// NewNonceSequencer creates a sequencer that seeds each account's first
// nonce from the node's pending nonce.
func NewNonceSequencer(rpc RPCClient, logger *slog.Logger) *NonceSequencer {
	return &NonceSequencer{
		accounts: make(map[common.Address]*nonceState),
		rpc:      rpc,
		logger:   logger.With(slog.String("component", "nonce_sequencer")),
	}
}

// Allocate reserves the next nonce for the account. The first allocation for
// an account fetches the pending nonce from the node; subsequent allocations
// are purely local and gap-free.
func (s *NonceSequencer) Allocate(ctx context.Context, account common.Address) (uint64, error) {
	st := s.state(account)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.initialized {
		pending, err := s.rpc.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, &domain.NetworkError{Op: "pending nonce at " + account.Hex(), Err: err}
		}
		st.next = pending
		st.initialized = true
	}

	nonce := st.next
	st.next++
	st.outstanding[nonce] = false

	s.logger.Debug("nonce allocated",
		slog.String("account", account.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return nonce, nil
}

// MarkBroadcast records that the transaction holding the nonce has been
// handed to the network. After this point the nonce can never be re-issued.
func (s *NonceSequencer) MarkBroadcast(account common.Address, nonce uint64) error {
	st := s.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.outstanding[nonce]; !ok {
		return fmt.Errorf("chain: mark broadcast nonce %d for %s: %w", nonce, account.Hex(), domain.ErrNonceNotAllocated)
	}
	st.outstanding[nonce] = true
	return nil
}

// Release returns an abandoned nonce to the allocator. It is only safe when
// the nonce was never broadcast and is the most recently allocated one;
// otherwise the allocator keeps it reserved (re-issuing a possibly-broadcast
// nonce or opening a gap would corrupt account ordering) and returns an error
// describing why.
func (s *NonceSequencer) Release(account common.Address, nonce uint64) error {
	st := s.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	broadcast, ok := st.outstanding[nonce]
	if !ok {
		return fmt.Errorf("chain: release nonce %d for %s: %w", nonce, account.Hex(), domain.ErrNonceNotAllocated)
	}
	if broadcast {
		return fmt.Errorf("chain: release nonce %d for %s: %w", nonce, account.Hex(), domain.ErrNonceBroadcast)
	}
	if nonce != st.next-1 {
		// Not the tip: releasing would gap the sequence. Keep it reserved;
		// a later confirmation sweep reconciles.
		return fmt.Errorf("chain: release nonce %d for %s: not the latest allocation", nonce, account.Hex())
	}

	delete(st.outstanding, nonce)
	st.next--
	s.logger.Debug("nonce released",
		slog.String("account", account.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return nil
}

// Confirm removes a nonce from the outstanding set once its transaction
// reached a terminal on-chain state (mined or replaced).
func (s *NonceSequencer) Confirm(account common.Address, nonce uint64) {
	st := s.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.outstanding, nonce)
}

// Outstanding returns the count of allocated-but-unconfirmed nonces for the
// account.
func (s *NonceSequencer) Outstanding(account common.Address) int {
	st := s.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.outstanding)
}

func (s *NonceSequencer) state(account common.Address) *nonceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[account]
	if !ok {
		st = &nonceState{outstanding: make(map[uint64]bool)}
		s.accounts[account] = st
	}
	return st
}
