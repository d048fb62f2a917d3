package chain

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNonceSequencerContiguousUnderConcurrency(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sim.SeedNonce(account, 42)

	seq := NewNonceSequencer(sim, testLogger())

	const n = 64
	var (
		mu     sync.Mutex
		nonces []uint64
		wg     sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := seq.Allocate(context.Background(), account)
			require.NoError(t, err)
			mu.Lock()
			nonces = append(nonces, nonce)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, nonces, n)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		assert.Equal(t, uint64(42+i), nonce, "sequence must be gap-free and duplicate-free")
	}
	assert.Equal(t, n, seq.Outstanding(account))
}

func TestNonceSequencerSeedsFromPendingOnce(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x2222222222222222222222222222222222222222")
	sim.SeedNonce(account, 7)

	seq := NewNonceSequencer(sim, testLogger())

	first, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), first)

	// Moving the node's pending nonce must not affect local allocation.
	sim.SeedNonce(account, 99)
	second, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), second)
}

func TestNonceSequencerReleaseTip(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x3333333333333333333333333333333333333333")
	seq := NewNonceSequencer(sim, testLogger())

	nonce, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)

	require.NoError(t, seq.Release(account, nonce))
	assert.Zero(t, seq.Outstanding(account))

	// The released nonce is handed out again.
	again, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, nonce, again)
}

func TestNonceSequencerReleaseRefusedAfterBroadcast(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x4444444444444444444444444444444444444444")
	seq := NewNonceSequencer(sim, testLogger())

	nonce, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, seq.MarkBroadcast(account, nonce))

	err = seq.Release(account, nonce)
	require.ErrorIs(t, err, domain.ErrNonceBroadcast)
	assert.Equal(t, 1, seq.Outstanding(account))
}

func TestNonceSequencerReleaseRefusedWhenNotTip(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x5555555555555555555555555555555555555555")
	seq := NewNonceSequencer(sim, testLogger())

	first, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	_, err = seq.Allocate(context.Background(), account)
	require.NoError(t, err)

	require.Error(t, seq.Release(account, first))
	assert.Equal(t, 2, seq.Outstanding(account))
}

func TestNonceSequencerConfirmShrinksOutstanding(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x6666666666666666666666666666666666666666")
	seq := NewNonceSequencer(sim, testLogger())

	nonce, err := seq.Allocate(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, seq.MarkBroadcast(account, nonce))

	seq.Confirm(account, nonce)
	assert.Zero(t, seq.Outstanding(account))
}

func TestNonceSequencerMarkBroadcastUnknownNonce(t *testing.T) {
	sim := NewSimClient(time.Millisecond)
	account := common.HexToAddress("0x7777777777777777777777777777777777777777")
	seq := NewNonceSequencer(sim, testLogger())

	err := seq.MarkBroadcast(account, 5)
	require.ErrorIs(t, err, domain.ErrNonceNotAllocated)
}
