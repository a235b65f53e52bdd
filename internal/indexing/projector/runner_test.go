package projector

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/stakeplay/internal/core/cursor"
	"github.com/vietddude/stakeplay/internal/core/domain"
	"github.com/vietddude/stakeplay/internal/infra/ledger"
	"github.com/vietddude/stakeplay/internal/infra/ledger/simulated"
	"github.com/vietddude/stakeplay/internal/infra/storage/memory"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000f1")

func submit(t *testing.T, l *simulated.Ledger, from common.Address, op ledger.Operation) {
	t.Helper()
	ctx := context.Background()
	nonce, err := l.NextNonce(ctx, from)
	require.NoError(t, err)
	h, err := l.Submit(ctx, from, op, nonce)
	require.NoError(t, err)
	_, err = l.AwaitConfirmation(ctx, h)
	require.NoError(t, err)
}

func createMatch(t *testing.T, l *simulated.Ledger, name string) domain.MatchID {
	t.Helper()
	id := domain.DeriveMatchID(name)
	submit(t, l, owner, ledger.Operation{Kind: ledger.OpCreateMatch, MatchID: id, Player1: alice, Player2: bob, Amount: big.NewInt(10)})
	return id
}

type harness struct {
	ledger  *simulated.Ledger
	store   *memory.MemoryStorage
	cursors cursor.Manager
	runner  *Runner
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, l *simulated.Ledger, store *memory.MemoryStorage, cfg RunnerConfig) *harness {
	t.Helper()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.Contracts = []common.Address{simulated.GameAddress, simulated.StoreAddress}
	cursors := cursor.NewManager(store.Cursors())
	r := NewRunner(l, ledger.NewLogDecoder(simulated.GameAddress, simulated.StoreAddress), New(store), cursors, cfg)
	return &harness{ledger: l, store: store, cursors: cursors, runner: r}
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.runner.Run(ctx) }()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func (h *harness) waitForMatch(t *testing.T, id domain.MatchID) *domain.MatchRecord {
	t.Helper()
	var rec *domain.MatchRecord
	require.Eventually(t, func() bool {
		rec, _ = h.store.Matches().Get(context.Background(), id)
		return rec != nil
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func (h *harness) waitForCursor(t *testing.T, block uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := h.cursors.Get(context.Background(), cursor.StreamProjector)
		return err == nil && c.BlockNumber >= block
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunner_ProjectsFeedAndCheckpoints(t *testing.T) {
	l := simulated.New(owner)
	h := newHarness(t, l, memory.NewMemoryStorage(), RunnerConfig{})
	id := createMatch(t, l, "feed")

	h.start()
	defer h.stop(t)

	rec := h.waitForMatch(t, id)
	assert.Equal(t, alice, rec.Player1)

	head, _ := l.LatestBlock(context.Background())
	h.waitForCursor(t, head)
	require.Eventually(t, func() bool { return h.runner.Status().Cursor == head }, time.Second, 5*time.Millisecond)
	assert.True(t, h.runner.Status().Running)

	// Live events after startup.
	id2 := createMatch(t, l, "live")
	h.waitForMatch(t, id2)
}

func TestRunner_UndecodableLogHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	h := newHarness(t, simulated.New(owner), store, RunnerConfig{})
	_, err := h.cursors.Initialize(ctx, cursor.StreamProjector, 3)
	require.NoError(t, err)

	id := domain.DeriveMatchID("garbled")
	good, err := ledger.EncodeLog(domain.EventTypeMatchCreated, simulated.GameAddress, id, alice, bob, big.NewInt(10))
	require.NoError(t, err)
	good.TxHash, good.BlockNumber = common.HexToHash("0x01"), 4
	bad := ledger.RawLog{
		Contract:    simulated.GameAddress,
		Topics:      []common.Hash{ledger.EventID(domain.EventTypeStaked), common.Hash(id)},
		Data:        []byte{0x01, 0x02},
		TxHash:      common.HexToHash("0x02"),
		LogIndex:    1,
		BlockNumber: 5,
	}

	err = h.runner.process(ctx, ledger.Batch{FromBlock: 4, ToBlock: 5, Logs: []ledger.RawLog{good, bad}})
	require.Error(t, err)

	c, err := h.cursors.Get(ctx, cursor.StreamProjector)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c.BlockNumber, "the batch is not checkpointed")

	rec, _ := store.Matches().Get(ctx, id)
	require.NotNil(t, rec, "logs before the bad one are still projected")
	n, _ := store.Events().Count(ctx)
	assert.Equal(t, 1, n)
}

func TestRunner_ResumesAfterFeedFailure(t *testing.T) {
	l := simulated.New(owner)
	h := newHarness(t, l, memory.NewMemoryStorage(), RunnerConfig{})

	h.start()
	defer h.stop(t)

	first := createMatch(t, l, "before")
	h.waitForMatch(t, first)

	l.BreakFeed(errors.New("connection reset"))
	second := createMatch(t, l, "after")
	h.waitForMatch(t, second)

	require.Eventually(t, func() bool { return h.runner.Status().Resubscribes >= 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.runner.Status().LastError, "connection reset")

	n, _ := h.store.Events().Count(context.Background())
	assert.Equal(t, 2, n)
}

func TestRunner_RestartResumesFromCursor(t *testing.T) {
	l := simulated.New(owner)
	store := memory.NewMemoryStorage()

	h := newHarness(t, l, store, RunnerConfig{})
	h.start()
	first := createMatch(t, l, "first-run")
	h.waitForMatch(t, first)
	head, _ := l.LatestBlock(context.Background())
	h.waitForCursor(t, head)
	h.stop(t)

	// Events mined while the process was down are picked up on restart.
	second := createMatch(t, l, "while-down")

	h2 := newHarness(t, l, store, RunnerConfig{})
	h2.start()
	defer h2.stop(t)
	h2.waitForMatch(t, second)

	n, _ := store.Events().Count(context.Background())
	assert.Equal(t, 2, n)
}

func TestRunner_StartBlockSkipsEarlierHistory(t *testing.T) {
	l := simulated.New(owner)
	skipped := createMatch(t, l, "history")
	head, _ := l.LatestBlock(context.Background())

	h := newHarness(t, l, memory.NewMemoryStorage(), RunnerConfig{StartBlock: head + 1})
	h.start()
	defer h.stop(t)

	wanted := createMatch(t, l, "fresh")
	h.waitForMatch(t, wanted)

	rec, _ := h.store.Matches().Get(context.Background(), skipped)
	assert.Nil(t, rec)
}

func TestRunner_ReplaysBeforeSubscribing(t *testing.T) {
	ctx := context.Background()
	l := simulated.New(owner)
	store := memory.NewMemoryStorage()

	_, err := store.Events().Append(ctx, &domain.LedgerEvent{
		Key:          domain.EventKey{TxHash: common.HexToHash("0x01")},
		Type:         domain.EventTypeMatchCreated,
		MatchID:      m1,
		Player:       alice,
		Counterparty: bob,
		Amount:       big.NewInt(10),
	})
	require.NoError(t, err)

	h := newHarness(t, l, store, RunnerConfig{})
	h.start()
	defer h.stop(t)

	h.waitForMatch(t, m1)
}
