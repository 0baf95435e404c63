package reduce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func foldConfirmed(t *testing.T, chain *Chain[ledgerState, ledgerPayload], blocks ...uint64) ledgerEntity {
	t.Helper()

	events := make([]ledgerEvent, 0, len(blocks))
	for _, block := range blocks {
		events = append(events, chainEvent(block, 0, StatusConfirmed, deposit{Account: "alice", Amount: 1}))
	}
	ent, _, errs := chain.Fold(newLedgerEntity(), events)
	require.Empty(t, errs)
	return ent
}

func blocksOf(events []ledgerEvent) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Ordinal.BlockNumber)
	}
	return out
}

func TestWindow_EvictsByConfirmationDepth(t *testing.T) {
	chain := newLedgerChain(WindowConfig{ConfirmationDepth: 2})

	ent := foldConfirmed(t, chain, 1, 2, 3, 4)

	require.Equal(t, []uint64{2, 3, 4}, blocksOf(ent.RevertableEvents))
	require.Equal(t, []uint64{1}, blocksOf(ent.Evicted))
	require.Equal(t, &Ordinal{BlockNumber: 1}, ent.Baseline)
	require.Equal(t, int64(4), ent.State.Total)
}

func TestWindow_CapCompactsOldestConfirmed(t *testing.T) {
	chain := newLedgerChain(WindowConfig{ConfirmationDepth: 100, MaxRevertableEvents: 3})

	ent := foldConfirmed(t, chain, 1, 2, 3, 4, 5)

	require.Equal(t, []uint64{3, 4, 5}, blocksOf(ent.RevertableEvents))
	require.Equal(t, []uint64{1, 2}, blocksOf(ent.Evicted))
	require.Equal(t, &Ordinal{BlockNumber: 2}, ent.Baseline)
	require.Equal(t, int64(5), ent.State.Total)
}

func TestWindow_NeverEvictsPending(t *testing.T) {
	chain := newLedgerChain(WindowConfig{ConfirmationDepth: 0, MaxRevertableEvents: 2})

	ent, _, errs := chain.Fold(newLedgerEntity(), []ledgerEvent{
		chainEvent(1, 0, StatusPending, deposit{Account: "alice", Amount: 1}),
		chainEvent(2, 0, StatusPending, deposit{Account: "alice", Amount: 1}),
	})
	require.Empty(t, errs)
	require.True(t, chain.Window().Skipped(ent))

	ent, _, err := chain.Reduce(ent, chainEvent(30, 0, StatusConfirmed, deposit{Account: "bob", Amount: 1}))
	require.NoError(t, err)
	require.Len(t, ent.RevertableEvents, 3)
	require.Empty(t, ent.Evicted)
	require.Nil(t, ent.Baseline)
	require.Equal(t, 2, ent.Lifecycle.Pending)
}

func TestWindow_MaybeCompactIsTransparentAndIdempotent(t *testing.T) {
	wide := newLedgerChain(WindowConfig{ConfirmationDepth: 100})
	ent := foldConfirmed(t, wide, 1, 2, 10, 20)
	require.Len(t, ent.RevertableEvents, 4)

	narrow := newLedgerChain(WindowConfig{ConfirmationDepth: 5})
	before := ent.Clone()

	once := narrow.MaybeCompact(ent)
	require.Equal(t, before, ent, "input entity must not change")
	require.Equal(t, ent.State, once.State)
	require.Equal(t, []uint64{20}, blocksOf(once.RevertableEvents))
	require.Equal(t, []uint64{1, 2, 10}, blocksOf(once.Evicted))

	twice := narrow.MaybeCompact(once)
	require.Equal(t, once, twice)
}

func TestWindow_MaybeCompactWithoutWindow(t *testing.T) {
	chain := NewChain[ledgerState, ledgerPayload](testFamily, nil, ledgerValueStep())
	require.Nil(t, chain.Window())

	ent := foldConfirmed(t, chain, 1, 2)
	require.Equal(t, ent, chain.MaybeCompact(ent))
}

func TestWindow_BaselineDecisions(t *testing.T) {
	chain := newLedgerChain(WindowConfig{ConfirmationDepth: 2})
	ent := foldConfirmed(t, chain, 1, 2, 3, 4)
	require.Equal(t, &Ordinal{BlockNumber: 1}, ent.Baseline)

	evicted := chainEvent(1, 0, StatusConfirmed, deposit{Account: "alice", Amount: 1})

	redelivered, verdict, err := chain.Reduce(ent, evicted)
	require.NoError(t, err)
	require.Equal(t, SkipDuplicate, verdict.Decision)
	require.Equal(t, ent, redelivered)

	reverted, verdict, err := chain.Reduce(ent, evicted.WithStatus(StatusReverted))
	require.NoError(t, err)
	require.Equal(t, Reject, verdict.Decision)
	require.True(t, verdict.Reindex)
	require.Equal(t, ent, reverted)
}
