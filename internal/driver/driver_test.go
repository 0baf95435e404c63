package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/internal/store"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	collection = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	itemA      = family.ItemID(collection, uint256.NewInt(1))
	itemB      = family.ItemID(collection, uint256.NewInt(2))
	window     = reduce.WindowConfig{ConfirmationDepth: 12, MaxRevertableEvents: 50}
)

func transfer(seq, block uint64, from, to common.Address, value uint64) item.Event {
	tx := common.Hash{30: byte(seq >> 8), 31: byte(seq)}
	return item.Event{
		ID:      reduce.NewEventID(tx, 0, 0),
		Status:  reduce.StatusConfirmed,
		Lane:    reduce.LaneChain,
		Ordinal: reduce.Ordinal{BlockNumber: block},
		Seq:     seq,
		TxHash:  tx,
		Source:  collection,
		Payload: item.Transfer{From: from, To: to, Value: amount.New(value)},
	}
}

func lazyMint(seq uint64, value uint64) item.Event {
	return item.Event{
		ID:      reduce.EventID(fmt.Sprintf("lazy:%d", seq)),
		Status:  reduce.StatusConfirmed,
		Lane:    reduce.LaneLazy,
		Seq:     seq,
		Payload: item.LazyMint{Owner: alice, Value: amount.New(value)},
	}
}

// fakeSource serves events per id and records the cursors it was asked for.
type fakeSource struct {
	mu        sync.Mutex
	confirmed map[string][]item.Event
	lazy      map[string][]item.Event
	fail      map[string]error
	asked     []uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		confirmed: make(map[string][]item.Event),
		lazy:      make(map[string][]item.Event),
		fail:      make(map[string]error),
	}
}

func (f *fakeSource) add(id string, events ...item.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		if ev.Lane == reduce.LaneLazy {
			f.lazy[id] = append(f.lazy[id], ev)
		} else {
			f.confirmed[id] = append(f.confirmed[id], ev)
		}
	}
}

func after(events []item.Event, seq uint64) []item.Event {
	var out []item.Event
	for _, ev := range events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSource) ConfirmedEvents(ctx context.Context, id string, afterSeq uint64) ([]item.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	f.asked = append(f.asked, afterSeq)
	return after(f.confirmed[id], afterSeq), ctx.Err()
}

func (f *fakeSource) LazyEvents(ctx context.Context, id string, afterSeq uint64) ([]item.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return after(f.lazy[id], afterSeq), ctx.Err()
}

// conflictStore fails the next n saves with a write conflict.
type conflictStore struct {
	*store.Memory[item.State, item.Payload]
	conflicts atomic.Int32
	saves     atomic.Int32
}

func (c *conflictStore) Save(ctx context.Context, ent item.Entity) (item.Entity, error) {
	c.saves.Add(1)
	if c.conflicts.Add(-1) >= 0 {
		return item.Entity{}, reduce.ErrWriteConflict
	}
	return c.Memory.Save(ctx, ent)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []item.Entity
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, _, updated item.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, updated)
	return r.err
}

type recordingScheduler struct {
	mu   sync.Mutex
	reqs []reduce.ReindexRequest
}

func (r *recordingScheduler) ScheduleReindex(_ context.Context, req reduce.ReindexRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

type harness struct {
	driver    *Driver[item.State, item.Payload]
	source    *fakeSource
	store     *conflictStore
	notifier  *recordingNotifier
	scheduler *recordingScheduler
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()

	cfg := config.ReducerConfig{Workers: 4, Retry: config.RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
		MaxBackoff:        internalcommon.NewDuration(2 * time.Millisecond),
		BackoffMultiplier: 2,
	}}

	h := &harness{
		source:    newFakeSource(),
		store:     &conflictStore{Memory: store.NewMemory(item.NewCodec())},
		notifier:  &recordingNotifier{},
		scheduler: &recordingScheduler{},
	}
	h.driver = New(Params[item.State, item.Payload]{
		Chain:    item.NewChain(window, nil),
		Codec:    item.NewCodec(),
		Source:   h.source,
		Store:    h.store,
		Notifier: h.notifier,
		Reindex:  h.scheduler,
	}, cfg, nil)
	return h
}

func TestDriver_Update(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	h.source.add(itemA,
		transfer(1, 100, common.Address{}, alice, 5),
		transfer(2, 101, alice, bob, 2),
		lazyMint(1, 8),
	)

	ent, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ent.Version)
	require.Equal(t, reduce.Cursor{Chain: 2, Lazy: 1}, ent.Cursor)
	require.Equal(t, uint64(8), ent.State.Supply.Uint64())
	require.Len(t, ent.RevertableEvents, 2)
	require.Len(t, h.notifier.calls, 1)

	t.Run("no new events leaves the entity alone", func(t *testing.T) {
		again, err := h.driver.Update(ctx, itemA)
		require.NoError(t, err)
		require.Equal(t, uint64(1), again.Version)
		require.Len(t, h.notifier.calls, 1)
	})

	t.Run("only newer records are read", func(t *testing.T) {
		h.source.add(itemA, transfer(3, 102, bob, common.Address{}, 2))

		next, err := h.driver.Update(ctx, itemA)
		require.NoError(t, err)
		require.Equal(t, uint64(2), next.Version)
		require.Equal(t, uint64(3), next.Cursor.Chain)
		require.Equal(t, uint64(6), next.State.Supply.Uint64())
		require.Equal(t, uint64(2), h.source.asked[len(h.source.asked)-1])
	})
}

func TestDriver_UpdateIsIdempotent(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	mint := transfer(1, 100, common.Address{}, alice, 5)
	h.source.add(itemA, mint)
	_, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)

	// the same record delivered again under a new sequence is a duplicate
	dup := mint
	dup.Seq = 2
	h.source.add(itemA, dup)

	ent, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)
	require.Equal(t, uint64(5), ent.State.Supply.Uint64())
	require.Len(t, ent.RevertableEvents, 1)
}

func TestDriver_RetriesWriteConflicts(t *testing.T) {
	h := newHarness(t, 5)
	h.store.conflicts.Store(2)
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5))

	ent, err := h.driver.Update(t.Context(), itemA)
	require.NoError(t, err)
	require.Equal(t, int32(3), h.store.saves.Load())
	require.Equal(t, uint64(5), ent.State.Supply.Uint64())
}

func TestDriver_RetryExhausted(t *testing.T) {
	h := newHarness(t, 3)
	h.store.conflicts.Store(100)
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5))

	_, err := h.driver.Update(t.Context(), itemA)
	require.Error(t, err)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, family.Item, exhausted.Family)
	require.Equal(t, itemA, exhausted.EntityID)
	require.True(t, exhausted.Retryable())
	require.ErrorIs(t, err, reduce.ErrWriteConflict)
	require.Equal(t, int32(3), h.store.saves.Load())
	require.Empty(t, h.notifier.calls)
}

func TestDriver_InvalidEventStillSaves(t *testing.T) {
	h := newHarness(t, 3)

	bad := transfer(2, 101, alice, bob, 1)
	bad.Payload = item.Transfer{From: alice, To: bob}
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5), bad)

	ent, err := h.driver.Update(t.Context(), itemA)
	require.ErrorIs(t, err, reduce.ErrInvalidPayload)

	var verr *reduce.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, bad.ID, verr.EventID)

	require.Equal(t, uint64(1), ent.Version)
	require.Equal(t, uint64(5), ent.State.Supply.Uint64())
	require.Equal(t, uint64(2), ent.Cursor.Chain)
}

func TestDriver_RevertBeyondWindowSchedulesReindex(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	ent, err := h.store.CreateIfAbsent(ctx, itemA)
	require.NoError(t, err)
	ent.Baseline = &reduce.Ordinal{BlockNumber: 100}
	_, err = h.store.Memory.Save(ctx, ent)
	require.NoError(t, err)

	lost := transfer(1, 50, common.Address{}, alice, 5).WithStatus(reduce.StatusReverted)
	orphan := transfer(2, 200, common.Address{}, alice, 5).WithStatus(reduce.StatusReverted)
	h.source.add(itemA, lost, orphan)

	_, err = h.driver.Update(ctx, itemA)
	require.NoError(t, err)

	require.Len(t, h.scheduler.reqs, 1)
	req := h.scheduler.reqs[0]
	require.Equal(t, family.Item, req.Family)
	require.Equal(t, itemA, req.EntityID)
	require.Equal(t, lost.ID, req.EventID)
	require.Equal(t, lost.Ordinal, req.Ordinal)
}

func TestDriver_ReorgReincludesEventAtLowerBlock(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	mint := transfer(1, 112, common.Address{}, alice, 10)
	h.source.add(itemA, mint)
	_, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)

	// the reorg drops the log at 112 and the new branch includes it at 110
	revert := mint.WithStatus(reduce.StatusReverted)
	revert.Seq = 2
	reincluded := mint
	reincluded.Ordinal = reduce.Ordinal{BlockNumber: 110}
	reincluded.Seq = 3
	h.source.add(itemA, reincluded, revert)

	ent, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ent.State.Supply.Uint64())
	require.Len(t, ent.RevertableEvents, 1)
	require.Equal(t, uint64(110), ent.RevertableEvents[0].Ordinal.BlockNumber)
	require.Equal(t, uint64(3), ent.Cursor.Chain)
	require.Empty(t, h.scheduler.reqs)
}

func TestDriver_NotifyErrorDoesNotFailUpdate(t *testing.T) {
	h := newHarness(t, 3)
	h.notifier.err = errors.New("broker down")
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5))

	ent, err := h.driver.Update(t.Context(), itemA)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ent.Version)
}

func TestDriver_Rebuild(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	h.source.add(itemA,
		transfer(1, 100, common.Address{}, alice, 5),
		transfer(2, 101, alice, bob, 2),
	)
	_, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)
	h.source.add(itemA, transfer(3, 102, bob, alice, 1))
	incremental, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)

	rebuilt, err := h.driver.Rebuild(ctx, itemA)
	require.NoError(t, err)
	require.Equal(t, incremental.Version+1, rebuilt.Version)
	require.Equal(t, incremental.Cursor, rebuilt.Cursor)
	require.Equal(t, incremental.State.Supply.Uint64(), rebuilt.State.Supply.Uint64())
	require.Equal(t, incremental.State.Owners, rebuilt.State.Owners)
	require.Len(t, rebuilt.RevertableEvents, len(incremental.RevertableEvents))
	require.Empty(t, h.scheduler.reqs)
}

func TestDriver_CompactionArchivesEvicted(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	h.source.add(itemA,
		transfer(1, 100, common.Address{}, alice, 5),
		transfer(2, 200, alice, bob, 1),
	)
	ent, err := h.driver.Update(ctx, itemA)
	require.NoError(t, err)
	require.Len(t, ent.RevertableEvents, 1)
	require.Equal(t, &reduce.Ordinal{BlockNumber: 100}, ent.Baseline)
	require.Empty(t, ent.Evicted)

	archived, err := h.store.Archived(ctx, itemA)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, uint64(100), archived[0].Ordinal.BlockNumber)
}

func TestDriver_UpdateBatch(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	broken := family.ItemID(collection, uint256.NewInt(3))
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5))
	h.source.add(itemB, transfer(2, 100, common.Address{}, bob, 7))
	h.source.fail[broken] = errors.New("source unavailable")

	results, err := h.driver.UpdateBatch(ctx, []string{itemA, itemB, broken, itemA})
	require.ErrorContains(t, err, "source unavailable")
	require.ErrorContains(t, err, broken)

	require.Len(t, results, 2)
	require.Equal(t, uint64(5), results[itemA].State.Supply.Uint64())
	require.Equal(t, uint64(7), results[itemB].State.Supply.Uint64())
	require.Len(t, h.notifier.calls, 2)
}

func TestDriver_ConcurrentUpdatesOfOneID(t *testing.T) {
	h := newHarness(t, 3)
	ctx := t.Context()

	const n = 20
	for i := uint64(1); i <= n; i++ {
		h.source.add(itemA, transfer(i, 100+i, common.Address{}, alice, 1))
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := h.driver.Update(ctx, itemA)
			require.NoError(t, err)
		})
	}
	wg.Wait()

	ent, err := h.store.Get(ctx, itemA)
	require.NoError(t, err)
	require.Equal(t, uint64(n), ent.State.Supply.Uint64())
	require.Equal(t, uint64(1), ent.Version)
	require.Equal(t, 0, h.driver.locks.size())
}

func TestDriver_CancelledContext(t *testing.T) {
	h := newHarness(t, 3)
	h.source.add(itemA, transfer(1, 100, common.Address{}, alice, 5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.driver.Update(ctx, itemA)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDriver_RebuildIDsIgnoresInvalidEvents(t *testing.T) {
	h := newHarness(t, 3)

	bad := transfer(1, 100, common.Address{}, alice, 5)
	bad.Payload = item.Transfer{To: alice}
	h.source.add(itemA, bad)
	h.source.add(itemB, transfer(2, 100, common.Address{}, bob, 1))

	require.NoError(t, h.driver.RebuildIDs(t.Context(), []string{itemA, itemB}))

	ent, err := h.store.Get(t.Context(), itemB)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ent.State.Supply.Uint64())
}
