package item

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	collection = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	minter     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	receiver   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	itemID     = family.ItemID(collection, uint256.NewInt(1))
	window     = reduce.WindowConfig{ConfirmationDepth: 12, MaxRevertableEvents: 50}
)

func transferEvent(block uint64, from, to common.Address, value uint64) Event {
	tx := common.Hash{31: byte(block)}
	return Event{
		ID:      reduce.NewEventID(tx, 0, 0),
		Status:  reduce.StatusConfirmed,
		Lane:    reduce.LaneChain,
		Ordinal: reduce.Ordinal{BlockNumber: block},
		Seq:     block,
		TxHash:  tx,
		Source:  collection,
		Payload: Transfer{From: from, To: to, Value: amount.New(value)},
	}
}

func lazyEvent(seq uint64, p Payload) Event {
	return Event{
		ID:      reduce.EventID(fmt.Sprintf("lazy:%d", seq)),
		Status:  reduce.StatusConfirmed,
		Lane:    reduce.LaneLazy,
		Seq:     seq,
		Payload: p,
	}
}

func fold(t *testing.T, chain *Chain, ent Entity, events ...Event) Entity {
	t.Helper()
	next, _, errs := chain.Fold(ent, events)
	require.Empty(t, errs)
	return next
}

func newEntity() Entity {
	return NewCodec().NewEntity(itemID)
}

func TestNewState(t *testing.T) {
	s := NewState(itemID)
	require.Equal(t, collection, s.Token)
	require.Equal(t, uint256.NewInt(1), s.TokenID)
	require.True(t, s.Deleted)

	require.True(t, NewState("garbage").Deleted)
}

func TestItem_MintScenario(t *testing.T) {
	chain := NewChain(window, nil)
	mint := transferEvent(1, common.Address{}, minter, 10)

	ent := fold(t, chain, newEntity(), mint)
	require.Equal(t, amount.New(10), ent.State.Supply)
	require.Equal(t, amount.Balances{minter: amount.New(10)}, ent.State.Owners)
	require.False(t, ent.State.Deleted)

	t.Run("revert the mint", func(t *testing.T) {
		reverted := fold(t, chain, ent, mint.WithStatus(reduce.StatusReverted))
		require.Nil(t, reverted.State.Supply)
		require.Empty(t, reverted.State.Owners)
		require.True(t, reverted.State.Deleted)
		require.Equal(t, newEntity(), reverted)
	})

	t.Run("duplicate mint", func(t *testing.T) {
		twice := fold(t, chain, ent, mint)
		require.Equal(t, ent, twice)
	})
}

func TestItem_TransferScenario(t *testing.T) {
	chain := NewChain(window, nil)
	mint := transferEvent(1, common.Address{}, minter, 10)
	transfer := transferEvent(2, minter, receiver, 2)

	ent := fold(t, chain, newEntity(), mint, transfer)
	require.Equal(t, amount.Balances{minter: amount.New(8), receiver: amount.New(2)}, ent.State.Owners)
	require.Equal(t, amount.New(10), ent.State.Supply)
	require.Len(t, ent.RevertableEvents, 2)

	reverted := fold(t, chain, ent, transfer.WithStatus(reduce.StatusReverted))
	require.Equal(t, amount.Balances{minter: amount.New(10)}, reverted.State.Owners)
	require.Len(t, reverted.RevertableEvents, 1)
	require.Equal(t, mint.ID, reverted.RevertableEvents[0].ID)
}

func TestItem_Burn(t *testing.T) {
	chain := NewChain(window, nil)

	ent := fold(t, chain, newEntity(),
		transferEvent(1, common.Address{}, minter, 3),
		transferEvent(2, minter, common.Address{}, 3),
	)
	require.Equal(t, amount.New(3), ent.State.Minted)
	require.Equal(t, amount.New(3), ent.State.Burned)
	require.Nil(t, ent.State.Owners)
	require.True(t, ent.State.Deleted)
}

func TestItem_PendingKeepsItemAlive(t *testing.T) {
	chain := NewChain(window, nil)
	pending := transferEvent(1, common.Address{}, minter, 1).WithStatus(reduce.StatusPending)

	ent := fold(t, chain, newEntity(), pending)
	require.Nil(t, ent.State.Supply)
	require.False(t, ent.State.Deleted)

	ent = fold(t, chain, ent, pending.WithStatus(reduce.StatusConfirmed))
	require.Equal(t, amount.New(1), ent.State.Supply)
	require.Equal(t, reduce.Lifecycle{Applied: 1}, ent.Lifecycle)
}

func TestItem_LazySupply(t *testing.T) {
	chain := NewChain(window, nil)

	ent := fold(t, chain, newEntity(),
		lazyEvent(1, LazyMint{Owner: minter, Value: amount.New(5)}),
	)
	require.Equal(t, amount.New(5), ent.State.LazySupply)
	require.Equal(t, amount.New(5), ent.State.Supply)
	require.Empty(t, ent.RevertableEvents)

	// minting on chain consumes the lazy supply
	ent = fold(t, chain, ent, transferEvent(1, common.Address{}, minter, 2))
	require.Equal(t, amount.New(3), ent.State.LazySupply)
	require.Equal(t, amount.New(5), ent.State.Supply)

	ent = fold(t, chain, ent, lazyEvent(2, BurnLazyMint{From: minter, Value: amount.New(3)}))
	require.Nil(t, ent.State.LazySupply)
	require.Equal(t, amount.New(2), ent.State.Supply)
}

func TestItem_OutOfOrderRevert(t *testing.T) {
	chain := NewChain(window, nil)
	mint := transferEvent(1, common.Address{}, minter, 4)
	transfer := transferEvent(2, minter, receiver, 4)

	ent := fold(t, chain, newEntity(), mint, transfer)
	ent = fold(t, chain, ent, mint.WithStatus(reduce.StatusReverted))

	// the minter is transiently negative until the transfer is reverted too
	require.True(t, amount.IsNegative(ent.State.Owners.Of(minter)))
	require.Equal(t, amount.New(4), ent.State.Supply)

	ent = fold(t, chain, ent, transfer.WithStatus(reduce.StatusReverted))
	require.Equal(t, newEntity(), ent)
}

func TestItem_ReorgMovesMintToLowerBlock(t *testing.T) {
	chain := NewChain(window, nil)
	mint := transferEvent(12, common.Address{}, minter, 10)
	ent := fold(t, chain, newEntity(), mint)

	revert := mint.WithStatus(reduce.StatusReverted)
	revert.Seq = 20
	reincluded := mint
	reincluded.Ordinal = reduce.Ordinal{BlockNumber: 10}
	reincluded.Seq = 21

	batch := []Event{reincluded, revert}
	ent = fold(t, chain, ent, reduce.OrderBatch(ent, batch)...)
	require.Equal(t, amount.New(10), ent.State.Supply)
	require.Equal(t, amount.Balances{minter: amount.New(10)}, ent.State.Owners)
	require.Len(t, ent.RevertableEvents, 1)
	require.Equal(t, uint64(10), ent.RevertableEvents[0].Ordinal.BlockNumber)
}

func TestItem_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{name: "transfer without value", payload: Transfer{From: minter, To: receiver}},
		{name: "zero to zero", payload: Transfer{Value: amount.New(1)}},
		{name: "lazy mint without owner", payload: LazyMint{Value: amount.New(1)}},
		{name: "lazy burn without value", payload: BurnLazyMint{From: minter}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.payload.Validate())
		})
	}
}

func TestItem_CodecRoundTrip(t *testing.T) {
	chain := NewChain(window, nil)
	codec := NewCodec()

	ent := fold(t, chain, newEntity(),
		lazyEvent(1, LazyMint{Owner: minter, Value: amount.New(5)}),
		transferEvent(1, common.Address{}, minter, 10),
		transferEvent(2, minter, receiver, 2),
	)

	data, err := codec.Encode(ent)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, ent, decoded)
}
