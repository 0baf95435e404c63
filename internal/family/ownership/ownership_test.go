package ownership

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	collection = common.HexToAddress("0x76BE3b62873462d2142405439777e971754E8E77")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenID    = uint256.NewInt(7)
	window     = reduce.WindowConfig{ConfirmationDepth: 12, MaxRevertableEvents: 50}
)

func transferEvent(block uint64, from, to common.Address, value uint64) Event {
	tx := common.Hash{31: byte(block)}
	return Event{
		ID:      reduce.NewEventID(tx, 1, 0),
		Status:  reduce.StatusConfirmed,
		Lane:    reduce.LaneChain,
		Ordinal: reduce.Ordinal{BlockNumber: block, LogIndex: 1},
		Seq:     block,
		TxHash:  tx,
		Source:  collection,
		Payload: item.Transfer{From: from, To: to, Value: amount.New(value)},
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

func newEntity(holder common.Address) Entity {
	return NewCodec().NewEntity(family.OwnershipID(collection, tokenID, holder))
}

func fold(t *testing.T, ent Entity, events ...Event) Entity {
	t.Helper()
	next, _, errs := NewChain(window, nil).Fold(ent, events)
	require.Empty(t, errs)
	return next
}

func TestNewState(t *testing.T) {
	s := NewState(family.OwnershipID(collection, tokenID, owner))
	require.Equal(t, collection, s.Token)
	require.Equal(t, tokenID, s.TokenID)
	require.Equal(t, owner, s.Owner)
	require.True(t, s.Deleted)

	require.True(t, NewState(family.ItemID(collection, tokenID)).Deleted)
}

func TestOwnership_Transfers(t *testing.T) {
	mint := transferEvent(1, common.Address{}, owner, 10)
	transfer := transferEvent(2, owner, other, 2)

	tests := []struct {
		name    string
		holder  common.Address
		value   *uint256.Int
		deleted bool
	}{
		{name: "sender keeps the rest", holder: owner, value: amount.New(8)},
		{name: "receiver gets the transfer", holder: other, value: amount.New(2)},
		{name: "unrelated holder", holder: common.HexToAddress("0xcc"), deleted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := fold(t, newEntity(tt.holder), mint, transfer)
			require.Equal(t, tt.value, ent.State.Value)
			require.Equal(t, tt.deleted, ent.State.Deleted)
		})
	}
}

func TestOwnership_RevertRestoresZero(t *testing.T) {
	mint := transferEvent(1, common.Address{}, owner, 3)

	ent := fold(t, newEntity(owner), mint)
	require.Equal(t, amount.New(3), ent.State.Balance)
	require.Equal(t, amount.New(3), ent.State.MintedTo)

	ent = fold(t, ent, mint.WithStatus(reduce.StatusReverted))
	require.Equal(t, newEntity(owner), ent)
}

func TestOwnership_NegativeBalanceIsNotValue(t *testing.T) {
	// the outgoing transfer is seen before the incoming one
	ent := fold(t, newEntity(owner), transferEvent(5, owner, other, 4))
	require.True(t, amount.IsNegative(ent.State.Balance))
	require.Nil(t, ent.State.Value)
	require.True(t, ent.State.Deleted)

	ent = fold(t, ent, transferEvent(3, other, owner, 6))
	require.Equal(t, amount.New(2), ent.State.Value)
	require.False(t, ent.State.Deleted)
}

func TestOwnership_LazyValue(t *testing.T) {
	ent := fold(t, newEntity(owner),
		lazyEvent(1, item.LazyMint{Owner: owner, Value: amount.New(5)}),
		lazyEvent(2, item.LazyMint{Owner: other, Value: amount.New(9)}),
	)
	require.Equal(t, amount.New(5), ent.State.LazyValue)
	require.Equal(t, amount.New(5), ent.State.Value)

	// redeeming on chain moves value from the lazy part to the balance
	ent = fold(t, ent, transferEvent(1, common.Address{}, owner, 2))
	require.Equal(t, amount.New(3), ent.State.LazyValue)
	require.Equal(t, amount.New(5), ent.State.Value)

	ent = fold(t, ent, lazyEvent(3, item.BurnLazyMint{From: owner, Value: amount.New(3)}))
	require.Nil(t, ent.State.LazyValue)
	require.Equal(t, amount.New(2), ent.State.Value)
}

func TestOwnership_Pending(t *testing.T) {
	pending := transferEvent(1, common.Address{}, owner, 1).WithStatus(reduce.StatusPending)

	ent := fold(t, newEntity(owner), pending)
	require.Nil(t, ent.State.Value)
	require.False(t, ent.State.Deleted)

	ent = fold(t, ent, pending.WithStatus(reduce.StatusReverted))
	require.True(t, ent.State.Deleted)
	require.Empty(t, ent.RevertableEvents)
}

func TestOwnership_CodecRoundTrip(t *testing.T) {
	codec := NewCodec()
	ent := fold(t, newEntity(owner),
		lazyEvent(1, item.LazyMint{Owner: owner, Value: amount.New(5)}),
		transferEvent(1, common.Address{}, owner, 10),
	)

	data, err := codec.Encode(ent)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, ent, decoded)
}
