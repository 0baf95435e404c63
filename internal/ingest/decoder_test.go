package ingest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainReducer/internal/eventlog"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/internal/family/order"
	"github.com/goran-ethernal/ChainReducer/internal/family/token"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	collection = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	exchange   = common.HexToAddress("0x9757F2d2b135150BBeb65308D4a91804107cd8D6")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	orderHash  = common.HexToHash("0x0badc0de")
)

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func newLog(address common.Address, block uint64, topics []common.Hash, data []byte) types.Log {
	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.HexToHash("0xb10c"),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       2,
	}
}

func erc721Transfer(block uint64, from, to common.Address, tokenID int64) types.Log {
	return newLog(collection, block, []common.Hash{
		TopicTransfer, addressTopic(from), addressTopic(to), common.BigToHash(big.NewInt(tokenID)),
	}, nil)
}

func transferSingle(t *testing.T, block uint64, from, to common.Address, tokenID, value int64) types.Log {
	t.Helper()
	data, err := singleArgs.Pack(big.NewInt(tokenID), big.NewInt(value))
	require.NoError(t, err)
	return newLog(collection, block, []common.Hash{
		TopicTransferSingle, addressTopic(alice), addressTopic(from), addressTopic(to),
	}, data)
}

func decodeItem(t *testing.T, rec eventlog.Record) item.Transfer {
	t.Helper()
	p, err := item.Payloads.Decode(rec.Kind, rec.Payload)
	require.NoError(t, err)
	transfer, ok := p.(item.Transfer)
	require.True(t, ok)
	return transfer
}

func TestDecoder_ERC721(t *testing.T) {
	d := NewDecoder(nil, nil)

	t.Run("mint addresses the item and the receiver", func(t *testing.T) {
		recs, err := d.Decode(erc721Transfer(7, common.Address{}, alice, 42))
		require.NoError(t, err)
		require.Len(t, recs, 2)

		id := family.ItemID(collection, uint256.NewInt(42))
		require.Equal(t, family.Item, recs[0].Family)
		require.Equal(t, id, recs[0].EntityID)
		require.Equal(t, reduce.StatusConfirmed, recs[0].Status)
		require.Equal(t, reduce.Ordinal{BlockNumber: 7, LogIndex: 2}, recs[0].Ordinal)
		require.Equal(t, collection, recs[0].Source)
		require.True(t, decodeItem(t, recs[0]).IsMint())

		require.Equal(t, family.Ownership, recs[1].Family)
		require.Equal(t, family.OwnershipID(collection, uint256.NewInt(42), alice), recs[1].EntityID)
		require.Equal(t, recs[0].EventID, recs[1].EventID)
	})

	t.Run("transfer addresses both owners", func(t *testing.T) {
		recs, err := d.Decode(erc721Transfer(8, alice, bob, 42))
		require.NoError(t, err)
		require.Len(t, recs, 3)
		require.Equal(t, uint64(1), decodeItem(t, recs[0]).Value.Uint64())
	})

	t.Run("erc20 transfer is ignored", func(t *testing.T) {
		l := erc721Transfer(9, alice, bob, 1)
		l.Topics = l.Topics[:3]
		recs, err := d.Decode(l)
		require.NoError(t, err)
		require.Empty(t, recs)
	})

	t.Run("removed log reverts", func(t *testing.T) {
		l := erc721Transfer(8, alice, bob, 42)
		l.Removed = true
		recs, err := d.Decode(l)
		require.NoError(t, err)
		for _, r := range recs {
			require.Equal(t, reduce.StatusReverted, r.Status)
		}
	})
}

func TestDecoder_ERC1155(t *testing.T) {
	d := NewDecoder(nil, nil)

	t.Run("single", func(t *testing.T) {
		recs, err := d.Decode(transferSingle(t, 10, alice, bob, 5, 3))
		require.NoError(t, err)
		require.Len(t, recs, 3)
		transfer := decodeItem(t, recs[0])
		require.Equal(t, alice, transfer.From)
		require.Equal(t, bob, transfer.To)
		require.Equal(t, uint64(3), transfer.Value.Uint64())
	})

	t.Run("zero value is skipped", func(t *testing.T) {
		recs, err := d.Decode(transferSingle(t, 10, alice, bob, 5, 0))
		require.NoError(t, err)
		require.Empty(t, recs)
	})

	t.Run("batch gets one minor index per token", func(t *testing.T) {
		data, err := batchArgs.Pack(
			[]*big.Int{big.NewInt(1), big.NewInt(2)},
			[]*big.Int{big.NewInt(5), big.NewInt(6)},
		)
		require.NoError(t, err)
		l := newLog(collection, 11, []common.Hash{
			TopicTransferBatch, addressTopic(alice), addressTopic(common.Address{}), addressTopic(bob),
		}, data)

		recs, err := d.Decode(l)
		require.NoError(t, err)
		require.Len(t, recs, 4)
		require.Equal(t, uint64(0), recs[0].Ordinal.MinorLogIndex)
		require.Equal(t, uint64(1), recs[2].Ordinal.MinorLogIndex)
		require.NotEqual(t, recs[0].EventID, recs[2].EventID)
		require.Equal(t, family.ItemID(collection, uint256.NewInt(2)), recs[2].EntityID)
		require.Equal(t, uint64(6), decodeItem(t, recs[2]).Value.Uint64())
	})

	t.Run("malformed data", func(t *testing.T) {
		l := transferSingle(t, 10, alice, bob, 5, 3)
		l.Data = l.Data[:20]
		_, err := d.Decode(l)
		require.ErrorIs(t, err, ErrMalformedLog)
	})
}

func TestDecoder_Collection(t *testing.T) {
	d := NewDecoder(nil, nil)

	data, err := collectionArgs.Pack("Apes", "APE")
	require.NoError(t, err)
	recs, err := d.Decode(newLog(collection, 3, []common.Hash{TopicCreateERC721, addressTopic(alice)}, data))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, family.Token, recs[0].Family)
	require.Equal(t, family.TokenID(collection), recs[0].EntityID)

	p, err := token.Payloads.Decode(recs[0].Kind, recs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, token.CreateCollection{
		Owner: alice, Name: "Apes", Symbol: "APE", Standard: token.StandardERC721,
	}, p)

	recs, err = d.Decode(newLog(collection, 4,
		[]common.Hash{TopicOwnershipTransferred, addressTopic(alice), addressTopic(bob)}, nil))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	p, err = token.Payloads.Decode(recs[0].Kind, recs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, token.OwnershipTransferred{Previous: alice, New: bob}, p)
}

func TestDecoder_Exchange(t *testing.T) {
	d := NewDecoder([]common.Address{exchange}, nil)
	require.Contains(t, d.Topics(), TopicOrderFilled)
	require.NotContains(t, NewDecoder(nil, nil).Topics(), TopicOrderFilled)

	created, err := orderArgs.Pack(
		uint8(0),
		"ERC721", collection, big.NewInt(42), big.NewInt(1),
		"ETH", common.Address{}, big.NewInt(0), big.NewInt(1000),
	)
	require.NoError(t, err)
	filled, err := fillArgs.Pack(big.NewInt(1000))
	require.NoError(t, err)

	tests := []struct {
		name string
		log  types.Log
		want order.Payload
	}{
		{
			name: "created",
			log:  newLog(exchange, 20, []common.Hash{TopicOrderCreated, orderHash, addressTopic(alice)}, created),
			want: order.OnChainOrder{
				Maker: alice,
				Make:  order.Asset{Class: "ERC721", Contract: collection, TokenID: uint256.NewInt(42), Value: uint256.NewInt(1)},
				Take:  order.Asset{Class: "ETH", Value: uint256.NewInt(1000)},
				Side:  order.SideSell,
			},
		},
		{
			name: "filled",
			log:  newLog(exchange, 21, []common.Hash{TopicOrderFilled, orderHash, addressTopic(bob)}, filled),
			want: order.SideMatch{Fill: uint256.NewInt(1000), Taker: bob},
		},
		{
			name: "cancelled",
			log:  newLog(exchange, 22, []common.Hash{TopicOrderCancelled, orderHash, addressTopic(alice)}, nil),
			want: order.Cancel{Maker: alice},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := d.Decode(tt.log)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, family.Order, recs[0].Family)
			require.Equal(t, family.OrderID(orderHash), recs[0].EntityID)

			p, err := order.Payloads.Decode(recs[0].Kind, recs[0].Payload)
			require.NoError(t, err)
			require.Equal(t, tt.want, p)
		})
	}

	t.Run("order events from other contracts are ignored", func(t *testing.T) {
		l := newLog(collection, 22, []common.Hash{TopicOrderCancelled, orderHash, addressTopic(alice)}, nil)
		recs, err := d.Decode(l)
		require.NoError(t, err)
		require.Empty(t, recs)
	})
}
