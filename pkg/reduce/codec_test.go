package reduce

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newLedgerCodec() *Codec[ledgerState, ledgerPayload] {
	return NewCodec(func(string) ledgerState { return ledgerState{} },
		NewPayloadCodec[ledgerPayload](deposit{}, memo{}))
}

func TestCodec_EntityRoundTrip(t *testing.T) {
	codec := newLedgerCodec()
	chain := newLedgerChain(WindowConfig{ConfirmationDepth: 1})

	ent, _, errs := chain.Fold(newLedgerEntity(), []ledgerEvent{
		lazyEvent(1, deposit{Account: "carol", Amount: 2}),
		chainEvent(1, 0, StatusConfirmed, deposit{Account: "alice", Amount: 10}),
		chainEvent(5, 0, StatusConfirmed, memo{Text: "note"}),
		chainEvent(6, 1, StatusPending, deposit{Account: "bob", Amount: 3}),
	})
	require.Empty(t, errs)
	ent.RevertableEvents[0].Source = common.HexToAddress("0x01")
	ent.Cursor = Cursor{Chain: 6001, Lazy: 1}
	ent.Version = 4
	require.NotNil(t, ent.Baseline)

	data, err := codec.Encode(ent)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)

	// evicted events are transient
	ent.Evicted = nil
	require.Equal(t, ent, decoded)
}

func TestCodec_EmptyEntity(t *testing.T) {
	codec := newLedgerCodec()

	data, err := codec.Encode(codec.NewEntity("acct-1"))
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, newLedgerEntity(), decoded)
	require.Nil(t, decoded.RevertableEvents)
}

func TestPayloadCodec_Errors(t *testing.T) {
	codec := NewPayloadCodec[ledgerPayload](deposit{})
	require.Equal(t, 1, codec.Kinds())

	_, _, err := codec.Encode(memo{})
	require.ErrorContains(t, err, "unknown kind")

	_, err = codec.Decode("memo", []byte(`{}`))
	require.ErrorContains(t, err, "unknown kind")

	_, err = codec.Decode("deposit", []byte(`{"amount":"ten"}`))
	require.Error(t, err)

	require.Panics(t, func() { NewPayloadCodec[ledgerPayload](deposit{}, deposit{}) })
}

func TestPayloadCodec_DecodeEventsEmpty(t *testing.T) {
	codec := NewPayloadCodec[ledgerPayload](deposit{})

	events, err := codec.DecodeEvents(nil)
	require.NoError(t, err)
	require.Nil(t, events)

	events, err = codec.DecodeEvents([]byte(`[]`))
	require.NoError(t, err)
	require.Nil(t, events)
}
