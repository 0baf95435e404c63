// Package ingest turns chain logs into event log records and drives the
// scan loop that feeds the reducers.
package ingest

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/eventlog"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/internal/family/order"
	"github.com/goran-ethernal/ChainReducer/internal/family/token"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
)

// ErrMalformedLog is returned for a log whose topics or data do not match
// the event its first topic names.
var ErrMalformedLog = errors.New("malformed log")

// Event signatures.
const (
	SigTransfer             = "Transfer(address,address,uint256)"
	SigTransferSingle       = "TransferSingle(address,address,address,uint256,uint256)"
	SigTransferBatch        = "TransferBatch(address,address,address,uint256[],uint256[])"
	SigOwnershipTransferred = "OwnershipTransferred(address,address)"
	SigCreateERC721         = "CreateERC721_v4(address,string,string)"
	SigCreateERC1155        = "CreateERC1155_v1(address,string,string)"
	SigOrderCreated         = "OrderCreated(bytes32,address,uint8,string,address,uint256,uint256,string,address,uint256,uint256)"
	SigOrderFilled          = "OrderFilled(bytes32,address,uint256)"
	SigOrderCancelled       = "OrderCancelled(bytes32,address)"
)

var (
	TopicTransfer             = crypto.Keccak256Hash([]byte(SigTransfer))
	TopicTransferSingle       = crypto.Keccak256Hash([]byte(SigTransferSingle))
	TopicTransferBatch        = crypto.Keccak256Hash([]byte(SigTransferBatch))
	TopicOwnershipTransferred = crypto.Keccak256Hash([]byte(SigOwnershipTransferred))
	TopicCreateERC721         = crypto.Keccak256Hash([]byte(SigCreateERC721))
	TopicCreateERC1155        = crypto.Keccak256Hash([]byte(SigCreateERC1155))
	TopicOrderCreated         = crypto.Keccak256Hash([]byte(SigOrderCreated))
	TopicOrderFilled          = crypto.Keccak256Hash([]byte(SigOrderFilled))
	TopicOrderCancelled       = crypto.Keccak256Hash([]byte(SigOrderCancelled))
)

var (
	uint256Ty, _      = abi.NewType("uint256", "", nil)
	uint256SliceTy, _ = abi.NewType("uint256[]", "", nil)
	uint8Ty, _        = abi.NewType("uint8", "", nil)
	stringTy, _       = abi.NewType("string", "", nil)
	addressTy, _      = abi.NewType("address", "", nil)

	// non-indexed data layouts
	singleArgs     = abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
	batchArgs      = abi.Arguments{{Type: uint256SliceTy}, {Type: uint256SliceTy}}
	collectionArgs = abi.Arguments{{Type: stringTy}, {Type: stringTy}}
	fillArgs       = abi.Arguments{{Type: uint256Ty}}
	orderArgs      = abi.Arguments{
		{Type: uint8Ty},
		{Type: stringTy}, {Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty},
		{Type: stringTy}, {Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty},
	}
)

// Decoder maps token, collection and exchange logs to records of the item,
// ownership, token and order families.
type Decoder struct {
	exchanges map[common.Address]struct{}
	log       *logger.Logger
}

// NewDecoder creates a Decoder. Order events are only accepted from exchanges.
func NewDecoder(exchanges []common.Address, log *logger.Logger) *Decoder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	d := &Decoder{
		exchanges: make(map[common.Address]struct{}, len(exchanges)),
		log:       log.WithComponent(internalcommon.ComponentScanner),
	}
	for _, a := range exchanges {
		d.exchanges[a] = struct{}{}
	}
	return d
}

// Topics returns the first topics the decoder understands.
func (d *Decoder) Topics() []common.Hash {
	topics := []common.Hash{
		TopicTransfer, TopicTransferSingle, TopicTransferBatch,
		TopicOwnershipTransferred, TopicCreateERC721, TopicCreateERC1155,
	}
	if len(d.exchanges) > 0 {
		topics = append(topics, TopicOrderCreated, TopicOrderFilled, TopicOrderCancelled)
	}
	return topics
}

// Decode returns the records carried by l. Logs the decoder does not know
// yield no records. A removed log yields REVERTED records.
func (d *Decoder) Decode(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) == 0 {
		return nil, nil
	}

	if _, exchange := d.exchanges[l.Address]; exchange {
		switch l.Topics[0] {
		case TopicOrderCreated:
			return d.decodeOrderCreated(l)
		case TopicOrderFilled:
			return d.decodeOrderFilled(l)
		case TopicOrderCancelled:
			return d.decodeOrderCancelled(l)
		}
		return nil, nil
	}

	switch l.Topics[0] {
	case TopicTransfer:
		return d.decodeERC721Transfer(l)
	case TopicTransferSingle:
		return d.decodeTransferSingle(l)
	case TopicTransferBatch:
		return d.decodeTransferBatch(l)
	case TopicOwnershipTransferred:
		return d.decodeOwnershipTransferred(l)
	case TopicCreateERC721:
		return d.decodeCreateCollection(l, token.StandardERC721)
	case TopicCreateERC1155:
		return d.decodeCreateCollection(l, token.StandardERC1155)
	}
	return nil, nil
}

func (d *Decoder) decodeERC721Transfer(l types.Log) ([]eventlog.Record, error) {
	// ERC-20 transfers share the signature but index only two topics.
	if len(l.Topics) != 4 { //nolint:mnd
		return nil, nil
	}
	from, to := topicAddress(l.Topics[1]), topicAddress(l.Topics[2])
	tokenID := new(uint256.Int).SetBytes(l.Topics[3].Bytes())
	return d.transferRecords(l, 0, tokenID, from, to, uint256.NewInt(1))
}

func (d *Decoder) decodeTransferSingle(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 4 { //nolint:mnd
		return nil, malformed(l, "expected 4 topics, got %d", len(l.Topics))
	}
	values, err := singleArgs.Unpack(l.Data)
	if err != nil {
		return nil, malformed(l, "%v", err)
	}
	id, err := toUint256(values[0])
	if err != nil {
		return nil, malformed(l, "token id: %v", err)
	}
	value, err := toUint256(values[1])
	if err != nil {
		return nil, malformed(l, "value: %v", err)
	}
	return d.transferRecords(l, 0, id, topicAddress(l.Topics[2]), topicAddress(l.Topics[3]), value)
}

func (d *Decoder) decodeTransferBatch(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 4 { //nolint:mnd
		return nil, malformed(l, "expected 4 topics, got %d", len(l.Topics))
	}
	values, err := batchArgs.Unpack(l.Data)
	if err != nil {
		return nil, malformed(l, "%v", err)
	}
	ids, ok1 := values[0].([]*big.Int)
	amounts, ok2 := values[1].([]*big.Int)
	if !ok1 || !ok2 || len(ids) != len(amounts) {
		return nil, malformed(l, "ids and values differ in length")
	}

	from, to := topicAddress(l.Topics[2]), topicAddress(l.Topics[3])
	var records []eventlog.Record
	for i := range ids {
		id, err := toUint256(ids[i])
		if err != nil {
			return nil, malformed(l, "token id %d: %v", i, err)
		}
		value, err := toUint256(amounts[i])
		if err != nil {
			return nil, malformed(l, "value %d: %v", i, err)
		}
		recs, err := d.transferRecords(l, uint64(i), id, from, to, value)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// transferRecords addresses one transfer to the item and to the ownerships
// of both parties.
func (d *Decoder) transferRecords(
	l types.Log, minor uint64,
	tokenID *uint256.Int, from, to common.Address, value *uint256.Int,
) ([]eventlog.Record, error) {
	if value.IsZero() {
		d.log.Debugw("skipping zero value transfer", "tx", l.TxHash.Hex(), "index", l.Index)
		return nil, nil
	}

	ev := chainEvent[item.Payload](l, minor, item.Transfer{From: from, To: to, Value: value})

	rec, err := eventlog.NewRecord(family.Item, family.ItemID(l.Address, tokenID), ev, l.BlockHash, item.Payloads)
	if err != nil {
		return nil, err
	}
	records := []eventlog.Record{rec}

	for _, owner := range []common.Address{from, to} {
		if owner == (common.Address{}) || (owner == to && from == to) {
			continue
		}
		rec, err := eventlog.NewRecord(family.Ownership,
			family.OwnershipID(l.Address, tokenID, owner), ev, l.BlockHash, item.Payloads)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *Decoder) decodeOwnershipTransferred(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 3 { //nolint:mnd
		return nil, malformed(l, "expected 3 topics, got %d", len(l.Topics))
	}
	ev := chainEvent[token.Payload](l, 0, token.OwnershipTransferred{
		Previous: topicAddress(l.Topics[1]),
		New:      topicAddress(l.Topics[2]),
	})
	return single(eventlog.NewRecord(family.Token, family.TokenID(l.Address), ev, l.BlockHash, token.Payloads))
}

func (d *Decoder) decodeCreateCollection(l types.Log, standard token.Standard) ([]eventlog.Record, error) {
	if len(l.Topics) != 2 { //nolint:mnd
		return nil, malformed(l, "expected 2 topics, got %d", len(l.Topics))
	}
	values, err := collectionArgs.Unpack(l.Data)
	if err != nil {
		return nil, malformed(l, "%v", err)
	}
	name, _ := values[0].(string)
	symbol, _ := values[1].(string)

	ev := chainEvent[token.Payload](l, 0, token.CreateCollection{
		Owner:    topicAddress(l.Topics[1]),
		Name:     name,
		Symbol:   symbol,
		Standard: standard,
	})
	return single(eventlog.NewRecord(family.Token, family.TokenID(l.Address), ev, l.BlockHash, token.Payloads))
}

func (d *Decoder) decodeOrderCreated(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 3 { //nolint:mnd
		return nil, malformed(l, "expected 3 topics, got %d", len(l.Topics))
	}
	values, err := orderArgs.Unpack(l.Data)
	if err != nil {
		return nil, malformed(l, "%v", err)
	}

	side := order.SideSell
	if s, _ := values[0].(uint8); s == 1 {
		side = order.SideBid
	}
	makeAsset, err := toAsset(values[1:5])
	if err != nil {
		return nil, malformed(l, "make: %v", err)
	}
	takeAsset, err := toAsset(values[5:9])
	if err != nil {
		return nil, malformed(l, "take: %v", err)
	}

	ev := chainEvent[order.Payload](l, 0, order.OnChainOrder{
		Maker: topicAddress(l.Topics[2]),
		Make:  makeAsset,
		Take:  takeAsset,
		Side:  side,
	})
	return single(eventlog.NewRecord(family.Order, family.OrderID(l.Topics[1]), ev, l.BlockHash, order.Payloads))
}

func (d *Decoder) decodeOrderFilled(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 3 { //nolint:mnd
		return nil, malformed(l, "expected 3 topics, got %d", len(l.Topics))
	}
	values, err := fillArgs.Unpack(l.Data)
	if err != nil {
		return nil, malformed(l, "%v", err)
	}
	fill, err := toUint256(values[0])
	if err != nil {
		return nil, malformed(l, "fill: %v", err)
	}

	ev := chainEvent[order.Payload](l, 0, order.SideMatch{Fill: fill, Taker: topicAddress(l.Topics[2])})
	return single(eventlog.NewRecord(family.Order, family.OrderID(l.Topics[1]), ev, l.BlockHash, order.Payloads))
}

func (d *Decoder) decodeOrderCancelled(l types.Log) ([]eventlog.Record, error) {
	if len(l.Topics) != 3 { //nolint:mnd
		return nil, malformed(l, "expected 3 topics, got %d", len(l.Topics))
	}
	ev := chainEvent[order.Payload](l, 0, order.Cancel{Maker: topicAddress(l.Topics[2])})
	return single(eventlog.NewRecord(family.Order, family.OrderID(l.Topics[1]), ev, l.BlockHash, order.Payloads))
}

// chainEvent wraps p in the coordinates of l.
func chainEvent[P reduce.Payload](l types.Log, minor uint64, p P) reduce.Event[P] {
	status := reduce.StatusConfirmed
	if l.Removed {
		status = reduce.StatusReverted
	}
	return reduce.Event[P]{
		ID:     reduce.NewEventID(l.TxHash, uint64(l.Index), minor),
		Status: status,
		Lane:   reduce.LaneChain,
		Ordinal: reduce.Ordinal{
			BlockNumber:   l.BlockNumber,
			LogIndex:      uint64(l.Index),
			MinorLogIndex: minor,
		},
		TxHash:  l.TxHash,
		Source:  l.Address,
		Payload: p,
	}
}

func single(rec eventlog.Record, err error) ([]eventlog.Record, error) {
	if err != nil {
		return nil, err
	}
	return []eventlog.Record{rec}, nil
}

func topicAddress(t common.Hash) common.Address {
	return common.BytesToAddress(t.Bytes())
}

func toUint256(v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", v)
	}
	n, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s overflows uint256", b)
	}
	return n, nil
}

func toAsset(values []any) (order.Asset, error) {
	class, _ := values[0].(string)
	contract, ok := values[1].(common.Address)
	if !ok {
		return order.Asset{}, fmt.Errorf("expected address, got %T", values[1])
	}
	tokenID, err := toUint256(values[2])
	if err != nil {
		return order.Asset{}, err
	}
	value, err := toUint256(values[3])
	if err != nil {
		return order.Asset{}, err
	}
	asset := order.Asset{Class: class, Contract: contract, Value: value}
	if !tokenID.IsZero() {
		asset.TokenID = tokenID
	}
	return asset, nil
}

func malformed(l types.Log, format string, args ...any) error {
	return fmt.Errorf("%w: tx %s index %d: %s",
		ErrMalformedLog, l.TxHash.Hex(), l.Index, fmt.Sprintf(format, args...))
}
