package order

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
)

// Side of an order. A sell order makes an NFT and takes payment; a bid
// makes payment and takes an NFT.
type Side string

const (
	SideSell Side = "SELL"
	SideBid  Side = "BID"
)

// Asset is one leg of an order.
type Asset struct {
	Class    string         `json:"class"`
	Contract common.Address `json:"contract"`
	TokenID  *uint256.Int   `json:"token_id,omitempty"`
	Value    *uint256.Int   `json:"value"`
}

// Payload is the closed set of order actions.
type Payload interface {
	reduce.Payload
	orderPayload()
}

// OnChainOrder places an order. It arrives on the chain lane for orders
// created by a contract call, or on the lazy lane for signed off-chain orders.
type OnChainOrder struct {
	Maker common.Address `json:"maker"`
	Make  Asset          `json:"make"`
	Take  Asset          `json:"take"`
	Side  Side           `json:"side"`
}

// SideMatch fills part of the order. Fill is measured in take units.
type SideMatch struct {
	Fill  *uint256.Int   `json:"fill"`
	Taker common.Address `json:"taker"`
}

// Cancel cancels the order.
type Cancel struct {
	Maker common.Address `json:"maker"`
}

func (OnChainOrder) Kind() string { return "on_chain_order" }
func (SideMatch) Kind() string    { return "side_match" }
func (Cancel) Kind() string       { return "cancel" }

func (OnChainOrder) orderPayload() {}
func (SideMatch) orderPayload()    {}
func (Cancel) orderPayload()       {}

func (o OnChainOrder) Validate() error {
	if o.Maker == (common.Address{}) {
		return errors.New("order without maker")
	}
	if o.Side != SideSell && o.Side != SideBid {
		return fmt.Errorf("invalid order side %q", o.Side)
	}
	if amount.OrZero(o.Make.Value).IsZero() || amount.OrZero(o.Take.Value).IsZero() {
		return errors.New("order make and take values must be positive")
	}
	return nil
}

func (m SideMatch) Validate() error {
	if amount.OrZero(m.Fill).IsZero() {
		return errors.New("fill must be positive")
	}
	return nil
}

func (Cancel) Validate() error { return nil }

// Payloads registers every order payload kind for storage.
var Payloads = reduce.NewPayloadCodec[Payload](OnChainOrder{}, SideMatch{}, Cancel{})
