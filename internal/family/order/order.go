// Package order reduces exchange orders: their fill, stock and status.
package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
)

type (
	Entity = reduce.Entity[State, Payload]
	Event  = reduce.Event[Payload]
	Chain  = reduce.Chain[State, Payload]
	Codec  = reduce.Codec[State, Payload]
)

// Status of an order.
type Status string

const (
	StatusInactive  Status = "INACTIVE"
	StatusActive    Status = "ACTIVE"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// State is the materialized order.
type State struct {
	Hash  common.Hash    `json:"hash"`
	Maker common.Address `json:"maker"`
	Make  Asset          `json:"make"`
	Take  Asset          `json:"take"`
	Side  Side           `json:"side,omitempty"`

	// Placed counts the placements folded in; the terms come from the first.
	Placed  int          `json:"placed,omitempty"`
	Fill    *uint256.Int `json:"fill,omitempty"`
	Cancels int          `json:"cancels,omitempty"`

	Cancelled bool         `json:"cancelled"`
	MakeStock *uint256.Int `json:"make_stock,omitempty"`
	Status    Status       `json:"status"`
}

func (s State) Clone() State { return s }

// NewState returns the zero state of the order with the given id.
func NewState(id string) State {
	s := State{Status: StatusInactive}
	if hash, err := family.ParseOrderID(id); err == nil {
		s.Hash = hash
	}
	return s
}

// NewChain builds the order reducer chain.
func NewChain(cfg reduce.WindowConfig, log *logger.Logger) *Chain {
	return family.NewChain[State, Payload](family.Order, cfg, log, valueStep{})
}

// NewCodec returns the order codec.
func NewCodec() *Codec {
	return reduce.NewCodec(NewState, Payloads)
}

type valueStep struct{}

func (valueStep) Name() string { return "order-value" }

func (valueStep) Forward(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		switch p := ev.Payload.(type) {
		case OnChainOrder:
			ent.State.Placed++
			if ent.State.Placed == 1 {
				ent.State.Maker = p.Maker
				ent.State.Make = p.Make
				ent.State.Take = p.Take
				ent.State.Side = p.Side
			}
		case SideMatch:
			ent.State.Fill = amount.Add(ent.State.Fill, p.Fill)
		case Cancel:
			ent.State.Cancels++
		}
	}
	ent.State = derive(ent.State)
	return ent
}

func (valueStep) Inverse(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		switch p := ev.Payload.(type) {
		case OnChainOrder:
			ent.State.Placed--
			if ent.State.Placed == 0 {
				ent.State.Maker = common.Address{}
				ent.State.Make = Asset{}
				ent.State.Take = Asset{}
				ent.State.Side = ""
			}
		case SideMatch:
			ent.State.Fill = amount.Sub(ent.State.Fill, p.Fill)
		case Cancel:
			ent.State.Cancels--
		}
	}
	ent.State = derive(ent.State)
	return ent
}

func derive(s State) State {
	s.Cancelled = s.Cancels > 0
	s.MakeStock = MakeStock(s.Make.Value, s.Take.Value, s.Fill)

	switch {
	case s.Placed > 0 && amount.Cmp(s.Fill, s.Take.Value) >= 0:
		s.Status = StatusFilled
	case s.Cancelled:
		s.Status = StatusCancelled
	case s.MakeStock == nil:
		s.Status = StatusInactive
	default:
		s.Status = StatusActive
	}
	return s
}

// MakeStock is what is left to make after fill take units were matched:
// make - make*fill/take, never below zero.
func MakeStock(makeValue, takeValue, fill *uint256.Int) *uint256.Int {
	if amount.OrZero(takeValue).IsZero() {
		return nil
	}
	filled := amount.MulDiv(makeValue, amount.NonNegative(fill), takeValue)
	return amount.NonNegative(amount.Sub(makeValue, filled))
}
