// Package ownership reduces the share of one item held by one owner.
//
// Ownerships fold the same transfer and lazy-mint records as items, each
// seen from the owner named in the entity id. Records that do not involve
// that owner leave the state untouched.
package ownership

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/amount"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/family/item"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/holiman/uint256"
)

type (
	Payload = item.Payload
	Entity  = reduce.Entity[State, Payload]
	Event   = reduce.Event[Payload]
	Chain   = reduce.Chain[State, Payload]
	Codec   = reduce.Codec[State, Payload]
)

// State is the materialized ownership.
type State struct {
	Token   common.Address `json:"token"`
	TokenID *uint256.Int   `json:"token_id,omitempty"`
	Owner   common.Address `json:"owner"`

	// Balance is the signed net on-chain balance of the owner.
	Balance *uint256.Int `json:"balance,omitempty"`
	// MintedTo counts what was minted on chain directly to the owner.
	MintedTo   *uint256.Int `json:"minted_to,omitempty"`
	LazyMinted *uint256.Int `json:"lazy_minted,omitempty"`
	LazyBurned *uint256.Int `json:"lazy_burned,omitempty"`

	LazyValue *uint256.Int `json:"lazy_value,omitempty"`
	Value     *uint256.Int `json:"value,omitempty"`
	Deleted   bool         `json:"deleted"`
}

func (s State) Clone() State { return s }

// NewState returns the zero state of the ownership with the given id.
func NewState(id string) State {
	token, tokenID, owner, err := family.ParseOwnershipID(id)
	if err != nil {
		return State{Deleted: true}
	}
	return State{Token: token, TokenID: tokenID, Owner: owner, Deleted: true}
}

// NewChain builds the ownership reducer chain.
func NewChain(cfg reduce.WindowConfig, log *logger.Logger) *Chain {
	return family.NewChain[State, Payload](family.Ownership, cfg, log, valueStep{})
}

// NewCodec returns the ownership codec.
func NewCodec() *Codec {
	return reduce.NewCodec(NewState, item.Payloads)
}

type valueStep struct{}

func (valueStep) Name() string { return "ownership-value" }

func (valueStep) Forward(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		ent.State = apply(ent.State, ev.Payload, false)
	}
	ent.State = derive(ent.State, ent.Lifecycle)
	return ent
}

func (valueStep) Inverse(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		ent.State = apply(ent.State, ev.Payload, true)
	}
	ent.State = derive(ent.State, ent.Lifecycle)
	return ent
}

func apply(s State, p Payload, undo bool) State {
	add, sub := amount.Add, amount.Sub
	if undo {
		add, sub = amount.Sub, amount.Add
	}

	switch p := p.(type) {
	case item.Transfer:
		if p.To == s.Owner {
			s.Balance = add(s.Balance, p.Value)
			if p.IsMint() {
				s.MintedTo = add(s.MintedTo, p.Value)
			}
		}
		if p.From == s.Owner {
			s.Balance = sub(s.Balance, p.Value)
		}
	case item.LazyMint:
		if p.Owner == s.Owner {
			s.LazyMinted = add(s.LazyMinted, p.Value)
		}
	case item.BurnLazyMint:
		if p.From == s.Owner {
			s.LazyBurned = add(s.LazyBurned, p.Value)
		}
	}
	return s
}

func derive(s State, lc reduce.Lifecycle) State {
	s.LazyValue = item.LazyRemaining(s.LazyMinted, s.LazyBurned, s.MintedTo)
	s.Value = amount.Add(amount.NonNegative(s.Balance), s.LazyValue)
	s.Deleted = s.Value == nil && lc.Pending == 0
	return s
}
