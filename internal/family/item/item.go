// Package item reduces NFT items: the supply and holders of one token id.
package item

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

// State is the materialized item.
type State struct {
	Token   common.Address `json:"token"`
	TokenID *uint256.Int   `json:"token_id,omitempty"`

	// Owners holds the net on-chain balance of every holder.
	Owners amount.Balances `json:"owners,omitempty"`

	Minted     *uint256.Int `json:"minted,omitempty"`
	Burned     *uint256.Int `json:"burned,omitempty"`
	LazyMinted *uint256.Int `json:"lazy_minted,omitempty"`
	LazyBurned *uint256.Int `json:"lazy_burned,omitempty"`

	// Supply is the on-chain supply plus the lazy supply not minted yet.
	Supply     *uint256.Int `json:"supply,omitempty"`
	LazySupply *uint256.Int `json:"lazy_supply,omitempty"`
	Deleted    bool         `json:"deleted"`
}

func (s State) Clone() State {
	s.Owners = s.Owners.Clone()
	return s
}

// NewState returns the zero state of the item with the given id.
func NewState(id string) State {
	token, tokenID, err := family.ParseItemID(id)
	if err != nil {
		return State{Deleted: true}
	}
	return State{Token: token, TokenID: tokenID, Deleted: true}
}

// NewChain builds the item reducer chain.
func NewChain(cfg reduce.WindowConfig, log *logger.Logger) *Chain {
	return family.NewChain[State, Payload](family.Item, cfg, log, valueStep{})
}

// NewCodec returns the item codec.
func NewCodec() *Codec {
	return reduce.NewCodec(NewState, Payloads)
}

// valueStep keeps supply and holders. Only confirmed events move amounts;
// pending events only keep the item alive.
type valueStep struct{}

func (valueStep) Name() string { return "item-value" }

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
	add := amount.Add
	if undo {
		add = amount.Sub
	}

	switch p := p.(type) {
	case Transfer:
		if p.IsMint() {
			s.Minted = add(s.Minted, p.Value)
		} else if undo {
			s.Owners = s.Owners.Add(p.From, p.Value)
		} else {
			s.Owners = s.Owners.Sub(p.From, p.Value)
		}
		if p.IsBurn() {
			s.Burned = add(s.Burned, p.Value)
		} else if undo {
			s.Owners = s.Owners.Sub(p.To, p.Value)
		} else {
			s.Owners = s.Owners.Add(p.To, p.Value)
		}
	case LazyMint:
		s.LazyMinted = add(s.LazyMinted, p.Value)
	case BurnLazyMint:
		s.LazyBurned = add(s.LazyBurned, p.Value)
	}
	return s
}

// derive recomputes the fields that follow from the counters.
func derive(s State, lc reduce.Lifecycle) State {
	s.LazySupply = LazyRemaining(s.LazyMinted, s.LazyBurned, s.Minted)
	s.Supply = amount.Add(s.Owners.PositiveTotal(), s.LazySupply)
	s.Deleted = s.Supply == nil && lc.Pending == 0
	return s
}

// LazyRemaining is the lazy supply that has not been minted on chain:
// lazy - min(lazy, minted), where lazy is what was lazily minted and not burned.
func LazyRemaining(lazyMinted, lazyBurned, minted *uint256.Int) *uint256.Int {
	lazy := amount.NonNegative(amount.Sub(lazyMinted, lazyBurned))
	return amount.Sub(lazy, amount.Min(lazy, amount.NonNegative(minted)))
}
