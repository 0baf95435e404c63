// Package token reduces collections: their metadata and current owner.
package token

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainReducer/internal/family"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

type (
	Entity = reduce.Entity[State, Payload]
	Event  = reduce.Event[Payload]
	Chain  = reduce.Chain[State, Payload]
	Codec  = reduce.Codec[State, Payload]
)

// Status of a collection.
type Status string

const (
	StatusNone      Status = "NONE"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
)

// OwnerChange is one confirmed ownership transfer at its chain position.
type OwnerChange struct {
	Ordinal reduce.Ordinal `json:"ordinal"`
	Owner   common.Address `json:"owner"`
}

// State is the materialized collection.
type State struct {
	Address common.Address `json:"address"`
	// Owner is the owner set by the latest live ownership change, or the
	// creator when there is none.
	Owner    common.Address `json:"owner"`
	Creator  common.Address `json:"creator"`
	Name     string         `json:"name,omitempty"`
	Symbol   string         `json:"symbol,omitempty"`
	Standard Standard       `json:"standard,omitempty"`

	// OwnerChanges are sorted by ordinal. Changes in the evicted prefix can no
	// longer be reverted, so only the latest of those is kept.
	OwnerChanges []OwnerChange `json:"owner_changes,omitempty"`

	// Created counts the confirmed creations folded in. Metadata is set by
	// the first one and cleared when the last one is undone.
	Created int    `json:"created,omitempty"`
	Status  Status `json:"status"`
	Deleted bool   `json:"deleted"`
}

func (s State) Clone() State {
	s.OwnerChanges = slices.Clone(s.OwnerChanges)
	return s
}

// NewState returns the zero state of the collection with the given id.
func NewState(id string) State {
	s := State{Status: StatusNone, Deleted: true}
	if common.IsHexAddress(id) {
		s.Address = common.HexToAddress(id)
	}
	return s
}

// NewChain builds the collection reducer chain.
func NewChain(cfg reduce.WindowConfig, log *logger.Logger) *Chain {
	return family.NewChain[State, Payload](family.Token, cfg, log, valueStep{})
}

// NewCodec returns the collection codec.
func NewCodec() *Codec {
	return reduce.NewCodec(NewState, Payloads)
}

type valueStep struct{}

func (valueStep) Name() string { return "token-value" }

func (valueStep) Forward(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		switch p := ev.Payload.(type) {
		case CreateCollection:
			ent.State.Created++
			if ent.State.Created == 1 {
				ent.State.Creator = p.Owner
				ent.State.Name = p.Name
				ent.State.Symbol = p.Symbol
				ent.State.Standard = p.Standard
			}
		case OwnershipTransferred:
			ent.State.OwnerChanges = addOwnerChange(ent.State.OwnerChanges, OwnerChange{Ordinal: ev.Ordinal, Owner: p.New})
		}
	}
	ent.State.OwnerChanges = pruneOwnerChanges(ent, ent.State.OwnerChanges)
	ent.State = derive(ent.State, ent.Lifecycle)
	return ent
}

func (valueStep) Inverse(ent Entity, ev Event) Entity {
	if ev.Status == reduce.StatusConfirmed {
		switch p := ev.Payload.(type) {
		case CreateCollection:
			ent.State.Created--
			if ent.State.Created == 0 {
				ent.State.Creator = common.Address{}
				ent.State.Name = ""
				ent.State.Symbol = ""
				ent.State.Standard = ""
			}
		case OwnershipTransferred:
			ent.State.OwnerChanges = removeOwnerChange(ent.State.OwnerChanges, OwnerChange{Ordinal: ev.Ordinal, Owner: p.New})
		}
	}
	ent.State = derive(ent.State, ent.Lifecycle)
	return ent
}

func addOwnerChange(changes []OwnerChange, c OwnerChange) []OwnerChange {
	i, _ := slices.BinarySearchFunc(changes, c.Ordinal, func(have OwnerChange, o reduce.Ordinal) int {
		return have.Ordinal.Compare(o)
	})
	return slices.Insert(changes, i, c)
}

func removeOwnerChange(changes []OwnerChange, c OwnerChange) []OwnerChange {
	i := slices.Index(changes, c)
	if i < 0 {
		return changes
	}
	changes = slices.Delete(changes, i, i+1)
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// pruneOwnerChanges drops changes shadowed by a later one at or below the baseline.
func pruneOwnerChanges(ent Entity, changes []OwnerChange) []OwnerChange {
	last := -1
	for i, c := range changes {
		if ent.AtOrBelowBaseline(c.Ordinal) {
			last = i
		}
	}
	if last <= 0 {
		return changes
	}
	return slices.Clone(changes[last:])
}

func derive(s State, lc reduce.Lifecycle) State {
	s.Owner = s.Creator
	if n := len(s.OwnerChanges); n > 0 {
		s.Owner = s.OwnerChanges[n-1].Owner
	}
	switch {
	case s.Created > 0:
		s.Status = StatusConfirmed
	case lc.Pending > 0:
		s.Status = StatusPending
	default:
		s.Status = StatusNone
	}
	s.Deleted = s.Created == 0 && lc.Pending == 0
	return s
}
