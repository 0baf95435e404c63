package reduce

import (
	"slices"
)

// State is the materialized part of an entity. Clone must return a deep
// copy so reducers can work on it without touching the previous entity.
type State[S any] interface {
	Clone() S
}

// Lifecycle is the status bookkeeping kept for every entity.
type Lifecycle struct {
	// Pending is the number of pending events currently folded in.
	Pending int `json:"pending,omitempty"`
	// Applied is the number of confirmed events currently folded in.
	Applied int `json:"applied,omitempty"`
}

// Cursor is the highest source sequence folded per lane.
type Cursor struct {
	Chain uint64 `json:"chain"`
	Lazy  uint64 `json:"lazy"`
}

// Entity is a materialized business object plus the history needed to undo
// its most recent events.
type Entity[S State[S], P Payload] struct {
	ID    string
	State S
	// RevertableEvents is kept in Compare order.
	RevertableEvents []Event[P]
	// Baseline is the highest ordinal evicted from the window, nil if none was.
	Baseline  *Ordinal
	Lifecycle Lifecycle
	Cursor    Cursor
	// Version is the optimistic-concurrency token, bumped by every save.
	Version uint64

	// Evicted collects events dropped from the window since the entity was
	// loaded. It is not persisted as part of the entity.
	Evicted []Event[P]
}

// NewEntity returns the implicit zero entity for id.
func NewEntity[S State[S], P Payload](id string, zero S) Entity[S, P] {
	return Entity[S, P]{ID: id, State: zero}
}

// Clone returns a deep copy of the entity.
func (e Entity[S, P]) Clone() Entity[S, P] {
	out := e
	out.State = e.State.Clone()
	if e.RevertableEvents != nil {
		out.RevertableEvents = slices.Clone(e.RevertableEvents)
	}
	if e.Baseline != nil {
		baseline := *e.Baseline
		out.Baseline = &baseline
	}
	if e.Evicted != nil {
		out.Evicted = slices.Clone(e.Evicted)
	}
	return out
}

// Find returns the position of the window entry with the given id.
func (e Entity[S, P]) Find(id EventID) (int, bool) {
	for i := range e.RevertableEvents {
		if e.RevertableEvents[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// HighestBlock returns the highest block number present in the window.
func (e Entity[S, P]) HighestBlock() uint64 {
	var highest uint64
	for _, ev := range e.RevertableEvents {
		if ev.Lane == LaneChain && ev.Status != StatusPending && ev.Ordinal.BlockNumber > highest {
			highest = ev.Ordinal.BlockNumber
		}
	}
	return highest
}

// LastConfirmed returns the highest confirmed chain event in the window.
func (e Entity[S, P]) LastConfirmed() (Event[P], bool) {
	for i := len(e.RevertableEvents) - 1; i >= 0; i-- {
		if e.RevertableEvents[i].IsChainConfirmed() {
			return e.RevertableEvents[i], true
		}
	}
	var zero Event[P]
	return zero, false
}

// AtOrBelowBaseline reports whether a chain ordinal falls in the compacted prefix.
func (e Entity[S, P]) AtOrBelowBaseline(o Ordinal) bool {
	return e.Baseline != nil && o.Compare(*e.Baseline) <= 0
}

func (e *Entity[S, P]) insertEvent(ev Event[P]) {
	idx, _ := slices.BinarySearchFunc(e.RevertableEvents, ev, func(have, want Event[P]) int {
		if c := Compare(have, want); c != 0 {
			return c
		}
		// equal keys keep arrival order: insert after existing ones
		return -1
	})
	e.RevertableEvents = slices.Insert(e.RevertableEvents, idx, ev)
}

func (e *Entity[S, P]) removeEventAt(idx int) {
	e.RevertableEvents = slices.Delete(e.RevertableEvents, idx, idx+1)
	if len(e.RevertableEvents) == 0 {
		e.RevertableEvents = nil
	}
}

func (e *Entity[S, P]) raiseBaseline(o Ordinal) {
	if e.Baseline == nil || o.Compare(*e.Baseline) > 0 {
		baseline := o
		e.Baseline = &baseline
	}
}
