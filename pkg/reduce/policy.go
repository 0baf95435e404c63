package reduce

import "fmt"

// Decision is the verdict of an event apply policy.
type Decision uint8

const (
	// Apply folds the event in.
	Apply Decision = iota + 1
	// SkipDuplicate drops an event that is already reflected in state.
	SkipDuplicate
	// Reject drops an event that cannot be reconciled with the entity.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case SkipDuplicate:
		return "skip_duplicate"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Decision(%d)", uint8(d))
	}
}

// Verdict is the outcome of a policy check.
type Verdict struct {
	Decision Decision
	// Counterpart is the window position of the entry with the same id and a
	// different status, or -1. An applied verdict with a counterpart first
	// undoes that entry.
	Counterpart int
	Reason      string
	// Reindex is set when the event conflicts with history that was already
	// evicted and the entity can only be fixed by a full re-derivation.
	Reindex bool
}

// Policy decides whether an event should be folded into an entity.
type Policy[S State[S], P Payload] interface {
	Decide(ent Entity[S, P], ev Event[P]) Verdict
}

// ApplyPolicy is the default event apply policy.
//
//   - same id and status as a window entry: duplicate
//   - same id, different status: status transition, applied
//   - revert without counterpart: rejected, flagged for reindex when it
//     points into the evicted prefix
//   - confirmed chain event at or below the baseline: already folded
//   - pending event whose confirmed counterpart is already folded: stale
type ApplyPolicy[S State[S], P Payload] struct{}

func (ApplyPolicy[S, P]) Decide(ent Entity[S, P], ev Event[P]) Verdict {
	idx, found := ent.Find(ev.ID)
	if found {
		have := ent.RevertableEvents[idx]
		switch {
		case have.Status == ev.Status:
			return Verdict{Decision: SkipDuplicate, Counterpart: -1, Reason: "event already applied"}
		case ev.Status == StatusPending:
			return Verdict{Decision: SkipDuplicate, Counterpart: -1, Reason: "pending event superseded by " + have.Status.String()}
		default:
			return Verdict{Decision: Apply, Counterpart: idx,
				Reason: fmt.Sprintf("status transition %s -> %s", have.Status, ev.Status)}
		}
	}

	switch ev.Status {
	case StatusReverted:
		if ev.Lane == LaneChain && ent.AtOrBelowBaseline(ev.Ordinal) {
			return Verdict{Decision: Reject, Counterpart: -1, Reindex: true,
				Reason: fmt.Sprintf("revert at %s is beyond the revert window (baseline %s)", ev.Ordinal, *ent.Baseline)}
		}
		return Verdict{Decision: Reject, Counterpart: -1, Reason: "revert of an event that was never applied"}
	case StatusConfirmed:
		if ev.Lane == LaneChain && ent.AtOrBelowBaseline(ev.Ordinal) {
			return Verdict{Decision: SkipDuplicate, Counterpart: -1, Reason: "event already folded into baseline"}
		}
	}

	return Verdict{Decision: Apply, Counterpart: -1}
}
