package reduce

import (
	"cmp"
	"slices"
)

// OrderBatch arranges the events read in one update cycle for folding into
// ent. events must already be in fold order (see Compare and Merge).
//
// Reverts run first, newest ordinal first, so that a log re-included at a
// different ordinal is applied only after its old entry has been undone.
// A revert cancels the records of the same id that arrived before it in the
// batch. It is then kept only if the window of ent still holds that id.
// At most one revert per id survives.
func OrderBatch[S State[S], P Payload](ent Entity[S, P], events []Event[P]) []Event[P] {
	dropped := make([]bool, len(events))
	seen := make(map[EventID]struct{})
	var reverts []Event[P]

	for i, r := range events {
		if r.Lane != LaneChain || r.Status != StatusReverted {
			continue
		}
		dropped[i] = true

		cancelled := false
		for j, e := range events {
			if dropped[j] || e.Lane != LaneChain || e.Status == StatusReverted {
				continue
			}
			if e.ID == r.ID && e.Seq <= r.Seq {
				dropped[j] = true
				cancelled = true
			}
		}

		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if _, inWindow := ent.Find(r.ID); cancelled && !inWindow {
			continue
		}
		reverts = append(reverts, r)
	}

	if len(seen) == 0 {
		return events
	}

	slices.SortStableFunc(reverts, func(a, b Event[P]) int {
		if c := b.Ordinal.Compare(a.Ordinal); c != 0 {
			return c
		}
		return cmp.Compare(b.Seq, a.Seq)
	})

	ordered := make([]Event[P], 0, len(events))
	ordered = append(ordered, reverts...)
	for i, ev := range events {
		if !dropped[i] {
			ordered = append(ordered, ev)
		}
	}
	return ordered
}
