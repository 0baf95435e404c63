package reduce

import "slices"

// WindowConfig bounds the revert window of a chain.
type WindowConfig struct {
	// ConfirmationDepth is how many blocks back a confirmed event stays revertible.
	ConfirmationDepth uint64
	// MaxRevertableEvents caps the window size. Zero disables the cap.
	MaxRevertableEvents int
}

// WindowManager evicts events that are confirmation-safe and compacts the
// window when it reaches its cap. It never touches state; evicted events
// are moved to Entity.Evicted and the baseline is raised past them.
//
// It is itself a StepReducer so a chain can place the compaction check
// at its declared position.
type WindowManager[S State[S], P Payload] struct {
	cfg WindowConfig
}

// NewWindowManager creates a new WindowManager.
func NewWindowManager[S State[S], P Payload](cfg WindowConfig) *WindowManager[S, P] {
	return &WindowManager[S, P]{cfg: cfg}
}

// Config returns the window configuration.
func (w *WindowManager[S, P]) Config() WindowConfig {
	return w.cfg
}

func (w *WindowManager[S, P]) Name() string { return "window" }

// Forward runs the compaction check against the head implied by ev.
// The incoming event is not in the window yet, so a full window is
// shrunk below its cap to make room for it.
func (w *WindowManager[S, P]) Forward(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	head := ent.HighestBlock()
	if ev.IsChainConfirmed() && ev.Ordinal.BlockNumber > head {
		head = ev.Ordinal.BlockNumber
	}
	return w.compact(ent, head)
}

func (w *WindowManager[S, P]) Inverse(ent Entity[S, P], _ Event[P]) Entity[S, P] {
	return ent
}

// MaybeCompact evicts confirmation-safe events relative to the highest
// block in the window and then enforces the size cap. It is idempotent.
func (w *WindowManager[S, P]) MaybeCompact(ent Entity[S, P]) Entity[S, P] {
	return w.compact(ent, ent.HighestBlock())
}

// Skipped reports whether the window is at its cap with nothing evictable,
// in which case compaction cannot run this cycle.
func (w *WindowManager[S, P]) Skipped(ent Entity[S, P]) bool {
	if w.cfg.MaxRevertableEvents <= 0 || len(ent.RevertableEvents) < w.cfg.MaxRevertableEvents {
		return false
	}
	for _, ev := range ent.RevertableEvents {
		if ev.Status == StatusConfirmed {
			return false
		}
	}
	return true
}

func (w *WindowManager[S, P]) aged(ev Event[P], head uint64) bool {
	return ev.Status == StatusConfirmed &&
		head >= ev.Ordinal.BlockNumber &&
		head-ev.Ordinal.BlockNumber > w.cfg.ConfirmationDepth
}

func (w *WindowManager[S, P]) compact(ent Entity[S, P], head uint64) Entity[S, P] {
	if len(ent.RevertableEvents) == 0 {
		return ent
	}

	kept := make([]Event[P], 0, len(ent.RevertableEvents))
	var evicted []Event[P]
	for _, ev := range ent.RevertableEvents {
		if w.aged(ev, head) {
			evicted = append(evicted, ev)
			continue
		}
		kept = append(kept, ev)
	}

	// size cap: drop the oldest confirmed events, never pending ones
	if limit := w.cfg.MaxRevertableEvents; limit > 0 && len(kept) >= limit {
		excess := len(kept) - limit + 1
		trimmed := kept[:0:0]
		for _, ev := range kept {
			if excess > 0 && ev.Status == StatusConfirmed {
				evicted = append(evicted, ev)
				excess--
				continue
			}
			trimmed = append(trimmed, ev)
		}
		kept = trimmed
	}

	if len(evicted) == 0 {
		return ent
	}

	for _, ev := range evicted {
		ent.raiseBaseline(ev.Ordinal)
	}
	ent.Evicted = append(slices.Clip(ent.Evicted), evicted...)
	if len(kept) == 0 {
		kept = nil
	}
	ent.RevertableEvents = kept
	return ent
}
