package reduce

import "fmt"

// Chain is an ordered set of step reducers plus the policy that gates them.
// It holds no data and is safe for concurrent use.
type Chain[S State[S], P Payload] struct {
	family string
	policy Policy[S, P]
	steps  []StepReducer[S, P]
	window *WindowManager[S, P]
}

// NewChain creates a chain running steps in the given order. If one of the
// steps is a *WindowManager it also serves MaybeCompact.
func NewChain[S State[S], P Payload](family string, policy Policy[S, P], steps ...StepReducer[S, P]) *Chain[S, P] {
	if policy == nil {
		policy = ApplyPolicy[S, P]{}
	}
	c := &Chain[S, P]{
		family: family,
		policy: policy,
		steps:  steps,
	}
	for _, step := range steps {
		if w, ok := step.(*WindowManager[S, P]); ok {
			c.window = w
		}
	}
	return c
}

// Family returns the entity family the chain reduces.
func (c *Chain[S, P]) Family() string {
	return c.family
}

// Steps returns the step names in execution order.
func (c *Chain[S, P]) Steps() []string {
	names := make([]string, len(c.steps))
	for i, step := range c.steps {
		names[i] = step.Name()
	}
	return names
}

// Window returns the chain's window manager, or nil.
func (c *Chain[S, P]) Window() *WindowManager[S, P] {
	return c.window
}

// Validate checks an event structurally.
func (c *Chain[S, P]) Validate(ev Event[P]) error {
	if any(ev.Payload) == nil {
		return NewValidationError(ev.ID, "", fmt.Errorf("missing payload"))
	}
	kind := ev.Payload.Kind()
	if ev.ID == "" {
		return NewValidationError(ev.ID, kind, fmt.Errorf("missing event id"))
	}
	if !ev.Status.IsValid() {
		return NewValidationError(ev.ID, kind, fmt.Errorf("invalid status %d", uint8(ev.Status)))
	}
	if ev.Lane == LaneLazy && ev.Status != StatusConfirmed {
		return NewValidationError(ev.ID, kind, fmt.Errorf("lazy events must be confirmed, got %s", ev.Status))
	}
	if err := ev.Payload.Validate(); err != nil {
		return NewValidationError(ev.ID, kind, err)
	}
	return nil
}

// Reduce folds a single event into ent. Reverted events run the inverse
// chain against the window entry they undo; other statuses run the forward
// chain and are recorded in the window. ent itself is never modified.
//
// An invalid event returns ent unchanged with a *ValidationError.
func (c *Chain[S, P]) Reduce(ent Entity[S, P], ev Event[P]) (Entity[S, P], Verdict, error) {
	if err := c.Validate(ev); err != nil {
		return ent, Verdict{Decision: Reject, Counterpart: -1, Reason: err.Error()}, err
	}

	verdict := c.policy.Decide(ent, ev)
	if verdict.Decision != Apply {
		return ent, verdict, nil
	}

	next := ent.Clone()
	if verdict.Counterpart >= 0 {
		undone := next.RevertableEvents[verdict.Counterpart]
		next.removeEventAt(verdict.Counterpart)
		next = c.inverse(next, undone)
	}

	if ev.Status != StatusReverted {
		next = c.forward(next, ev)
		if ev.Lane == LaneChain {
			next.insertEvent(ev)
		}
	}

	return next, verdict, nil
}

// Fold reduces events in order. Invalid events are skipped; their errors
// are returned alongside the folded entity.
func (c *Chain[S, P]) Fold(ent Entity[S, P], events []Event[P]) (Entity[S, P], []Verdict, []error) {
	verdicts := make([]Verdict, 0, len(events))
	var errs []error
	for _, ev := range events {
		next, verdict, err := c.Reduce(ent, ev)
		if err != nil {
			errs = append(errs, err)
		}
		verdicts = append(verdicts, verdict)
		ent = next
	}
	return ent, verdicts, errs
}

// Replay folds events into base with compaction disabled, the way the
// window was originally built. Replaying an entity's window against its
// pre-window state reproduces its state.
func (c *Chain[S, P]) Replay(base Entity[S, P], events []Event[P]) Entity[S, P] {
	ent := base.Clone()
	for _, ev := range events {
		for _, step := range c.steps {
			if _, ok := step.(*WindowManager[S, P]); ok {
				continue
			}
			ent = step.Forward(ent, ev)
		}
		if ev.Lane == LaneChain {
			ent.insertEvent(ev)
		}
	}
	return ent
}

// MaybeCompact runs the window manager outside of a reduction.
func (c *Chain[S, P]) MaybeCompact(ent Entity[S, P]) Entity[S, P] {
	if c.window == nil {
		return ent
	}
	return c.window.MaybeCompact(ent.Clone())
}

func (c *Chain[S, P]) forward(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	for _, step := range c.steps {
		ent = step.Forward(ent, ev)
	}
	return ent
}

// inverse runs the same steps in the same order, each undoing its own effect.
func (c *Chain[S, P]) inverse(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	for _, step := range c.steps {
		ent = step.Inverse(ent, ev)
	}
	return ent
}
