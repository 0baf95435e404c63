package reduce

// StepReducer folds one concern of an event into an entity. Inverse must
// undo exactly what Forward did, computed from the event alone. Both must
// return the entity untouched for payload kinds they do not handle.
type StepReducer[S State[S], P Payload] interface {
	Name() string
	Forward(ent Entity[S, P], ev Event[P]) Entity[S, P]
	Inverse(ent Entity[S, P], ev Event[P]) Entity[S, P]
}

// StateStep adapts a pair of state-only functions into a StepReducer.
type StateStep[S State[S], P Payload] struct {
	StepName string
	Apply    func(state S, ev Event[P]) S
	Revert   func(state S, ev Event[P]) S
}

func (s StateStep[S, P]) Name() string { return s.StepName }

func (s StateStep[S, P]) Forward(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	if s.Apply != nil {
		ent.State = s.Apply(ent.State, ev)
	}
	return ent
}

func (s StateStep[S, P]) Inverse(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	if s.Revert != nil {
		ent.State = s.Revert(ent.State, ev)
	}
	return ent
}

// LifecycleStep counts the pending and confirmed events folded into an entity.
type LifecycleStep[S State[S], P Payload] struct{}

func (LifecycleStep[S, P]) Name() string { return "lifecycle" }

func (LifecycleStep[S, P]) Forward(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	switch ev.Status {
	case StatusPending:
		ent.Lifecycle.Pending++
	case StatusConfirmed:
		ent.Lifecycle.Applied++
	}
	return ent
}

func (LifecycleStep[S, P]) Inverse(ent Entity[S, P], ev Event[P]) Entity[S, P] {
	switch ev.Status {
	case StatusPending:
		ent.Lifecycle.Pending--
	case StatusConfirmed:
		ent.Lifecycle.Applied--
	}
	return ent
}
