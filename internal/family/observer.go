package family

import (
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// Observer is the last step of every chain. It records metrics and debug
// logs and never changes the entity.
type Observer[S reduce.State[S], P reduce.Payload] struct {
	family string
	log    *logger.Logger
}

// NewObserver creates a new Observer. A nil logger disables logging.
func NewObserver[S reduce.State[S], P reduce.Payload](family string, log *logger.Logger) Observer[S, P] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return Observer[S, P]{family: family, log: log}
}

func (o Observer[S, P]) Name() string { return "observer" }

func (o Observer[S, P]) Forward(ent reduce.Entity[S, P], ev reduce.Event[P]) reduce.Entity[S, P] {
	eventFoldedInc(o.family, ev.Payload.Kind(), ev.Status.String())
	o.log.Debugw("event folded",
		"family", o.family,
		"entity", ent.ID,
		"event", ev.ID,
		"kind", ev.Payload.Kind(),
		"status", ev.Status,
		"ordinal", ev.Ordinal,
	)
	return ent
}

func (o Observer[S, P]) Inverse(ent reduce.Entity[S, P], ev reduce.Event[P]) reduce.Entity[S, P] {
	eventUndoneInc(o.family, ev.Payload.Kind(), ev.Status.String())
	o.log.Debugw("event undone",
		"family", o.family,
		"entity", ent.ID,
		"event", ev.ID,
		"kind", ev.Payload.Kind(),
		"status", ev.Status,
	)
	return ent
}
