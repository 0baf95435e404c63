// Package family holds what the entity families share: their names, the
// chain layout and the observer step.
package family

import (
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// Entity family names.
const (
	Item      = "item"
	Ownership = "ownership"
	Token     = "token"
	Order     = "order"
)

// All lists the families in dispatch order.
var All = []string{Item, Ownership, Token, Order}

// NewChain builds the standard chain of a family: lifecycle bookkeeping,
// the compaction check, the family's value steps and finally the observer.
func NewChain[S reduce.State[S], P reduce.Payload](
	name string,
	cfg reduce.WindowConfig,
	log *logger.Logger,
	values ...reduce.StepReducer[S, P],
) *reduce.Chain[S, P] {
	steps := make([]reduce.StepReducer[S, P], 0, len(values)+3) //nolint:mnd
	steps = append(steps,
		reduce.LifecycleStep[S, P]{},
		reduce.NewWindowManager[S, P](cfg),
	)
	steps = append(steps, values...)
	steps = append(steps, NewObserver[S, P](name, log))
	return reduce.NewChain[S, P](name, nil, steps...)
}
