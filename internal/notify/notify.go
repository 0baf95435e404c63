// Package notify publishes entity changes produced by the reducers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chainreducer_notifications_total",
		Help: "Entity change notifications by family, sink and result",
	},
	[]string{"family", "sink", "result"},
)

// Change describes one entity update.
type Change struct {
	Family   string          `json:"family"`
	ID       string          `json:"id"`
	Version  uint64          `json:"version"`
	State    json.RawMessage `json:"state"`
	Previous json.RawMessage `json:"previous,omitempty"`
}

// Sink delivers changes somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, c Change) error
}

// Notifier turns entity updates of one family into Changes and fans them out
// to every sink. Updates that leave the state untouched are dropped.
type Notifier[S reduce.State[S], P reduce.Payload] struct {
	family string
	sinks  []Sink
	log    *logger.Logger
}

// New creates a Notifier for family.
func New[S reduce.State[S], P reduce.Payload](family string, log *logger.Logger, sinks ...Sink) *Notifier[S, P] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Notifier[S, P]{
		family: family,
		sinks:  sinks,
		log:    log.WithComponent(internalcommon.ComponentNotifier),
	}
}

// Notify sends the change from old to updated. Every sink is tried; their
// errors are joined.
func (n *Notifier[S, P]) Notify(ctx context.Context, old, updated reduce.Entity[S, P]) error {
	if len(n.sinks) == 0 {
		return nil
	}

	state, err := json.Marshal(updated.State)
	if err != nil {
		return fmt.Errorf("failed to encode state of %s %s: %w", n.family, updated.ID, err)
	}
	var previous []byte
	if old.Version > 0 {
		if previous, err = json.Marshal(old.State); err != nil {
			return fmt.Errorf("failed to encode previous state of %s %s: %w", n.family, old.ID, err)
		}
		if bytes.Equal(previous, state) {
			return nil
		}
	}

	c := Change{
		Family:   n.family,
		ID:       updated.ID,
		Version:  updated.Version,
		State:    state,
		Previous: previous,
	}

	var errs []error
	for _, s := range n.sinks {
		if err := s.Send(ctx, c); err != nil {
			notificationsTotal.WithLabelValues(n.family, s.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		notificationsTotal.WithLabelValues(n.family, s.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// LogSink writes every change to a logger.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &LogSink{log: log.WithComponent(internalcommon.ComponentNotifier)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, c Change) error {
	s.log.Infow("entity changed",
		"family", c.Family,
		"id", c.ID,
		"version", c.Version,
		"state", string(c.State),
	)
	return nil
}
