package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Updater is the family-agnostic face of a Driver.
type Updater interface {
	Family() string
	UpdateIDs(ctx context.Context, ids []string) error
	RebuildIDs(ctx context.Context, ids []string) error
}

// Dispatcher routes entity ids to the driver of their family.
type Dispatcher struct {
	updaters map[string]Updater
	log      *logger.Logger
}

// NewDispatcher creates a new Dispatcher over the given updaters.
func NewDispatcher(log *logger.Logger, updaters ...Updater) *Dispatcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	d := &Dispatcher{
		updaters: make(map[string]Updater, len(updaters)),
		log:      log,
	}
	for _, u := range updaters {
		d.updaters[u.Family()] = u
	}
	return d
}

// Families returns the registered families, sorted.
func (d *Dispatcher) Families() []string {
	return slices.Sorted(maps.Keys(d.updaters))
}

// Updater returns the updater registered for family.
func (d *Dispatcher) Updater(family string) (Updater, bool) {
	u, ok := d.updaters[family]
	return u, ok
}

// Dispatch updates the ids of every family concurrently. Ids of a family
// without an updater are logged and dropped. Failures of one family do not
// stop the others; the returned error joins them.
func (d *Dispatcher) Dispatch(ctx context.Context, ids map[string][]string) error {
	return d.each(ids, func(u Updater, ids []string) error {
		return u.UpdateIDs(ctx, ids)
	})
}

// Rebuild rebuilds the ids of every family.
func (d *Dispatcher) Rebuild(ctx context.Context, ids map[string][]string) error {
	return d.each(ids, func(u Updater, ids []string) error {
		return u.RebuildIDs(ctx, ids)
	})
}

func (d *Dispatcher) each(ids map[string][]string, fn func(Updater, []string) error) error {
	var g errgroup.Group
	errs := make([]error, 0, len(ids))
	results := make(chan error, len(ids))

	for family, familyIDs := range ids {
		if len(familyIDs) == 0 {
			continue
		}
		u, ok := d.updaters[family]
		if !ok {
			d.log.Warnw("no driver for family, ids dropped", "family", family, "ids", len(familyIDs))
			continue
		}
		g.Go(func() error {
			if err := fn(u, familyIDs); err != nil {
				results <- fmt.Errorf("family %s: %w", family, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for err := range results {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
