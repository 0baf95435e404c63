// Package driver runs the read-fold-write cycle of entity reduction.
//
// A Driver reduces the entities of one family. Updates for the same id are
// serialized in-process and every write is conditional on the version that
// was read, so concurrent writers elsewhere only cost a retry.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"golang.org/x/sync/errgroup"
)

const (
	resultSaved     = "saved"
	resultUnchanged = "unchanged"
	resultFailed    = "failed"
)

// Params holds the collaborators of a Driver. Notifier and Reindex are optional.
type Params[S reduce.State[S], P reduce.Payload] struct {
	Chain    *reduce.Chain[S, P]
	Codec    *reduce.Codec[S, P]
	Source   reduce.EventSource[P]
	Store    reduce.EntityStore[S, P]
	Notifier reduce.Notifier[S, P]
	Reindex  reduce.ReindexScheduler
}

// Driver reduces the entities of one family.
type Driver[S reduce.State[S], P reduce.Payload] struct {
	family   string
	chain    *reduce.Chain[S, P]
	codec    *reduce.Codec[S, P]
	source   reduce.EventSource[P]
	store    reduce.EntityStore[S, P]
	notifier reduce.Notifier[S, P]
	reindex  reduce.ReindexScheduler

	cfg   config.ReducerConfig
	locks *keyedMutex
	log   *logger.Logger
}

// New creates a Driver for the family of p.Chain.
func New[S reduce.State[S], P reduce.Payload](p Params[S, P], cfg config.ReducerConfig, log *logger.Logger) *Driver[S, P] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Driver[S, P]{
		family:   p.Chain.Family(),
		chain:    p.Chain,
		codec:    p.Codec,
		source:   p.Source,
		store:    p.Store,
		notifier: p.Notifier,
		reindex:  p.Reindex,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		log:      log,
	}
}

// Family returns the entity family this driver reduces.
func (d *Driver[S, P]) Family() string {
	return d.family
}

// attempt is the outcome of one read-fold-write cycle.
type attempt[S reduce.State[S], P reduce.Payload] struct {
	old      reduce.Entity[S, P]
	updated  reduce.Entity[S, P]
	saved    bool
	invalid  []error
	reindex  []reduce.ReindexRequest
	evicted  int
	verdicts int
}

// Update folds every event recorded for id since its last update and saves
// the result. Events that fail validation are skipped; the entity is still
// saved and the returned error joins their *reduce.ValidationError values.
// A write that keeps conflicting ends in a *RetryExhaustedError.
func (d *Driver[S, P]) Update(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	return d.run(ctx, id, false)
}

// Rebuild re-derives id from genesis: zero state, zero cursors and a fold over
// every recorded event. The result replaces the stored entity.
func (d *Driver[S, P]) Rebuild(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	return d.run(ctx, id, true)
}

func (d *Driver[S, P]) run(ctx context.Context, id string, rebuild bool) (reduce.Entity[S, P], error) {
	var zero reduce.Entity[S, P]

	unlock, err := d.locks.Lock(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("failed to lock %s %s: %w", d.family, id, err)
	}
	defer unlock()

	start := time.Now()
	defer func() { updateDurationLog(d.family, time.Since(start)) }()

	var res attempt[S, P]
	onConflict := func(n int, err error) {
		writeConflictInc(d.family)
		d.log.Debugw("write conflict, retrying", "family", d.family, "id", id, "attempt", n, "error", err)
	}
	err = withOptimisticRetry(ctx, &d.cfg.Retry, d.family, id, onConflict, func(int) error {
		var err error
		res, err = d.cycle(ctx, id, rebuild)
		return err
	})
	if err != nil {
		updateInc(d.family, resultFailed)
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			retriesExhaustedInc(d.family)
			d.log.Warnw("update gave up", "family", d.family, "id", id, "attempts", exhausted.Attempts)
		}
		return zero, err
	}

	if !res.saved {
		updateInc(d.family, resultUnchanged)
		return res.updated, errors.Join(res.invalid...)
	}

	updateInc(d.family, resultSaved)
	evictedEventsAdd(d.family, res.evicted)
	d.log.Debugw("entity saved",
		"family", d.family, "id", id, "version", res.updated.Version,
		"events", res.verdicts, "window", len(res.updated.RevertableEvents), "rebuild", rebuild)

	d.scheduleReindex(ctx, res.reindex)
	if d.notifier != nil {
		if err := d.notifier.Notify(ctx, res.old, res.updated); err != nil {
			d.log.Warnw("failed to notify entity update", "family", d.family, "id", id, "error", err)
		}
	}

	return res.updated, errors.Join(res.invalid...)
}

// cycle reads the entity, folds the new events and writes it back.
func (d *Driver[S, P]) cycle(ctx context.Context, id string, rebuild bool) (attempt[S, P], error) {
	var res attempt[S, P]

	stored, err := d.store.CreateIfAbsent(ctx, id)
	if err != nil {
		return res, fmt.Errorf("failed to load %s %s: %w", d.family, id, err)
	}
	res.old = stored

	base := stored
	if rebuild {
		base = d.codec.NewEntity(id)
		base.Version = stored.Version
	}

	confirmed, err := d.source.ConfirmedEvents(ctx, id, base.Cursor.Chain)
	if err != nil {
		return res, fmt.Errorf("failed to read confirmed events of %s %s: %w", d.family, id, err)
	}
	lazy, err := d.source.LazyEvents(ctx, id, base.Cursor.Lazy)
	if err != nil {
		return res, fmt.Errorf("failed to read lazy events of %s %s: %w", d.family, id, err)
	}

	next := d.fold(base, reduce.OrderBatch(base, reduce.Merge(lazy, confirmed)), &res)
	for _, ev := range confirmed {
		next.Cursor.Chain = max(next.Cursor.Chain, ev.Seq)
	}
	for _, ev := range lazy {
		next.Cursor.Lazy = max(next.Cursor.Lazy, ev.Seq)
	}

	if !rebuild {
		// a compaction skipped earlier runs again without new events
		next = d.chain.MaybeCompact(next)
		if w := d.chain.Window(); w != nil && w.Skipped(next) {
			compactionSkippedInc(d.family)
			d.log.Warnw("revert window is full of pending events, compaction skipped",
				"family", d.family, "id", id, "window", len(next.RevertableEvents))
		}
	}

	if !rebuild && len(confirmed) == 0 && len(lazy) == 0 && len(next.Evicted) == 0 {
		res.updated = stored
		return res, nil
	}

	res.evicted = len(next.Evicted)
	saved, err := d.store.Save(ctx, next)
	if err != nil {
		return res, fmt.Errorf("failed to save %s %s: %w", d.family, id, err)
	}
	saved.Evicted = nil
	res.updated = saved
	res.saved = true
	return res, nil
}

// fold reduces events into ent, recording skipped and rejected events in res.
func (d *Driver[S, P]) fold(ent reduce.Entity[S, P], events []reduce.Event[P], res *attempt[S, P]) reduce.Entity[S, P] {
	start := time.Now()
	defer func() { foldDurationLog(d.family, time.Since(start)) }()

	res.invalid = nil
	res.reindex = nil
	res.verdicts = len(events)

	for _, ev := range events {
		next, verdict, err := d.chain.Reduce(ent, ev)
		decisionInc(d.family, verdict.Decision)
		if err != nil {
			d.log.Warnw("event rejected", "family", d.family, "id", ent.ID, "event", ev.String(), "error", err)
			res.invalid = append(res.invalid, err)
			continue
		}

		switch verdict.Decision {
		case reduce.SkipDuplicate:
			d.log.Debugw("event skipped", "family", d.family, "id", ent.ID, "event", ev.String(), "reason", verdict.Reason)
		case reduce.Reject:
			d.log.Warnw("inconsistent event skipped", "family", d.family, "id", ent.ID,
				"event", ev.String(), "reason", verdict.Reason, "reindex", verdict.Reindex)
			if verdict.Reindex {
				res.reindex = append(res.reindex, reduce.ReindexRequest{
					Family:   d.family,
					EntityID: ent.ID,
					EventID:  ev.ID,
					Ordinal:  ev.Ordinal,
					Reason:   verdict.Reason,
				})
			}
		}
		ent = next
	}
	return ent
}

func (d *Driver[S, P]) scheduleReindex(ctx context.Context, reqs []reduce.ReindexRequest) {
	for _, req := range reqs {
		reindexRequestInc(d.family)
		if d.reindex == nil {
			continue
		}
		if err := d.reindex.ScheduleReindex(ctx, req); err != nil {
			d.log.Errorw("failed to schedule reindex", "family", req.Family, "id", req.EntityID, "error", err)
		}
	}
}

// UpdateBatch updates every distinct id in parallel, bounded by the
// configured worker count. A failing id does not stop the others; the
// returned error joins the failures.
func (d *Driver[S, P]) UpdateBatch(ctx context.Context, ids []string) (map[string]reduce.Entity[S, P], error) {
	var (
		mu      sync.Mutex
		results = make(map[string]reduce.Entity[S, P], len(ids))
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		g.Go(func() error {
			ent, err := d.Update(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", d.family, id, err))
			}
			if ent.ID != "" {
				results[id] = ent
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		d.log.Warnw("batch finished with errors", "family", d.family, "ids", len(seen), "failed", len(errs))
	} else {
		d.log.Debugw("batch finished", "family", d.family, "ids", len(seen))
	}
	return results, errors.Join(errs...)
}

// UpdateIDs is UpdateBatch without the results.
func (d *Driver[S, P]) UpdateIDs(ctx context.Context, ids []string) error {
	_, err := d.UpdateBatch(ctx, ids)
	return err
}

// RebuildIDs rebuilds the given ids one after another.
func (d *Driver[S, P]) RebuildIDs(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if _, err := d.Rebuild(ctx, id); err != nil && !errors.Is(err, reduce.ErrInvalidPayload) {
			errs = append(errs, fmt.Errorf("%s %s: %w", d.family, id, err))
		}
	}
	return errors.Join(errs...)
}
