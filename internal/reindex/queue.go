// Package reindex keeps the queue of entities that need a full re-derivation.
package reindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/russross/meddler"
)

const metricsDB = "reindex_queue"

//go:embed migrations/001_reindex_requests.sql
var mig001 string

// Migrations creates the reindex_requests table.
var Migrations = []db.Migration{
	{
		ID:  "reindex_001_reindex_requests.sql",
		SQL: mig001,
	},
}

var (
	requestsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_reindex_scheduled_total",
			Help: "Total number of reindex requests written to the queue",
		},
		[]string{"family"},
	)

	requestsDone = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_reindex_done_total",
			Help: "Total number of reindex requests completed",
		},
		[]string{"family"},
	)
)

// Task is a queued reindex request.
type Task struct {
	ID int64
	reduce.ReindexRequest
	CreatedAt time.Time
}

type requestRow struct {
	RequestID     int64  `meddler:"request_id,pk"`
	Family        string `meddler:"family"`
	EntityID      string `meddler:"entity_id"`
	EventID       string `meddler:"event_id"`
	BlockNumber   uint64 `meddler:"block_number"`
	LogIndex      uint64 `meddler:"log_index"`
	MinorLogIndex uint64 `meddler:"minor_log_index"`
	Reason        string `meddler:"reason"`
	CreatedAt     int64  `meddler:"created_at"`
	DoneAt        *int64 `meddler:"done_at"`
}

// Queue is the SQLite reindex queue. Requests are unique per family,
// entity and event; scheduling a finished request again reopens it.
type Queue struct {
	database *sql.DB
	maint    db.Maintenance
	log      *logger.Logger
}

var _ reduce.ReindexScheduler = (*Queue)(nil)

// New creates a Queue on an already migrated database. maint may be nil.
func New(database *sql.DB, maint db.Maintenance, log *logger.Logger) *Queue {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Queue{
		database: database,
		maint:    maint,
		log:      log.WithComponent(internalcommon.ComponentReindex),
	}
}

// ScheduleReindex queues req.
func (q *Queue) ScheduleReindex(ctx context.Context, req reduce.ReindexRequest) error {
	unlock := q.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "schedule")
	_, err := q.database.ExecContext(ctx, `
		INSERT INTO reindex_requests (
			family, entity_id, event_id, block_number, log_index, minor_log_index, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(family, entity_id, event_id) DO UPDATE SET
			reason = excluded.reason, done_at = NULL
	`, req.Family, req.EntityID, string(req.EventID),
		req.Ordinal.BlockNumber, req.Ordinal.LogIndex, req.Ordinal.MinorLogIndex,
		req.Reason, time.Now().UTC().Unix())
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "schedule")
		return fmt.Errorf("failed to schedule reindex of %s %s: %w", req.Family, req.EntityID, err)
	}

	requestsScheduled.WithLabelValues(req.Family).Inc()
	q.log.Infow("reindex scheduled", "family", req.Family, "id", req.EntityID, "event", req.EventID, "reason", req.Reason)
	return nil
}

// Pending returns up to limit open tasks, oldest first. A limit of zero or
// less returns all of them.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Task, error) {
	unlock := q.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "pending")
	query := "SELECT * FROM reindex_requests WHERE done_at IS NULL ORDER BY request_id ASC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []*requestRow
	if err := meddler.QueryAll(q.database, &rows, query, args...); err != nil {
		metrics.DBErrorsInc(metricsDB, "pending")
		return nil, fmt.Errorf("failed to query pending reindex requests: %w", err)
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, Task{
			ID: row.RequestID,
			ReindexRequest: reduce.ReindexRequest{
				Family:   row.Family,
				EntityID: row.EntityID,
				EventID:  reduce.EventID(row.EventID),
				Ordinal: reduce.Ordinal{
					BlockNumber:   row.BlockNumber,
					LogIndex:      row.LogIndex,
					MinorLogIndex: row.MinorLogIndex,
				},
				Reason: row.Reason,
			},
			CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		})
	}
	return tasks, ctx.Err()
}

// MarkDone closes the given tasks.
func (q *Queue) MarkDone(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	unlock := q.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "mark_done")
	tx, err := q.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			q.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	now := time.Now().UTC().Unix()
	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx,
			"UPDATE reindex_requests SET done_at = ? WHERE request_id = ?", now, task.ID); err != nil {
			metrics.DBErrorsInc(metricsDB, "mark_done")
			return fmt.Errorf("failed to mark reindex request %d done: %w", task.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, task := range tasks {
		requestsDone.WithLabelValues(task.Family).Inc()
	}
	return nil
}

// RebuildFunc re-derives the given entities of one family.
type RebuildFunc func(ctx context.Context, family string, ids []string) error

// Drain rebuilds up to limit pending tasks, one family at a time, and marks
// the tasks of every family whose rebuild succeeded as done. It returns the
// number of tasks completed.
func (q *Queue) Drain(ctx context.Context, limit int, rebuild RebuildFunc) (int, error) {
	tasks, err := q.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}

	byFamily := make(map[string][]Task)
	var order []string
	for _, task := range tasks {
		if _, ok := byFamily[task.Family]; !ok {
			order = append(order, task.Family)
		}
		byFamily[task.Family] = append(byFamily[task.Family], task)
	}

	var (
		done int
		errs []error
	)
	for _, family := range order {
		familyTasks := byFamily[family]
		seen := make(map[string]struct{}, len(familyTasks))
		ids := make([]string, 0, len(familyTasks))
		for _, task := range familyTasks {
			if _, dup := seen[task.EntityID]; !dup {
				seen[task.EntityID] = struct{}{}
				ids = append(ids, task.EntityID)
			}
		}

		if err := rebuild(ctx, family, ids); err != nil {
			q.log.Warnw("reindex failed", "family", family, "ids", len(ids), "error", err)
			errs = append(errs, fmt.Errorf("family %s: %w", family, err))
			continue
		}
		if err := q.MarkDone(ctx, familyTasks...); err != nil {
			errs = append(errs, err)
			continue
		}
		done += len(familyTasks)
		q.log.Infow("reindex completed", "family", family, "ids", len(ids), "tasks", len(familyTasks))
	}
	return done, errors.Join(errs...)
}
