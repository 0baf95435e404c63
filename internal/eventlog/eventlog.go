// Package eventlog is the durable record of every event the reducers fold.
//
// The chain lane holds decoded on-chain logs with their block coordinates,
// including PENDING and REVERTED records. The lazy lane holds off-chain
// events, which are final on arrival. Both lanes assign an increasing
// sequence that entities use as their cursor.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/russross/meddler"
)

const metricsDB = "event_log"

//go:embed migrations/001_event_log.sql
var mig001 string

// Migrations creates the event_log, lazy_events and scan_state tables.
var Migrations = []db.Migration{
	{
		ID:  "eventlog_001_event_log.sql",
		SQL: mig001,
	},
}

// Record is one event addressed to one entity, with its payload already
// encoded by the family's payload codec.
type Record struct {
	Family    string
	EntityID  string
	EventID   reduce.EventID
	Status    reduce.Status
	Ordinal   reduce.Ordinal
	BlockHash common.Hash
	TxHash    common.Hash
	Source    common.Address
	Kind      string
	Payload   []byte
}

// NewRecord encodes ev for entityID of family.
func NewRecord[P reduce.Payload](
	family, entityID string,
	ev reduce.Event[P],
	blockHash common.Hash,
	payloads *reduce.PayloadCodec[P],
) (Record, error) {
	kind, data, err := payloads.Encode(ev.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s event %s: %w", family, ev.ID, err)
	}
	return Record{
		Family:    family,
		EntityID:  entityID,
		EventID:   ev.ID,
		Status:    ev.Status,
		Ordinal:   ev.Ordinal,
		BlockHash: blockHash,
		TxHash:    ev.TxHash,
		Source:    ev.Source,
		Kind:      kind,
		Payload:   data,
	}, nil
}

// Affected groups the entity ids touched by records per family, without duplicates.
func Affected(records []Record) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]map[string]struct{})
	for _, r := range records {
		if seen[r.Family] == nil {
			seen[r.Family] = make(map[string]struct{})
		}
		if _, ok := seen[r.Family][r.EntityID]; ok {
			continue
		}
		seen[r.Family][r.EntityID] = struct{}{}
		out[r.Family] = append(out[r.Family], r.EntityID)
	}
	return out
}

type logRow struct {
	Seq           uint64         `meddler:"seq,pk"`
	Family        string         `meddler:"family"`
	EntityID      string         `meddler:"entity_id"`
	EventID       string         `meddler:"event_id"`
	Status        string         `meddler:"status"`
	BlockNumber   uint64         `meddler:"block_number"`
	LogIndex      uint64         `meddler:"log_index"`
	MinorLogIndex uint64         `meddler:"minor_log_index"`
	BlockHash     common.Hash    `meddler:"block_hash,hash"`
	TxHash        common.Hash    `meddler:"tx_hash,hash"`
	Source        common.Address `meddler:"source,address"`
	Kind          string         `meddler:"kind"`
	Payload       string         `meddler:"payload"`
	CreatedAt     int64          `meddler:"created_at"`
}

type lazyRow struct {
	Seq       uint64 `meddler:"seq,pk"`
	Family    string `meddler:"family"`
	EntityID  string `meddler:"entity_id"`
	EventID   string `meddler:"event_id"`
	Kind      string `meddler:"kind"`
	Payload   string `meddler:"payload"`
	CreatedAt int64  `meddler:"created_at"`
}

func (r *logRow) record() (Record, error) {
	status, err := reduce.ParseStatus(r.Status)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Family:   r.Family,
		EntityID: r.EntityID,
		EventID:  reduce.EventID(r.EventID),
		Status:   status,
		Ordinal: reduce.Ordinal{
			BlockNumber:   r.BlockNumber,
			LogIndex:      r.LogIndex,
			MinorLogIndex: r.MinorLogIndex,
		},
		BlockHash: r.BlockHash,
		TxHash:    r.TxHash,
		Source:    r.Source,
		Kind:      r.Kind,
		Payload:   []byte(r.Payload),
	}, nil
}

// Log is the SQLite event log shared by every family.
type Log struct {
	database *sql.DB
	maint    db.Maintenance
	log      *logger.Logger
}

// New creates a Log on an already migrated database. maint may be nil.
func New(database *sql.DB, maint db.Maintenance, log *logger.Logger) *Log {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Log{
		database: database,
		maint:    maint,
		log:      log.WithComponent(internalcommon.ComponentEventLog),
	}
}

const insertLog = `
	INSERT INTO event_log (
		family, entity_id, event_id, status, block_number, log_index, minor_log_index,
		block_hash, tx_hash, source, kind, payload, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(family, entity_id, event_id, status, block_hash) DO NOTHING
`

// Append writes chain lane records in one transaction. A record already
// present with the same status and block hash is ignored. It returns the
// number of records written.
func (l *Log) Append(ctx context.Context, records ...Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for _, r := range records {
		if !r.Status.IsValid() {
			return 0, fmt.Errorf("record %s of %s %s: invalid status %d", r.EventID, r.Family, r.EntityID, r.Status)
		}
	}

	written := 0
	err := l.withTx(ctx, "append", func(tx *sql.Tx) error {
		var err error
		written, err = l.insertTx(ctx, tx, records)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.Debugw("appended chain records", "records", len(records), "written", written)
	return written, nil
}

func (l *Log) insertTx(ctx context.Context, tx *sql.Tx, records []Record) (int, error) {
	now := time.Now().UTC().Unix()
	written := 0
	for _, r := range records {
		res, err := tx.ExecContext(ctx, insertLog,
			r.Family, r.EntityID, string(r.EventID), r.Status.String(),
			r.Ordinal.BlockNumber, r.Ordinal.LogIndex, r.Ordinal.MinorLogIndex,
			r.BlockHash.Hex(), r.TxHash.Hex(), r.Source.Hex(), r.Kind, string(r.Payload), now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append %s %s event %s: %w", r.Family, r.EntityID, r.EventID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	return written, nil
}

// AppendLazy writes lazy lane records. Their status, ordinal and chain
// coordinates are ignored; lazy events are confirmed by definition.
func (l *Log) AppendLazy(ctx context.Context, records ...Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	const insert = `
		INSERT INTO lazy_events (family, entity_id, event_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(family, entity_id, event_id) DO NOTHING
	`
	now := time.Now().UTC().Unix()
	written := 0
	err := l.withTx(ctx, "append_lazy", func(tx *sql.Tx) error {
		for _, r := range records {
			res, err := tx.ExecContext(ctx, insert, r.Family, r.EntityID, string(r.EventID), r.Kind, string(r.Payload), now)
			if err != nil {
				return fmt.Errorf("failed to append lazy %s %s event %s: %w", r.Family, r.EntityID, r.EventID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Debugw("appended lazy records", "records", len(records), "written", written)
	return written, nil
}

// RevertFrom appends a REVERTED record for every live pending or confirmed
// chain record at or above block, and returns the affected entity ids per
// family. A record is live until a REVERTED record with the same id and
// block hash follows it.
func (l *Log) RevertFrom(ctx context.Context, block uint64) (map[string][]string, error) {
	var reverted []Record
	err := l.withTx(ctx, "revert", func(tx *sql.Tx) error {
		var rows []*logRow
		err := meddler.QueryAll(tx, &rows, `
			SELECT * FROM event_log c
			WHERE c.status IN ('PENDING', 'CONFIRMED') AND c.block_number >= ?
			AND NOT EXISTS (
				SELECT 1 FROM event_log r
				WHERE r.status = 'REVERTED'
				AND r.family = c.family AND r.entity_id = c.entity_id
				AND r.event_id = c.event_id AND r.block_hash = c.block_hash
			)
			ORDER BY c.seq ASC
		`, block)
		if err != nil {
			return fmt.Errorf("failed to query records from block %d: %w", block, err)
		}

		reverted = make([]Record, 0, len(rows))
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			rec, err := row.record()
			if err != nil {
				return err
			}
			// pending and confirmed records of one log revert once
			key := rec.Family + "|" + rec.EntityID + "|" + string(rec.EventID) + "|" + rec.BlockHash.Hex()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			rec.Status = reduce.StatusReverted
			reverted = append(reverted, rec)
		}
		_, err = l.insertTx(ctx, tx, reverted)
		return err
	})
	if err != nil {
		return nil, err
	}

	affected := Affected(reverted)
	l.log.Infow("reverted chain records", "from_block", block, "records", len(reverted), "families", len(affected))
	return affected, nil
}

// EntityIDs returns every entity id of family that has records in either lane.
func (l *Log) EntityIDs(ctx context.Context, family string) ([]string, error) {
	unlock := l.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "entity_ids")
	rows, err := l.database.QueryContext(ctx, `
		SELECT entity_id FROM event_log WHERE family = ?
		UNION
		SELECT entity_id FROM lazy_events WHERE family = ?
		ORDER BY entity_id ASC
	`, family, family)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", family, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastScannedBlock returns the scan checkpoint. ok is false before the
// first checkpoint is written.
func (l *Log) LastScannedBlock(ctx context.Context) (block uint64, ok bool, err error) {
	unlock := l.maint.AcquireOperationLock()
	defer unlock()

	err = l.database.QueryRowContext(ctx, "SELECT last_block FROM scan_state WHERE id = 1").Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read scan checkpoint: %w", err)
	}
	return block, true, nil
}

// SetLastScannedBlock moves the scan checkpoint, backwards as well as forwards.
func (l *Log) SetLastScannedBlock(ctx context.Context, block uint64) error {
	return l.withTx(ctx, "checkpoint", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scan_state (id, last_block, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at
		`, block, time.Now().UTC().Unix())
		if err != nil {
			return fmt.Errorf("failed to write scan checkpoint: %w", err)
		}
		return nil
	})
}

func (l *Log) chainRecords(ctx context.Context, family, id string, afterSeq uint64) ([]*logRow, error) {
	unlock := l.maint.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	metrics.DBQueryInc(metricsDB, "chain_events")
	defer func() { metrics.DBQueryDuration(metricsDB, "chain_events", time.Since(start)) }()

	var rows []*logRow
	err := meddler.QueryAll(l.database, &rows,
		"SELECT * FROM event_log WHERE family = ? AND entity_id = ? AND seq > ? ORDER BY seq ASC",
		family, id, afterSeq)
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "chain_events")
		return nil, fmt.Errorf("failed to read %s %s events: %w", family, id, err)
	}
	return rows, ctx.Err()
}

func (l *Log) lazyRecords(ctx context.Context, family, id string, afterSeq uint64) ([]*lazyRow, error) {
	unlock := l.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "lazy_events")

	var rows []*lazyRow
	err := meddler.QueryAll(l.database, &rows,
		"SELECT * FROM lazy_events WHERE family = ? AND entity_id = ? AND seq > ? ORDER BY seq ASC",
		family, id, afterSeq)
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "lazy_events")
		return nil, fmt.Errorf("failed to read lazy %s %s events: %w", family, id, err)
	}
	return rows, ctx.Err()
}

func (l *Log) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	unlock := l.maint.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	metrics.DBQueryInc(metricsDB, op)
	defer func() { metrics.DBQueryDuration(metricsDB, op, time.Since(start)) }()

	tx, err := l.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			l.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		metrics.DBErrorsInc(metricsDB, op)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Source reads the events of one family from the log.
type Source[P reduce.Payload] struct {
	log      *Log
	family   string
	payloads *reduce.PayloadCodec[P]
}

// NewSource creates the event source of family.
func NewSource[P reduce.Payload](log *Log, family string, payloads *reduce.PayloadCodec[P]) *Source[P] {
	return &Source[P]{log: log, family: family, payloads: payloads}
}

// ConfirmedEvents returns the chain lane records of id after afterSeq,
// sorted for folding.
func (s *Source[P]) ConfirmedEvents(ctx context.Context, id string, afterSeq uint64) ([]reduce.Event[P], error) {
	rows, err := s.log.chainRecords(ctx, s.family, id, afterSeq)
	if err != nil {
		return nil, err
	}

	events := make([]reduce.Event[P], 0, len(rows))
	for _, row := range rows {
		status, err := reduce.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row.Seq, err)
		}
		payload, err := s.payloads.Decode(row.Kind, []byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row.Seq, err)
		}
		events = append(events, reduce.Event[P]{
			ID:     reduce.EventID(row.EventID),
			Status: status,
			Lane:   reduce.LaneChain,
			Ordinal: reduce.Ordinal{
				BlockNumber:   row.BlockNumber,
				LogIndex:      row.LogIndex,
				MinorLogIndex: row.MinorLogIndex,
			},
			Seq:     row.Seq,
			TxHash:  row.TxHash,
			Source:  row.Source,
			Payload: payload,
		})
	}
	slices.SortStableFunc(events, reduce.Compare[P])
	return events, nil
}

// LazyEvents returns the lazy lane records of id after afterSeq, in arrival order.
func (s *Source[P]) LazyEvents(ctx context.Context, id string, afterSeq uint64) ([]reduce.Event[P], error) {
	rows, err := s.log.lazyRecords(ctx, s.family, id, afterSeq)
	if err != nil {
		return nil, err
	}

	events := make([]reduce.Event[P], 0, len(rows))
	for _, row := range rows {
		payload, err := s.payloads.Decode(row.Kind, []byte(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("lazy record %d: %w", row.Seq, err)
		}
		events = append(events, reduce.Event[P]{
			ID:      reduce.EventID(row.EventID),
			Status:  reduce.StatusConfirmed,
			Lane:    reduce.LaneLazy,
			Seq:     row.Seq,
			Payload: payload,
		})
	}
	return events, nil
}
