package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/db"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/russross/meddler"
)

const metricsDB = "entity_store"

//go:embed migrations/001_entities.sql
var mig001 string

// Migrations creates the entities and evicted_events tables.
var Migrations = []db.Migration{
	{
		ID:  "store_001_entities.sql",
		SQL: mig001,
	},
}

type entityRow struct {
	Family    string `meddler:"family"`
	ID        string `meddler:"id"`
	Version   uint64 `meddler:"version"`
	Document  string `meddler:"document"`
	UpdatedAt int64  `meddler:"updated_at"`
}

type evictedRow struct {
	ArchiveID     int64          `meddler:"archive_id,pk"`
	Family        string         `meddler:"family"`
	EntityID      string         `meddler:"entity_id"`
	EventID       string         `meddler:"event_id"`
	Status        string         `meddler:"status"`
	Lane          string         `meddler:"lane"`
	BlockNumber   uint64         `meddler:"block_number"`
	LogIndex      uint64         `meddler:"log_index"`
	MinorLogIndex uint64         `meddler:"minor_log_index"`
	Seq           uint64         `meddler:"seq"`
	TxHash        common.Hash    `meddler:"tx_hash,hash"`
	Source        common.Address `meddler:"source,address"`
	Kind          string         `meddler:"kind"`
	Payload       string         `meddler:"payload"`
	ArchivedAt    int64          `meddler:"archived_at"`
}

// SQLite stores the entities of one family as JSON documents in the shared
// entities table. Saves are conditional on the stored version and, when
// archiving is on, write the evicted events in the same transaction.
type SQLite[S reduce.State[S], P reduce.Payload] struct {
	database *sql.DB
	family   string
	codec    *reduce.Codec[S, P]
	archive  bool
	maint    db.Maintenance
	log      *logger.Logger
}

// NewSQLite creates a store for family on an already migrated database.
// maint may be nil.
func NewSQLite[S reduce.State[S], P reduce.Payload](
	database *sql.DB,
	family string,
	codec *reduce.Codec[S, P],
	archive bool,
	maint db.Maintenance,
	log *logger.Logger,
) *SQLite[S, P] {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQLite[S, P]{
		database: database,
		family:   family,
		codec:    codec,
		archive:  archive,
		maint:    maint,
		log:      log.WithComponent(internalcommon.ComponentEntityStore),
	}
}

func (s *SQLite[S, P]) Get(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	return s.get(ctx, s.database, id)
}

func (s *SQLite[S, P]) get(ctx context.Context, q meddler.DB, id string) (reduce.Entity[S, P], error) {
	start := time.Now()
	metrics.DBQueryInc(metricsDB, "get")
	defer func() { metrics.DBQueryDuration(metricsDB, "get", time.Since(start)) }()

	var row entityRow
	err := meddler.QueryRow(q, &row, "SELECT * FROM entities WHERE family = ? AND id = ?", s.family, id)
	if errors.Is(err, sql.ErrNoRows) {
		return reduce.Entity[S, P]{}, reduce.ErrNotFound
	}
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "get")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to get %s %s: %w", s.family, id, err)
	}
	if err := ctx.Err(); err != nil {
		return reduce.Entity[S, P]{}, err
	}

	ent, err := s.codec.Decode([]byte(row.Document))
	if err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to decode %s %s: %w", s.family, id, err)
	}
	ent.ID = id
	ent.Version = row.Version
	return ent, nil
}

func (s *SQLite[S, P]) CreateIfAbsent(ctx context.Context, id string) (reduce.Entity[S, P], error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	doc, err := s.codec.Encode(s.codec.NewEntity(id))
	if err != nil {
		return reduce.Entity[S, P]{}, err
	}

	metrics.DBQueryInc(metricsDB, "create")
	_, err = s.database.ExecContext(ctx, `
		INSERT INTO entities (family, id, version, document, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(family, id) DO NOTHING
	`, s.family, id, string(doc), time.Now().UTC().Unix())
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "create")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to create %s %s: %w", s.family, id, err)
	}

	return s.get(ctx, s.database, id)
}

func (s *SQLite[S, P]) Save(ctx context.Context, ent reduce.Entity[S, P]) (reduce.Entity[S, P], error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	metrics.DBQueryInc(metricsDB, "save")
	defer func() { metrics.DBQueryDuration(metricsDB, "save", time.Since(start)) }()

	saved := ent.Clone()
	saved.Version = ent.Version + 1
	saved.Evicted = nil

	doc, err := s.codec.Encode(saved)
	if err != nil {
		return reduce.Entity[S, P]{}, err
	}

	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	now := time.Now().UTC().Unix()
	res, err := tx.ExecContext(ctx, `
		UPDATE entities SET version = ?, document = ?, updated_at = ?
		WHERE family = ? AND id = ? AND version = ?
	`, saved.Version, string(doc), now, s.family, ent.ID, ent.Version)
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "save")
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to save %s %s: %w", s.family, ent.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		if ent.Version != 0 {
			return reduce.Entity[S, P]{}, reduce.ErrWriteConflict
		}
		// version 0 may also mean the row was never created
		res, err = tx.ExecContext(ctx, `
			INSERT INTO entities (family, id, version, document, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(family, id) DO NOTHING
		`, s.family, ent.ID, saved.Version, string(doc), now)
		if err != nil {
			metrics.DBErrorsInc(metricsDB, "save")
			return reduce.Entity[S, P]{}, fmt.Errorf("failed to insert %s %s: %w", s.family, ent.ID, err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return reduce.Entity[S, P]{}, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return reduce.Entity[S, P]{}, reduce.ErrWriteConflict
		}
	}

	if s.archive && len(ent.Evicted) > 0 {
		if err := s.archiveTx(ctx, tx, ent.ID, ent.Evicted, now); err != nil {
			return reduce.Entity[S, P]{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return reduce.Entity[S, P]{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debugw("entity saved",
		"family", s.family, "id", ent.ID, "version", saved.Version,
		"window", len(saved.RevertableEvents), "archived", len(ent.Evicted))
	return saved, nil
}

func (s *SQLite[S, P]) archiveTx(ctx context.Context, tx *sql.Tx, id string, events []reduce.Event[P], now int64) error {
	const insert = `
		INSERT INTO evicted_events (
			family, entity_id, event_id, status, lane, block_number, log_index, minor_log_index,
			seq, tx_hash, source, kind, payload, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(family, entity_id, event_id, status) DO NOTHING
	`
	for _, ev := range events {
		kind, data, err := s.codec.Encode(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to archive event %s: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx, insert,
			s.family, id, string(ev.ID), ev.Status.String(), ev.Lane.String(),
			ev.Ordinal.BlockNumber, ev.Ordinal.LogIndex, ev.Ordinal.MinorLogIndex,
			ev.Seq, ev.TxHash.Hex(), ev.Source.Hex(), kind, string(data), now,
		)
		if err != nil {
			metrics.DBErrorsInc(metricsDB, "archive")
			return fmt.Errorf("failed to archive event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// Archived returns the events evicted from the window of id, in the order
// they were archived.
func (s *SQLite[S, P]) Archived(ctx context.Context, id string) ([]reduce.Event[P], error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	metrics.DBQueryInc(metricsDB, "archived")

	var rows []*evictedRow
	err := meddler.QueryAll(s.database, &rows,
		"SELECT * FROM evicted_events WHERE family = ? AND entity_id = ? ORDER BY archive_id ASC",
		s.family, id)
	if err != nil {
		metrics.DBErrorsInc(metricsDB, "archived")
		return nil, fmt.Errorf("failed to query archive of %s %s: %w", s.family, id, err)
	}

	events := make([]reduce.Event[P], 0, len(rows))
	for _, row := range rows {
		ev, err := s.rowToEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, ctx.Err()
}

func (s *SQLite[S, P]) rowToEvent(row *evictedRow) (reduce.Event[P], error) {
	var (
		ev   reduce.Event[P]
		err  error
		lane reduce.Lane
	)
	if ev.Status, err = reduce.ParseStatus(row.Status); err != nil {
		return ev, err
	}
	if err = lane.UnmarshalText([]byte(row.Lane)); err != nil {
		return ev, err
	}
	if ev.Payload, err = s.codec.PayloadCodec.Decode(row.Kind, []byte(row.Payload)); err != nil {
		return ev, fmt.Errorf("archived event %s: %w", row.EventID, err)
	}
	ev.ID = reduce.EventID(row.EventID)
	ev.Lane = lane
	ev.Ordinal = reduce.Ordinal{
		BlockNumber:   row.BlockNumber,
		LogIndex:      row.LogIndex,
		MinorLogIndex: row.MinorLogIndex,
	}
	ev.Seq = row.Seq
	ev.TxHash = row.TxHash
	ev.Source = row.Source
	return ev, nil
}

// IDs returns the ids stored for the family, sorted.
func (s *SQLite[S, P]) IDs(ctx context.Context) ([]string, error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	rows, err := s.database.QueryContext(ctx, "SELECT id FROM entities WHERE family = ? ORDER BY id ASC", s.family)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", s.family, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
