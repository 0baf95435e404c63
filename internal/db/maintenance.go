package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
)

// Maintenance keeps the shared SQLite file healthy while stores, the event
// log and the reindex queue write to it.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// AcquireOperationLock acquires a shared lock for one database operation.
	// The returned func releases it.
	AcquireOperationLock() func()
	// GetMetrics returns current maintenance metrics.
	GetMetrics() MaintenanceMetrics
	// RunMaintenance performs a maintenance pass now.
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance is used when maintenance is not configured.
type NoOpMaintenance struct{}

func (*NoOpMaintenance) Start(context.Context) error          { return nil }
func (*NoOpMaintenance) Stop() error                          { return nil }
func (*NoOpMaintenance) RunMaintenance(context.Context) error { return nil }
func (*NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }
func (*NoOpMaintenance) GetMetrics() MaintenanceMetrics       { return MaintenanceMetrics{} }

// MaintenanceMetrics provides visibility into maintenance operations.
type MaintenanceMetrics struct {
	LastMaintenanceTime  time.Time
	MaintenanceCount     uint64
	LastMaintenanceError error
}

// MaintenanceCoordinator runs WAL checkpoints and VACUUM with exclusive
// access. Normal operations hold the read side of opLock, a maintenance
// pass holds the write side.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsLock sync.Mutex
	metrics     MaintenanceMetrics
}

// NewMaintenanceCoordinator returns a coordinator for db, or a no-op when cfg is nil.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MaintenanceCoordinator{
		db:     db,
		config: cfg,
		dbPath: dbPath,
		log:    log.WithComponent(common.ComponentMaintenance),
	}
}

// Start begins background maintenance if enabled, running one pass first
// when VacuumOnStartup is set.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}

	var workerCtx context.Context
	workerCtx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		m.log.Info("running startup maintenance")
		if err := m.RunMaintenance(workerCtx); err != nil {
			m.log.Warnw("startup maintenance failed", "error", err)
		}
	}

	m.wg.Add(1)
	go m.maintenanceWorker(workerCtx, m.config.CheckInterval.Duration)

	m.log.Infow("background maintenance started",
		"interval", m.config.CheckInterval.Duration, "checkpoint_mode", m.config.WALCheckpointMode)
	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("background maintenance stopped")
	return nil
}

func (m *MaintenanceCoordinator) maintenanceWorker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnw("periodic maintenance failed", "error", err)
			}
		}
	}
}

const bytesInMB = 1024 * 1024

// RunMaintenance checkpoints the WAL and vacuums. It waits for running
// operations to finish and blocks new ones until it is done.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now().UTC()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	before, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to get initial DB size", "error", err)
	}

	var errs []error
	if err := m.walCheckpoint(); err != nil {
		errs = append(errs, fmt.Errorf("WAL checkpoint failed: %w", err))
	}
	if err := Vacuum(m.db); err != nil {
		errs = append(errs, fmt.Errorf("VACUUM failed: %w", err))
	} else {
		vacuumInc()
	}

	after, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to get final DB size", "error", err)
	}

	duration := time.Since(start)
	runErr := errors.Join(errs...)

	m.metricsLock.Lock()
	m.metrics.LastMaintenanceTime = time.Now().UTC()
	m.metrics.MaintenanceCount++
	m.metrics.LastMaintenanceError = runErr
	m.metricsLock.Unlock()

	maintenanceRunLog(duration, runErr)
	sizeLog(before, after)

	if runErr != nil {
		m.log.Warnw("maintenance completed with errors", "duration", duration, "error", runErr)
		return runErr
	}

	if before > after {
		m.log.Infow("maintenance completed", "duration", duration, "reclaimed_mb", (before-after)/bytesInMB)
	} else {
		m.log.Infow("maintenance completed", "duration", duration)
	}
	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint() error {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		m.log.Debugw("database not in WAL mode, skipping checkpoint", "journal_mode", mode)
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)
	if err := m.db.QueryRow(query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	walCheckpointInc(m.config.WALCheckpointMode)
	m.log.Debugw("WAL checkpoint complete",
		"mode", m.config.WALCheckpointMode, "busy", busy, "log_frames", logFrames, "checkpointed", checkpointed)
	if busy > 0 {
		m.log.Warnw("WAL checkpoint left busy pages", "busy", busy)
	}
	return nil
}

// AcquireOperationLock acquires the shared side of the maintenance lock.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// GetMetrics returns current maintenance metrics.
func (m *MaintenanceCoordinator) GetMetrics() MaintenanceMetrics {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()
	return m.metrics
}
