package db

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_db_maintenance_runs_total",
			Help: "Database maintenance runs by outcome",
		},
		[]string{"outcome"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainreducer_db_maintenance_duration_seconds",
			Help:    "Time spent in database maintenance, including waiting for running operations",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), //nolint:mnd
		},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainreducer_db_maintenance_last_run_timestamp_seconds",
			Help: "Unix time of the last maintenance run",
		},
	)

	// step is "wal_checkpoint" (labelled with its mode) or "vacuum".
	maintenanceSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_db_maintenance_steps_total",
			Help: "Maintenance steps executed",
		},
		[]string{"step", "mode"},
	)

	reclaimedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainreducer_db_reclaimed_bytes_total",
			Help: "Bytes of database file reclaimed by maintenance",
		},
	)

	sizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainreducer_db_size_bytes",
			Help: "Size of the database file plus its WAL and shared memory files",
		},
	)

	migrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainreducer_db_migrations_applied_total",
			Help: "Schema migrations applied since start",
		},
	)
)

func maintenanceRunLog(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	maintenanceRuns.WithLabelValues(outcome).Inc()
	maintenanceDuration.Observe(d.Seconds())
	maintenanceLastRun.SetToCurrentTime()
}

func walCheckpointInc(mode string) {
	maintenanceSteps.WithLabelValues("wal_checkpoint", strings.ToLower(mode)).Inc()
}

func vacuumInc() {
	maintenanceSteps.WithLabelValues("vacuum", "").Inc()
}

// sizeLog records the current size and what the run reclaimed.
func sizeLog(before, after int64) {
	sizeBytes.Set(float64(after))
	if before > after {
		reclaimedBytes.Add(float64(before - after))
	}
}

func migrationsAppliedAdd(n int) {
	migrationsApplied.Add(float64(n))
}
