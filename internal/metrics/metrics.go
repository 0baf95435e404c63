package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"db", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainreducer_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"db", "error_type"},
	)

	// Scanning metrics
	LastScannedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainreducer_last_scanned_block",
			Help: "The last block number successfully scanned",
		},
		[]string{"scanner"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"scanner"},
	)

	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_events_decoded_total",
			Help: "Total number of entity events decoded from logs",
		},
		[]string{"family"},
	)

	ChunkProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainreducer_chunk_processing_duration_seconds",
			Help:    "Time taken to scan, record and reduce a chunk of blocks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scanner"},
	)

	ScanRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainreducer_scan_rate_blocks_per_second",
			Help: "Current scan rate in blocks per second",
		},
		[]string{"scanner"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainreducer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainreducer_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainreducer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainreducer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(db string, operation string) {
	dbQueries.WithLabelValues(db, operation).Inc()
}

func DBQueryDuration(db string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(db, operation).Observe(duration.Seconds())
}

func DBErrorsInc(db string, errorType string) {
	dbErrors.WithLabelValues(db, errorType).Inc()
}

func ChunkProcessingTimeLog(scanner string, duration time.Duration) {
	ChunkProcessingTime.WithLabelValues(scanner).Observe(duration.Seconds())
}

func LastScannedBlockSet(scanner string, blockNum uint64) {
	LastScannedBlock.WithLabelValues(scanner).Set(float64(blockNum))
}

func BlocksProcessedInc(scanner string, count uint64) {
	BlocksProcessed.WithLabelValues(scanner).Add(float64(count))
}

func EventsDecodedInc(family string, count int) {
	EventsDecoded.WithLabelValues(family).Add(float64(count))
}

func ScanRateLog(scanner string, rate float64) {
	ScanRate.WithLabelValues(scanner).Set(rate)
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
