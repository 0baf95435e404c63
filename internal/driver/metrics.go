package driver

import (
	"time"

	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_updates_total",
			Help: "Total number of entity updates by result",
		},
		[]string{"family", "result"},
	)

	decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_decisions_total",
			Help: "Total number of events by apply policy decision",
		},
		[]string{"family", "decision"},
	)

	writeConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_write_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts",
		},
		[]string{"family"},
	)

	retriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_retries_exhausted_total",
			Help: "Total number of updates that gave up after repeated conflicts",
		},
		[]string{"family"},
	)

	foldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainreducer_driver_fold_duration_seconds",
			Help:    "Time spent folding events into an entity",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), //nolint:mnd
		},
		[]string{"family"},
	)

	updateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainreducer_driver_update_duration_seconds",
			Help:    "Duration of a full entity update including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	evictedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_evicted_events_total",
			Help: "Total number of events evicted from revert windows",
		},
		[]string{"family"},
	)

	compactionSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_compaction_skipped_total",
			Help: "Total number of compactions skipped because the window held nothing evictable",
		},
		[]string{"family"},
	)

	reindexRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_driver_reindex_requests_total",
			Help: "Total number of reindex requests raised",
		},
		[]string{"family"},
	)
)

func updateInc(family, result string) {
	updates.WithLabelValues(family, result).Inc()
}

func decisionInc(family string, d reduce.Decision) {
	decisions.WithLabelValues(family, d.String()).Inc()
}

func writeConflictInc(family string) {
	writeConflicts.WithLabelValues(family).Inc()
}

func retriesExhaustedInc(family string) {
	retriesExhausted.WithLabelValues(family).Inc()
}

func foldDurationLog(family string, d time.Duration) {
	foldDuration.WithLabelValues(family).Observe(d.Seconds())
}

func updateDurationLog(family string, d time.Duration) {
	updateDuration.WithLabelValues(family).Observe(d.Seconds())
}

func evictedEventsAdd(family string, n int) {
	if n > 0 {
		evictedEvents.WithLabelValues(family).Add(float64(n))
	}
}

func compactionSkippedInc(family string) {
	compactionSkipped.WithLabelValues(family).Inc()
}

func reindexRequestInc(family string) {
	reindexRequests.WithLabelValues(family).Inc()
}
