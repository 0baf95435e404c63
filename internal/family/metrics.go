package family

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsFolded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_events_folded_total",
			Help: "Total number of events folded into entities by family, kind and status",
		},
		[]string{"family", "kind", "status"},
	)

	eventsUndone = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainreducer_events_undone_total",
			Help: "Total number of window events undone by the inverse chain",
		},
		[]string{"family", "kind", "status"},
	)
)

func eventFoldedInc(family, kind, status string) {
	eventsFolded.WithLabelValues(family, kind, status).Inc()
}

func eventUndoneInc(family, kind, status string) {
	eventsUndone.WithLabelValues(family, kind, status).Inc()
}
