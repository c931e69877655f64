package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for snapshot computation
var (
	snapshotsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vire_analytics",
			Subsystem: "snapshots",
			Name:      "computed_total",
			Help:      "Snapshots computed, by calculation status",
		},
		[]string{"status"},
	)

	snapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vire_analytics",
			Subsystem: "snapshots",
			Name:      "writes_total",
			Help:      "Snapshot upserts, by whether stored content changed",
		},
		[]string{"changed"},
	)

	computeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vire_analytics",
			Subsystem: "snapshots",
			Name:      "errors_total",
			Help:      "Snapshot computations aborted by an error",
		},
	)

	computeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vire_analytics",
			Subsystem: "snapshots",
			Name:      "compute_duration_seconds",
			Help:      "Duration of snapshot computation including the upsert",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	backfillDates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vire_analytics",
			Subsystem: "backfill",
			Name:      "dates_total",
			Help:      "Dates processed by backfill runs",
		},
	)

	userViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vire_analytics",
			Subsystem: "rollup",
			Name:      "views_total",
			Help:      "User views computed, by calculation status",
		},
		[]string{"status"},
	)
)
