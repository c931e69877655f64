package jobmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vire_analytics",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Jobs processed by type and outcome.",
	}, []string{"job_type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vire_analytics",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job execution time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"job_type"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vire_analytics",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Pending jobs seen by the last dequeue (capped at the candidate window).",
	})
)
