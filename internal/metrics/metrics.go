// Package metrics holds the Prometheus collectors for compliance jobs and
// their database work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "compliance_history"

var (
	// JobRunsTotal counts scheduled or manual job runs by job and outcome.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of job runs by job and result.",
		},
		[]string{"job", "result"},
	)

	// JobDurationSeconds is job latency.
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 10),
		},
		[]string{"job"},
	)

	// ArchivedRowsTotal counts history rows written by table.
	ArchivedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_rows_total",
			Help:      "History rows written by the archiver, by table.",
		},
		[]string{"table"},
	)

	// PurgedRowsTotal counts history rows removed by retention, by table.
	PurgedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_rows_total",
			Help:      "History rows removed by retention, by table.",
		},
		[]string{"table"},
	)

	// ComplianceUpdatesTotal counts compliance flags written, by scope.
	ComplianceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_updates_total",
			Help:      "Compliance flags written, by scope.",
		},
		[]string{"scope"},
	)

	// DBQueryDurationSeconds is per-operation query latency.
	DBQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
		[]string{"operation"},
	)
)
