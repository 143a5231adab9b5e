package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const summaryCounts = `
	COUNT(*) AS num_pods,
	SUM(CASE WHEN compliant THEN 1 ELSE 0 END) AS num_compliant_pods,
	SUM(CASE WHEN compliant THEN 0 ELSE 1 END) AS num_noncompliant_pods`

// CurrentSummary counts the cluster's Running pods per namespace.
func CurrentSummary(ctx context.Context, q Querier, clusterID int64) ([]ComplianceSummary, error) {
	var rows []ComplianceSummary
	err := instrument("summarize current pods", func() error {
		return sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
			SELECT cluster_id, namespace,`+summaryCounts+`
			FROM kubernetes_pods
			WHERE pod_status = ? AND cluster_id = ?
			GROUP BY cluster_id, namespace
			ORDER BY namespace`), PodStatusRunning, clusterID)
	})
	return rows, err
}

// HistorySummary counts Running history pods per saved day in [from, to].
// A nil clusterID aggregates every cluster into one row per day with a
// cluster id of zero.
func HistorySummary(ctx context.Context, q Querier, clusterID *int64, from, to Day) ([]ComplianceSummary, error) {
	var rows []ComplianceSummary
	err := instrument("summarize history pods", func() error {
		if clusterID == nil {
			return sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
				SELECT 0 AS cluster_id, saved_date,`+summaryCounts+`
				FROM history_kubernetes_pods
				WHERE pod_status = ? AND saved_date >= ? AND saved_date <= ?
				GROUP BY saved_date
				ORDER BY saved_date`), PodStatusRunning, from, to)
		}
		return sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
			SELECT cluster_id, saved_date,`+summaryCounts+`
			FROM history_kubernetes_pods
			WHERE pod_status = ? AND saved_date >= ? AND saved_date <= ? AND cluster_id = ?
			GROUP BY saved_date, cluster_id
			ORDER BY saved_date`), PodStatusRunning, from, to, *clusterID)
	})
	return rows, err
}
