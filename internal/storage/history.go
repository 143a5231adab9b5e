package storage

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// InsertHistoryNamespace copies ns into history_kubernetes_namespaces for day.
func InsertHistoryNamespace(ctx context.Context, q Querier, ns *Namespace, day Day) (int64, error) {
	var id int64
	err := instrument("insert history namespace", func() error {
		return sqlx.GetContext(ctx, q, &id, q.Rebind(`
			INSERT INTO history_kubernetes_namespaces
				(name, uid, self_link, resource_version, creation_timestamp, cluster_id, compliant, saved_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			ns.Name, ns.UID, ns.SelfLink, ns.ResourceVersion, ns.CreationTimestamp, ns.ClusterID, ns.Compliant, day,
		)
	})
	return id, err
}

// InsertHistoryPod copies pod into history_kubernetes_pods for day and
// returns the new history pod id.
func InsertHistoryPod(ctx context.Context, q Querier, pod *Pod, day Day) (int64, error) {
	var id int64
	err := instrument("insert history pod", func() error {
		return sqlx.GetContext(ctx, q, &id, q.Rebind(`
			INSERT INTO history_kubernetes_pods
				(name, namespace, generate_name, uid, self_link, resource_version,
				 creation_timestamp, cluster_id, pod_status, compliant, saved_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			pod.Name, pod.Namespace, pod.GenerateName, pod.UID, pod.SelfLink, pod.ResourceVersion,
			pod.CreationTimestamp, pod.ClusterID, pod.PodStatus, pod.Compliant, day,
		)
	})
	return id, err
}

// InsertHistoryLinks links historyPodID to imageIDs. The image rows are
// shared with current state and never copied.
func InsertHistoryLinks(ctx context.Context, q Querier, historyPodID int64, imageIDs []int64) error {
	return instrument("insert history pod images", func() error {
		for _, imageID := range imageIDs {
			if _, err := q.ExecContext(ctx, q.Rebind(`
				INSERT INTO history_pod_images (history_pod_id, image_id) VALUES (?, ?)`), historyPodID, imageID); err != nil {
				return err
			}
		}
		return nil
	})
}

// HistoryPodIDs returns the history pod ids saved on day, limited to one
// cluster when clusterID is non-nil.
func HistoryPodIDs(ctx context.Context, q Querier, day Day, clusterID *int64) ([]int64, error) {
	var ids []int64
	err := instrument("list history pod ids", func() error {
		query := `SELECT id FROM history_kubernetes_pods WHERE saved_date = ?`
		args := []any{day}
		if clusterID != nil {
			query += ` AND cluster_id = ?`
			args = append(args, *clusterID)
		}
		return sqlx.SelectContext(ctx, q, &ids, q.Rebind(query+` ORDER BY id`), args...)
	})
	return ids, err
}

func DeleteHistoryLinks(ctx context.Context, q Querier, historyPodIDs []int64) (int64, error) {
	return deleteByIDs(ctx, q, "delete history pod image links", `DELETE FROM history_pod_images WHERE history_pod_id IN (?)`, historyPodIDs)
}

func DeleteHistoryPods(ctx context.Context, q Querier, historyPodIDs []int64) (int64, error) {
	return deleteByIDs(ctx, q, "delete history pods", `DELETE FROM history_kubernetes_pods WHERE id IN (?)`, historyPodIDs)
}

// DeleteHistoryNamespaces removes the namespaces saved on day, limited to one
// cluster when clusterID is non-nil.
func DeleteHistoryNamespaces(ctx context.Context, q Querier, day Day, clusterID *int64) (int64, error) {
	var n int64
	err := instrument("delete history namespaces", func() error {
		query := `DELETE FROM history_kubernetes_namespaces WHERE saved_date = ?`
		args := []any{day}
		if clusterID != nil {
			query += ` AND cluster_id = ?`
			args = append(args, *clusterID)
		}
		res, err := q.ExecContext(ctx, q.Rebind(query), args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// HistoryCounts is the number of history rows stored for one (cluster, day).
type HistoryCounts struct {
	Namespaces int64
	Pods       int64
	Links      int64
}

func CountHistory(ctx context.Context, q Querier, clusterID int64, day Day) (HistoryCounts, error) {
	var c HistoryCounts
	err := instrument("count history", func() error {
		if err := sqlx.GetContext(ctx, q, &c.Namespaces, q.Rebind(`
			SELECT COUNT(*) FROM history_kubernetes_namespaces
			WHERE cluster_id = ? AND saved_date = ?`), clusterID, day); err != nil {
			return err
		}
		if err := sqlx.GetContext(ctx, q, &c.Pods, q.Rebind(`
			SELECT COUNT(*) FROM history_kubernetes_pods
			WHERE cluster_id = ? AND saved_date = ?`), clusterID, day); err != nil {
			return err
		}
		return sqlx.GetContext(ctx, q, &c.Links, q.Rebind(`
			SELECT COUNT(*) FROM history_pod_images hpi
			JOIN history_kubernetes_pods hp ON hp.id = hpi.history_pod_id
			WHERE hp.cluster_id = ? AND hp.saved_date = ?`), clusterID, day)
	})
	return c, err
}

// RunningHistoryPodsWithImages returns the Running history pods saved on day
// with every image linked to them.
func RunningHistoryPodsWithImages(ctx context.Context, q Querier, day Day) ([]CompliancePod, error) {
	var rows []complianceRow
	err := instrument("select history compliance pods", func() error {
		return sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
			SELECT p.id AS pod_id, p.name AS pod_name, p.namespace, p.cluster_id,
				p.saved_date,
				img.id AS image_id, img.url, img.name AS image_name, img.tag,
				img.docker_image_id, img.summary, img.scan_results, img.running_in_cluster
			FROM history_kubernetes_pods p
			LEFT JOIN history_pod_images pi ON pi.history_pod_id = p.id
			LEFT JOIN images img ON img.id = pi.image_id
			WHERE p.pod_status = ? AND p.saved_date = ?
			ORDER BY p.id, img.id`), PodStatusRunning, day)
	})
	if err != nil {
		return nil, err
	}
	return groupCompliancePods(rows)
}

func ListHistoryNamespaces(ctx context.Context, q Querier, day Day) ([]HistoryNamespace, error) {
	var namespaces []HistoryNamespace
	err := instrument("list history namespaces", func() error {
		return sqlx.SelectContext(ctx, q, &namespaces, q.Rebind(`
			SELECT `+namespaceColumns+`, saved_date FROM history_kubernetes_namespaces
			WHERE saved_date = ?
			ORDER BY cluster_id, name`), day)
	})
	return namespaces, err
}

func ListHistoryPods(ctx context.Context, q Querier, clusterID int64, day Day) ([]HistoryPod, error) {
	var pods []HistoryPod
	err := instrument("list history pods", func() error {
		return sqlx.SelectContext(ctx, q, &pods, q.Rebind(`
			SELECT `+podColumns+`, saved_date FROM history_kubernetes_pods
			WHERE cluster_id = ? AND saved_date = ?
			ORDER BY id`), clusterID, day)
	})
	return pods, err
}

// HistoryDaysBefore lists the distinct saved days older than cutoff, oldest
// first, across both history tables.
func HistoryDaysBefore(ctx context.Context, q Querier, cutoff Day) ([]Day, error) {
	var raw []sql.NullString
	err := instrument("list history days", func() error {
		return sqlx.SelectContext(ctx, q, &raw, q.Rebind(`
			SELECT saved_date FROM history_kubernetes_pods WHERE saved_date < ?
			UNION
			SELECT saved_date FROM history_kubernetes_namespaces WHERE saved_date < ?
			ORDER BY saved_date`), cutoff, cutoff)
	})
	if err != nil {
		return nil, err
	}
	days := make([]Day, 0, len(raw))
	for _, r := range raw {
		if !r.Valid {
			continue
		}
		var d Day
		if err := d.Scan(r.String); err != nil {
			return nil, wrapErr("list history days", err)
		}
		days = append(days, d)
	}
	return days, nil
}
