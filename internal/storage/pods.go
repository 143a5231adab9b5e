package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const podColumns = `id, name, namespace, generate_name, uid, self_link, resource_version, creation_timestamp, cluster_id, pod_status, compliant`

// FindPodID looks a pod up by its natural key (cluster, namespace, name).
func FindPodID(ctx context.Context, q Querier, clusterID int64, namespace, name string) (int64, error) {
	var id int64
	err := instrument("find pod", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			SELECT id FROM kubernetes_pods
			WHERE cluster_id = ? AND namespace = ? AND name = ?`), clusterID, namespace, name)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

// InsertPod inserts pod with compliant = false; the flag is only ever set by
// the evaluator. A concurrent insert of the same key yields ErrNotFound.
func InsertPod(ctx context.Context, q Querier, pod *Pod) (int64, error) {
	var id int64
	err := instrument("insert pod", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			INSERT INTO kubernetes_pods
				(name, namespace, generate_name, uid, self_link, resource_version,
				 creation_timestamp, cluster_id, pod_status, compliant)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cluster_id, namespace, name) DO NOTHING
			RETURNING id`),
			pod.Name, pod.Namespace, pod.GenerateName, pod.UID, pod.SelfLink, pod.ResourceVersion,
			pod.CreationTimestamp, pod.ClusterID, pod.PodStatus, false,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

func UpdatePodStatus(ctx context.Context, q Querier, id int64, status string) error {
	return instrument("update pod status", func() error {
		_, err := q.ExecContext(ctx, q.Rebind(`UPDATE kubernetes_pods SET pod_status = ? WHERE id = ?`), status, id)
		return err
	})
}

func GetPod(ctx context.Context, q Querier, id int64) (Pod, error) {
	var pod Pod
	err := instrument("get pod", func() error {
		err := sqlx.GetContext(ctx, q, &pod, q.Rebind(`SELECT `+podColumns+` FROM kubernetes_pods WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return pod, err
}

func ListPods(ctx context.Context, q Querier, clusterID int64) ([]Pod, error) {
	var pods []Pod
	err := instrument("list pods", func() error {
		return sqlx.SelectContext(ctx, q, &pods, q.Rebind(`
			SELECT `+podColumns+` FROM kubernetes_pods
			WHERE cluster_id = ?
			ORDER BY id`), clusterID)
	})
	return pods, err
}

func DeletePods(ctx context.Context, q Querier, ids []int64) (int64, error) {
	return deleteByIDs(ctx, q, "delete pods", `DELETE FROM kubernetes_pods WHERE id IN (?)`, ids)
}

// complianceRow is one pod/image pair of a LEFT JOIN; the image columns are
// NULL for pods without links.
type complianceRow struct {
	PodID            int64          `db:"pod_id"`
	PodName          string         `db:"pod_name"`
	Namespace        string         `db:"namespace"`
	ClusterID        int64          `db:"cluster_id"`
	SavedDate        sql.NullString `db:"saved_date"`
	ImageID          sql.NullInt64  `db:"image_id"`
	URL              sql.NullString `db:"url"`
	ImageName        sql.NullString `db:"image_name"`
	Tag              sql.NullString `db:"tag"`
	DockerImageID    sql.NullString `db:"docker_image_id"`
	Summary          sql.NullString `db:"summary"`
	ScanResults      sql.NullString `db:"scan_results"`
	RunningInCluster sql.NullBool   `db:"running_in_cluster"`
}

// RunningPodsWithImages returns the cluster's Running pods with every linked
// image, ordered by pod id.
func RunningPodsWithImages(ctx context.Context, q Querier, clusterID int64) ([]CompliancePod, error) {
	var rows []complianceRow
	err := instrument("select compliance pods", func() error {
		return sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
			SELECT p.id AS pod_id, p.name AS pod_name, p.namespace, p.cluster_id,
				NULL AS saved_date,
				img.id AS image_id, img.url, img.name AS image_name, img.tag,
				img.docker_image_id, img.summary, img.scan_results, img.running_in_cluster
			FROM kubernetes_pods p
			LEFT JOIN pod_images pi ON pi.pod_id = p.id
			LEFT JOIN images img ON img.id = pi.image_id
			WHERE p.pod_status = ? AND p.cluster_id = ?
			ORDER BY p.id, img.id`), PodStatusRunning, clusterID)
	})
	if err != nil {
		return nil, err
	}
	return groupCompliancePods(rows)
}

func groupCompliancePods(rows []complianceRow) ([]CompliancePod, error) {
	var pods []CompliancePod
	for _, r := range rows {
		if len(pods) == 0 || pods[len(pods)-1].ID != r.PodID {
			pod := CompliancePod{ID: r.PodID, Name: r.PodName, Namespace: r.Namespace, ClusterID: r.ClusterID}
			if r.SavedDate.Valid {
				if err := pod.SavedDate.Scan(r.SavedDate.String); err != nil {
					return nil, err
				}
			}
			pods = append(pods, pod)
		}
		if !r.ImageID.Valid {
			continue
		}
		last := &pods[len(pods)-1]
		last.Images = append(last.Images, Image{
			ID:               r.ImageID.Int64,
			URL:              r.URL.String,
			Name:             r.ImageName.String,
			Tag:              r.Tag.String,
			DockerImageID:    r.DockerImageID.String,
			Summary:          r.Summary.String,
			ScanResults:      r.ScanResults.String,
			RunningInCluster: r.RunningInCluster.Bool,
			ClusterID:        r.ClusterID,
		})
	}
	return pods, nil
}
