package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const imageColumns = `id, url, name, tag, docker_image_id, summary, scan_results, running_in_cluster, cluster_id`

func FindImageID(ctx context.Context, q Querier, clusterID int64, url, dockerImageID string) (int64, error) {
	var id int64
	err := instrument("find image", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			SELECT id FROM images
			WHERE cluster_id = ? AND url = ? AND docker_image_id = ?`), clusterID, url, dockerImageID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

// ImageIDsByURL returns every image of the cluster stored under url,
// whatever its docker image id.
func ImageIDsByURL(ctx context.Context, q Querier, clusterID int64, url string) ([]int64, error) {
	var ids []int64
	err := instrument("find images by url", func() error {
		return sqlx.SelectContext(ctx, q, &ids, q.Rebind(`
			SELECT id FROM images
			WHERE cluster_id = ? AND url = ?
			ORDER BY id`), clusterID, url)
	})
	return ids, err
}

func InsertImage(ctx context.Context, q Querier, img *Image) (int64, error) {
	var id int64
	err := instrument("insert image", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			INSERT INTO images
				(url, name, tag, docker_image_id, summary, scan_results, running_in_cluster, cluster_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cluster_id, url, docker_image_id) DO NOTHING
			RETURNING id`),
			img.URL, img.Name, img.Tag, img.DockerImageID, img.Summary, img.ScanResults, img.RunningInCluster, img.ClusterID,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

func GetImage(ctx context.Context, q Querier, id int64) (Image, error) {
	var img Image
	err := instrument("get image", func() error {
		err := sqlx.GetContext(ctx, q, &img, q.Rebind(`SELECT `+imageColumns+` FROM images WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return img, err
}

// UpdateImageScan records the scanner's verdict for an image. It is the
// write path of the external scanner, not of the compliance subsystem.
func UpdateImageScan(ctx context.Context, q Querier, id int64, scanResults string, runningInCluster bool) error {
	return instrument("update image scan", func() error {
		res, err := q.ExecContext(ctx, q.Rebind(`
			UPDATE images SET scan_results = ?, running_in_cluster = ? WHERE id = ?`),
			scanResults, runningInCluster, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
