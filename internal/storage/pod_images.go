package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func LinkedImageIDs(ctx context.Context, q Querier, podID int64) ([]int64, error) {
	var ids []int64
	err := instrument("list pod images", func() error {
		return sqlx.SelectContext(ctx, q, &ids, q.Rebind(`
			SELECT image_id FROM pod_images WHERE pod_id = ? ORDER BY image_id`), podID)
	})
	return ids, err
}

func InsertPodImages(ctx context.Context, q Querier, podID int64, imageIDs []int64) error {
	return instrument("insert pod images", func() error {
		for _, imageID := range imageIDs {
			if _, err := q.ExecContext(ctx, q.Rebind(`
				INSERT INTO pod_images (pod_id, image_id) VALUES (?, ?)`), podID, imageID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePodImages removes the given links of one pod.
func DeletePodImages(ctx context.Context, q Querier, podID int64, imageIDs []int64) (int64, error) {
	var total int64
	err := instrument("delete pod images", func() error {
		for _, chunk := range chunkIDs(imageIDs) {
			query, args, err := sqlx.In(`DELETE FROM pod_images WHERE pod_id = ? AND image_id IN (?)`, podID, chunk)
			if err != nil {
				return err
			}
			res, err := q.ExecContext(ctx, q.Rebind(query), args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// DeleteLinksForPods removes every link of the given pods.
func DeleteLinksForPods(ctx context.Context, q Querier, podIDs []int64) (int64, error) {
	return deleteByIDs(ctx, q, "delete pod image links", `DELETE FROM pod_images WHERE pod_id IN (?)`, podIDs)
}

// CountLinksForPods counts link rows referencing any of podIDs.
func CountLinksForPods(ctx context.Context, q Querier, podIDs []int64) (int64, error) {
	var total int64
	err := instrument("count pod image links", func() error {
		for _, chunk := range chunkIDs(podIDs) {
			query, args, err := sqlx.In(`SELECT COUNT(*) FROM pod_images WHERE pod_id IN (?)`, chunk)
			if err != nil {
				return err
			}
			var n int64
			if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), args...); err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}
