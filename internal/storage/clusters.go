package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

func CreateCluster(ctx context.Context, q Querier, name string) (int64, error) {
	if name == "" {
		return 0, &ValidationError{Field: "cluster name", Reason: "must not be empty"}
	}
	var id int64
	err := instrument("create cluster", func() error {
		return sqlx.GetContext(ctx, q, &id, q.Rebind(`INSERT INTO clusters (name) VALUES (?) RETURNING id`), name)
	})
	return id, err
}

// FindClusterByName returns the live cluster with name, or ErrNotFound.
func FindClusterByName(ctx context.Context, q Querier, name string) (Cluster, error) {
	var c Cluster
	err := instrument("find cluster", func() error {
		err := sqlx.GetContext(ctx, q, &c, q.Rebind(`
			SELECT id, name, deleted_at FROM clusters
			WHERE name = ? AND deleted_at IS NULL
			ORDER BY id LIMIT 1`), name)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return c, err
}

// ListActiveClusters returns every cluster without a soft-delete marker.
func ListActiveClusters(ctx context.Context, q Querier) ([]Cluster, error) {
	var clusters []Cluster
	err := instrument("list clusters", func() error {
		return sqlx.SelectContext(ctx, q, &clusters, `
			SELECT id, name, deleted_at FROM clusters
			WHERE deleted_at IS NULL
			ORDER BY id`)
	})
	return clusters, err
}

func SoftDeleteCluster(ctx context.Context, q Querier, id int64, at time.Time) error {
	return instrument("delete cluster", func() error {
		_, err := q.ExecContext(ctx, q.Rebind(`UPDATE clusters SET deleted_at = ? WHERE id = ?`), at, id)
		return err
	})
}
