package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const namespaceColumns = `id, name, uid, self_link, resource_version, creation_timestamp, cluster_id, compliant`

// FindNamespaceID looks a namespace up by its natural key.
func FindNamespaceID(ctx context.Context, q Querier, clusterID int64, uid, name string) (int64, error) {
	var id int64
	err := instrument("find namespace", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			SELECT id FROM kubernetes_namespaces
			WHERE cluster_id = ? AND (uid = ? OR name = ?)
			ORDER BY id LIMIT 1`), clusterID, uid, name)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

// InsertNamespace inserts ns and returns its id. A concurrent insert of the
// same (cluster_id, name) yields ErrNotFound instead of a constraint error.
func InsertNamespace(ctx context.Context, q Querier, ns *Namespace) (int64, error) {
	var id int64
	err := instrument("insert namespace", func() error {
		err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
			INSERT INTO kubernetes_namespaces
				(name, uid, self_link, resource_version, creation_timestamp, cluster_id, compliant)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cluster_id, name) DO NOTHING
			RETURNING id`),
			ns.Name, ns.UID, ns.SelfLink, ns.ResourceVersion, ns.CreationTimestamp, ns.ClusterID, false,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return id, err
}

func ListNamespaces(ctx context.Context, q Querier, clusterID int64) ([]Namespace, error) {
	var namespaces []Namespace
	err := instrument("list namespaces", func() error {
		return sqlx.SelectContext(ctx, q, &namespaces, q.Rebind(`
			SELECT `+namespaceColumns+` FROM kubernetes_namespaces
			WHERE cluster_id = ?
			ORDER BY name`), clusterID)
	})
	return namespaces, err
}

// DeleteNamespaces removes namespaces by id and returns how many rows went away.
func DeleteNamespaces(ctx context.Context, q Querier, ids []int64) (int64, error) {
	return deleteByIDs(ctx, q, "delete namespaces", `DELETE FROM kubernetes_namespaces WHERE id IN (?)`, ids)
}
