package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FlagTable names a table whose rows carry a compliant column.
type FlagTable string

const (
	TablePods              FlagTable = "kubernetes_pods"
	TableNamespaces        FlagTable = "kubernetes_namespaces"
	TableHistoryPods       FlagTable = "history_kubernetes_pods"
	TableHistoryNamespaces FlagTable = "history_kubernetes_namespaces"
)

func (t FlagTable) valid() bool {
	switch t {
	case TablePods, TableNamespaces, TableHistoryPods, TableHistoryNamespaces:
		return true
	}
	return false
}

// SetCompliance writes compliant for every id in ids. Only the compliant
// column is touched. It returns the number of rows matched.
func SetCompliance(ctx context.Context, q Querier, table FlagTable, compliant bool, ids []int64) (int64, error) {
	if !table.valid() {
		return 0, &ValidationError{Field: "table", Reason: fmt.Sprintf("%q has no compliance flag", table)}
	}
	var total int64
	err := instrument("set compliance on "+string(table), func() error {
		for _, chunk := range chunkIDs(ids) {
			query, args, err := sqlx.In(`UPDATE `+string(table)+` SET compliant = ? WHERE id IN (?)`, compliant, chunk)
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
