package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// maxInList bounds the number of bind variables in one IN (...) list. SQLite
// and Postgres both cap parameters per statement.
const maxInList = 500

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > maxInList {
		chunks = append(chunks, ids[:maxInList])
		ids = ids[maxInList:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// deleteByIDs runs query, whose only bind variable is an IN (?) list, once
// per chunk of ids and sums the affected rows.
func deleteByIDs(ctx context.Context, q Querier, operation, query string, ids []int64) (int64, error) {
	var total int64
	err := instrument(operation, func() error {
		for _, chunk := range chunkIDs(ids) {
			expanded, args, err := sqlx.In(query, chunk)
			if err != nil {
				return err
			}
			res, err := q.ExecContext(ctx, q.Rebind(expanded), args...)
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
