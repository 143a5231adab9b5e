package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// StartArchiveRun claims the (cluster, day) run row in state. Inside a
// transaction the upsert holds the row lock until commit, so concurrent
// archivers of the same day queue behind each other.
func StartArchiveRun(ctx context.Context, q Querier, clusterID int64, day Day, runID, state string, at time.Time) error {
	return instrument("start archive run", func() error {
		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO history_archive_runs (cluster_id, saved_date, run_id, state, started_at, finished_at, error)
			VALUES (?, ?, ?, ?, ?, NULL, '')
			ON CONFLICT (cluster_id, saved_date) DO UPDATE SET
				run_id = excluded.run_id,
				state = excluded.state,
				started_at = excluded.started_at,
				finished_at = NULL,
				error = ''`),
			clusterID, day, runID, state, at)
		return err
	})
}

// FinishArchiveRun moves the run row to a terminal state.
func FinishArchiveRun(ctx context.Context, q Querier, clusterID int64, day Day, runID, state, errMsg string, at time.Time) error {
	return instrument("finish archive run", func() error {
		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO history_archive_runs (cluster_id, saved_date, run_id, state, started_at, finished_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cluster_id, saved_date) DO UPDATE SET
				run_id = excluded.run_id,
				state = excluded.state,
				finished_at = excluded.finished_at,
				error = excluded.error`),
			clusterID, day, runID, state, at, at, errMsg)
		return err
	})
}

func GetArchiveRun(ctx context.Context, q Querier, clusterID int64, day Day) (ArchiveRun, error) {
	var run ArchiveRun
	err := instrument("get archive run", func() error {
		err := sqlx.GetContext(ctx, q, &run, q.Rebind(`
			SELECT cluster_id, saved_date, run_id, state, started_at, finished_at, error
			FROM history_archive_runs
			WHERE cluster_id = ? AND saved_date = ?`), clusterID, day)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	return run, err
}

// DeleteArchiveRuns forgets every run recorded for day.
func DeleteArchiveRuns(ctx context.Context, q Querier, day Day) (int64, error) {
	var n int64
	err := instrument("delete archive runs", func() error {
		res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM history_archive_runs WHERE saved_date = ?`), day)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
