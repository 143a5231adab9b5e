// Package archiver copies the current-state tables into the history tables
// once per cluster and day.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/metrics"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// Archive steps, as reported by PartialArchiveFailure.
const (
	StepLock       = "lock"
	StepReplace    = "replace"
	StepNamespaces = "namespaces"
	StepPods       = "pods"
	StepLinks      = "links"
	StepCommit     = "commit"
)

// Result describes one committed archive run.
type Result struct {
	RunID      string
	ClusterID  int64
	Day        storage.Day
	Namespaces int
	Pods       int
	Links      int
	// Replaced is the number of history pods of an earlier run for the same
	// day that this run superseded.
	Replaced int64
}

type Archiver struct {
	st  *storage.Storage
	log *zap.Logger
	now func() time.Time
}

func New(st *storage.Storage, log *zap.Logger) *Archiver {
	return &Archiver{
		st:  st,
		log: log.Named("archiver"),
		now: time.Now,
	}
}

// Archive snapshots the cluster's current namespaces, pods and pod image
// links as the history of day. Re-running a day replaces its earlier
// snapshot, so history never holds duplicate rows for a (cluster, day).
func (a *Archiver) Archive(ctx context.Context, clusterID int64, day storage.Day) (Result, error) {
	if clusterID <= 0 {
		return Result{}, &storage.ValidationError{Field: "cluster id", Reason: fmt.Sprintf("%d is not a positive id", clusterID)}
	}
	if day.IsZero() {
		return Result{}, &storage.ValidationError{Field: "day", Reason: "must be set"}
	}

	unlock := a.st.LockArchive(clusterID, day)
	defer unlock()

	res := Result{RunID: uuid.NewString(), ClusterID: clusterID, Day: day}
	log := a.log.With(zap.Int64("cluster_id", clusterID), zap.Stringer("day", day), zap.String("run_id", res.RunID))
	log.Debug("archive run pending")

	step := StepLock
	err := a.st.InTx(ctx, func(tx storage.Querier) error {
		if err := storage.LockDay(ctx, tx, day, true); err != nil {
			return err
		}
		if err := storage.StartArchiveRun(ctx, tx, clusterID, day, res.RunID, storage.RunSnapshotting, a.now()); err != nil {
			return err
		}

		step = StepReplace
		replaced, err := clearDay(ctx, tx, clusterID, day)
		if err != nil {
			return err
		}
		res.Replaced = replaced

		step = StepNamespaces
		namespaces, err := storage.ListNamespaces(ctx, tx, clusterID)
		if err != nil {
			return err
		}
		for i := range namespaces {
			if _, err := storage.InsertHistoryNamespace(ctx, tx, &namespaces[i], day); err != nil {
				return err
			}
		}
		res.Namespaces = len(namespaces)

		step = StepPods
		pods, err := storage.ListPods(ctx, tx, clusterID)
		if err != nil {
			return err
		}
		for i := range pods {
			historyID, err := storage.InsertHistoryPod(ctx, tx, &pods[i], day)
			if err != nil {
				return err
			}

			step = StepLinks
			imageIDs, err := storage.LinkedImageIDs(ctx, tx, pods[i].ID)
			if err != nil {
				return err
			}
			if err := storage.InsertHistoryLinks(ctx, tx, historyID, imageIDs); err != nil {
				return err
			}
			res.Links += len(imageIDs)
			step = StepPods
		}
		res.Pods = len(pods)

		step = StepCommit
		return storage.FinishArchiveRun(ctx, tx, clusterID, day, res.RunID, storage.RunCommitted, "", a.now())
	})
	if err != nil {
		failure := &PartialArchiveFailure{ClusterID: clusterID, Day: day, Step: step, Err: err}
		log.Error("archive run failed", zap.String("step", step), zap.Error(err))
		// the run row of the rolled back transaction is gone; record the
		// failure on its own
		recordCtx := context.WithoutCancel(ctx)
		if rerr := storage.FinishArchiveRun(recordCtx, a.st.DB(), clusterID, day, res.RunID, storage.RunFailed, err.Error(), a.now()); rerr != nil {
			return Result{}, errors.Join(failure, fmt.Errorf("failed to record failed archive run: %w", rerr))
		}
		return Result{}, failure
	}

	metrics.ArchivedRowsTotal.WithLabelValues("history_kubernetes_namespaces").Add(float64(res.Namespaces))
	metrics.ArchivedRowsTotal.WithLabelValues("history_kubernetes_pods").Add(float64(res.Pods))
	metrics.ArchivedRowsTotal.WithLabelValues("history_pod_images").Add(float64(res.Links))
	log.Info("archive run committed",
		zap.Int("namespaces", res.Namespaces),
		zap.Int("pods", res.Pods),
		zap.Int("links", res.Links),
		zap.Int64("replaced_pods", res.Replaced),
	)
	return res, nil
}

// ArchiveAll archives day for every live cluster. A failing cluster does not
// stop the others; all failures are returned joined.
func (a *Archiver) ArchiveAll(ctx context.Context, day storage.Day) ([]Result, error) {
	clusters, err := storage.ListActiveClusters(ctx, a.st.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	var results []Result
	var errs []error
	for _, c := range clusters {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := a.Archive(ctx, c.ID, day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Run returns the archive run recorded for (cluster, day).
func (a *Archiver) Run(ctx context.Context, clusterID int64, day storage.Day) (storage.ArchiveRun, error) {
	return storage.GetArchiveRun(ctx, a.st.DB(), clusterID, day)
}

// clearDay removes an earlier snapshot of (cluster, day), links first.
func clearDay(ctx context.Context, tx storage.Querier, clusterID int64, day storage.Day) (int64, error) {
	ids, err := storage.HistoryPodIDs(ctx, tx, day, &clusterID)
	if err != nil {
		return 0, err
	}
	if _, err := storage.DeleteHistoryLinks(ctx, tx, ids); err != nil {
		return 0, err
	}
	removed, err := storage.DeleteHistoryPods(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if _, err := storage.DeleteHistoryNamespaces(ctx, tx, day, &clusterID); err != nil {
		return 0, err
	}
	return removed, nil
}
