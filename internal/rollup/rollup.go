// Package rollup answers compliance summary queries and enforces history
// retention.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/metrics"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// HistoryFilter selects history summaries. From and To are inclusive; a nil
// ClusterID aggregates across clusters.
type HistoryFilter struct {
	ClusterID *int64
	From      storage.Day
	To        storage.Day
}

func (f HistoryFilter) validate() error {
	if f.ClusterID != nil && *f.ClusterID <= 0 {
		return &storage.ValidationError{Field: "cluster id", Reason: fmt.Sprintf("%d is not a positive id", *f.ClusterID)}
	}
	if f.From.IsZero() || f.To.IsZero() {
		return &storage.ValidationError{Field: "date range", Reason: "both ends must be set"}
	}
	if f.From.After(f.To) {
		return &storage.ValidationError{Field: "date range", Reason: fmt.Sprintf("%s is after %s", f.From, f.To)}
	}
	return nil
}

// RetentionDayFailure reports one saved day the sweep could not purge.
type RetentionDayFailure struct {
	Day storage.Day
	Err error
}

func (e *RetentionDayFailure) Error() string {
	return fmt.Sprintf("failed to purge history of %s: %v", e.Day, e.Err)
}

func (e *RetentionDayFailure) Unwrap() error { return e.Err }

type SweepResult struct {
	Cutoff   storage.Day
	Purged   []storage.Day
	Removed  int64
	Failures []*RetentionDayFailure
}

type Service struct {
	st            *storage.Storage
	log           *zap.Logger
	retentionDays int
}

// New returns a Service keeping retentionDays days of history.
func New(st *storage.Storage, retentionDays int, log *zap.Logger) *Service {
	return &Service{st: st, log: log.Named("rollup"), retentionDays: retentionDays}
}

// SummarizeCurrent counts the cluster's Running pods by namespace.
func (s *Service) SummarizeCurrent(ctx context.Context, clusterID int64) ([]storage.ComplianceSummary, error) {
	if clusterID <= 0 {
		return nil, &storage.ValidationError{Field: "cluster id", Reason: fmt.Sprintf("%d is not a positive id", clusterID)}
	}
	rows, err := storage.CurrentSummary(ctx, s.st.DB(), clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize cluster %d: %w", clusterID, err)
	}
	return rows, nil
}

// SummarizeHistory counts Running history pods per saved day.
func (s *Service) SummarizeHistory(ctx context.Context, f HistoryFilter) ([]storage.ComplianceSummary, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	rows, err := storage.HistorySummary(ctx, s.st.DB(), f.ClusterID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize history %s..%s: %w", f.From, f.To, err)
	}
	return rows, nil
}

// HistoryDays lists the saved days older than before.
func (s *Service) HistoryDays(ctx context.Context, before storage.Day) ([]storage.Day, error) {
	if before.IsZero() {
		return nil, &storage.ValidationError{Field: "day", Reason: "must be set"}
	}
	return storage.HistoryDaysBefore(ctx, s.st.DB(), before)
}

// PurgeHistory deletes every history row saved on day, links before pods,
// in one transaction. It holds the day exclusively, so it never interleaves
// with an archive of the same day. It returns the number of history pods
// removed.
func (s *Service) PurgeHistory(ctx context.Context, day storage.Day) (int64, error) {
	if day.IsZero() {
		return 0, &storage.ValidationError{Field: "day", Reason: "must be set"}
	}

	unlock := s.st.LockPurge(day)
	defer unlock()

	var links, pods, namespaces int64
	err := s.st.InTx(ctx, func(tx storage.Querier) error {
		if err := storage.LockDay(ctx, tx, day, false); err != nil {
			return err
		}
		ids, err := storage.HistoryPodIDs(ctx, tx, day, nil)
		if err != nil {
			return err
		}
		if links, err = storage.DeleteHistoryLinks(ctx, tx, ids); err != nil {
			return err
		}
		if pods, err = storage.DeleteHistoryPods(ctx, tx, ids); err != nil {
			return err
		}
		if namespaces, err = storage.DeleteHistoryNamespaces(ctx, tx, day, nil); err != nil {
			return err
		}
		_, err = storage.DeleteArchiveRuns(ctx, tx, day)
		return err
	})
	if err != nil {
		return 0, err
	}

	metrics.PurgedRowsTotal.WithLabelValues("history_pod_images").Add(float64(links))
	metrics.PurgedRowsTotal.WithLabelValues("history_kubernetes_pods").Add(float64(pods))
	metrics.PurgedRowsTotal.WithLabelValues("history_kubernetes_namespaces").Add(float64(namespaces))
	if pods+namespaces > 0 {
		s.log.Info("purged history",
			zap.Stringer("day", day),
			zap.Int64("pods", pods),
			zap.Int64("links", links),
			zap.Int64("namespaces", namespaces),
		)
	}
	return pods, nil
}

// Sweep purges every saved day older than the retention window ending at
// now. A day that fails is recorded and the sweep moves on; the returned
// error joins every failure.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	if s.retentionDays < 1 {
		return SweepResult{}, &storage.ValidationError{Field: "retention days", Reason: fmt.Sprintf("%d is less than one day", s.retentionDays)}
	}
	res := SweepResult{Cutoff: storage.DayOf(now).AddDays(-s.retentionDays)}

	days, err := s.HistoryDays(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to list history days: %w", err)
	}

	var errs []error
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.PurgeHistory(ctx, day)
		if err != nil {
			failure := &RetentionDayFailure{Day: day, Err: err}
			s.log.Error("retention purge failed", zap.Stringer("day", day), zap.Error(err))
			res.Failures = append(res.Failures, failure)
			errs = append(errs, failure)
			continue
		}
		res.Purged = append(res.Purged, day)
		res.Removed += n
	}
	return res, errors.Join(errs...)
}
