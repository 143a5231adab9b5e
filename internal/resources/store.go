// Package resources keeps the current-state tables in step with what the
// collector observes in each cluster.
package resources

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

type Store struct {
	st  *storage.Storage
	log *zap.Logger
}

func New(st *storage.Storage, log *zap.Logger) *Store {
	return &Store{st: st, log: log.Named("resources")}
}

// EnsureCluster returns the id of the live cluster called name, creating it
// on first sight.
func (s *Store) EnsureCluster(ctx context.Context, name string) (int64, error) {
	if err := required("cluster name", name); err != nil {
		return 0, err
	}
	c, err := storage.FindClusterByName(ctx, s.st.DB(), name)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	id, err := storage.CreateCluster(ctx, s.st.DB(), name)
	if err != nil {
		return 0, err
	}
	s.log.Info("registered cluster", zap.String("cluster", name), zap.Int64("cluster_id", id))
	return id, nil
}

// Cluster looks up a live cluster by name without registering it.
func (s *Store) Cluster(ctx context.Context, name string) (storage.Cluster, error) {
	if err := required("cluster name", name); err != nil {
		return storage.Cluster{}, err
	}
	return storage.FindClusterByName(ctx, s.st.DB(), name)
}

func (s *Store) Clusters(ctx context.Context) ([]storage.Cluster, error) {
	return storage.ListActiveClusters(ctx, s.st.DB())
}

// UpsertNamespace returns the id of the namespace with rec's uid (or name),
// inserting it when absent.
func (s *Store) UpsertNamespace(ctx context.Context, rec NamespaceRecord) (int64, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}
	db := s.st.DB()
	id, err := storage.FindNamespaceID(ctx, db, rec.ClusterID, rec.UID, rec.Name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	id, err = storage.InsertNamespace(ctx, db, rec.row())
	if errors.Is(err, storage.ErrNotFound) {
		// lost an insert race; the winner's row is the answer
		return storage.FindNamespaceID(ctx, db, rec.ClusterID, rec.UID, rec.Name)
	}
	return id, err
}

// UpsertPod returns the id of the pod keyed by (cluster, namespace, name).
// An existing pod only has its status refreshed.
func (s *Store) UpsertPod(ctx context.Context, rec PodRecord) (int64, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}
	db := s.st.DB()
	id, err := storage.FindPodID(ctx, db, rec.ClusterID, rec.Namespace, rec.Name)
	switch {
	case err == nil:
		if err := storage.UpdatePodStatus(ctx, db, id, rec.PodStatus); err != nil {
			return 0, err
		}
		return id, nil
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}
	id, err = storage.InsertPod(ctx, db, rec.row())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.FindPodID(ctx, db, rec.ClusterID, rec.Namespace, rec.Name)
	}
	return id, err
}

func (s *Store) UpsertImage(ctx context.Context, rec ImageRecord) (int64, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}
	db := s.st.DB()
	id, err := storage.FindImageID(ctx, db, rec.ClusterID, rec.URL, rec.DockerImageID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	id, err = storage.InsertImage(ctx, db, rec.row())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.FindImageID(ctx, db, rec.ClusterID, rec.URL, rec.DockerImageID)
	}
	return id, err
}

// RecordScanResult stores a scanner verdict on the matching images in one
// transaction and returns how many were updated. No matching image is
// ErrNotFound.
func (s *Store) RecordScanResult(ctx context.Context, rec ScanRecord) (int, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}
	var updated int
	err := s.st.InTx(ctx, func(tx storage.Querier) error {
		var ids []int64
		if rec.DockerImageID != "" {
			id, err := storage.FindImageID(ctx, tx, rec.ClusterID, rec.URL, rec.DockerImageID)
			if err != nil {
				return err
			}
			ids = []int64{id}
		} else {
			var err error
			if ids, err = storage.ImageIDsByURL(ctx, tx, rec.ClusterID, rec.URL); err != nil {
				return err
			}
			if len(ids) == 0 {
				return storage.ErrNotFound
			}
		}
		for _, id := range ids {
			if err := storage.UpdateImageScan(ctx, tx, id, rec.ScanResults, rec.RunningInCluster); err != nil {
				return err
			}
		}
		updated = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("recorded scan result",
		zap.Int64("cluster_id", rec.ClusterID),
		zap.String("image", rec.URL),
		zap.String("scan_results", rec.ScanResults),
		zap.Int("images", updated),
	)
	return updated, nil
}

// LinkPodImages adds the pod/image pairs that are not linked yet and returns
// how many were added.
func (s *Store) LinkPodImages(ctx context.Context, podID int64, imageIDs []int64) (int, error) {
	if podID <= 0 {
		return 0, &storage.ValidationError{Field: "pod id", Reason: fmt.Sprintf("%d is not a positive id", podID)}
	}
	ids, err := uniqueIDs("image id", imageIDs)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var added int
	err = s.st.InTx(ctx, func(tx storage.Querier) error {
		existing, err := storage.LinkedImageIDs(ctx, tx, podID)
		if err != nil {
			return err
		}
		missing := difference(ids, existing)
		if err := storage.InsertPodImages(ctx, tx, podID, missing); err != nil {
			return err
		}
		added = len(missing)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to link images to pod %d: %w", podID, err)
	}
	return added, nil
}

// ReplacePodImages makes imageIDs the exact link set of the pod.
func (s *Store) ReplacePodImages(ctx context.Context, podID int64, imageIDs []int64) error {
	if podID <= 0 {
		return &storage.ValidationError{Field: "pod id", Reason: fmt.Sprintf("%d is not a positive id", podID)}
	}
	ids, err := uniqueIDs("image id", imageIDs)
	if err != nil {
		return err
	}

	err = s.st.InTx(ctx, func(tx storage.Querier) error {
		existing, err := storage.LinkedImageIDs(ctx, tx, podID)
		if err != nil {
			return err
		}
		if stale := difference(existing, ids); len(stale) > 0 {
			if _, err := storage.DeletePodImages(ctx, tx, podID, stale); err != nil {
				return err
			}
		}
		return storage.InsertPodImages(ctx, tx, podID, difference(ids, existing))
	})
	if err != nil {
		return fmt.Errorf("failed to replace images of pod %d: %w", podID, err)
	}
	return nil
}

// ReconcileDeadPods deletes the cluster's pods whose PodKey is not in
// liveKeys, links first, and returns how many pods went away.
func (s *Store) ReconcileDeadPods(ctx context.Context, clusterID int64, liveKeys []string) (int, error) {
	if err := validateCluster(clusterID); err != nil {
		return 0, err
	}
	live := toSet(liveKeys)

	var removed int64
	err := s.st.InTx(ctx, func(tx storage.Querier) error {
		pods, err := storage.ListPods(ctx, tx, clusterID)
		if err != nil {
			return err
		}
		var dead []int64
		for _, p := range pods {
			if _, ok := live[PodKey(p.Namespace, p.Name)]; !ok {
				dead = append(dead, p.ID)
			}
		}
		if len(dead) == 0 {
			return nil
		}
		if _, err := storage.DeleteLinksForPods(ctx, tx, dead); err != nil {
			return err
		}
		removed, err = storage.DeletePods(ctx, tx, dead)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile pods of cluster %d: %w", clusterID, err)
	}
	if removed > 0 {
		s.log.Info("removed dead pods", zap.Int64("cluster_id", clusterID), zap.Int64("count", removed))
	}
	return int(removed), nil
}

// ReconcileDeadNamespaces deletes the cluster's namespaces whose name is not
// in liveNames.
func (s *Store) ReconcileDeadNamespaces(ctx context.Context, clusterID int64, liveNames []string) (int, error) {
	if err := validateCluster(clusterID); err != nil {
		return 0, err
	}
	live := toSet(liveNames)

	var removed int64
	err := s.st.InTx(ctx, func(tx storage.Querier) error {
		namespaces, err := storage.ListNamespaces(ctx, tx, clusterID)
		if err != nil {
			return err
		}
		var dead []int64
		for _, ns := range namespaces {
			if _, ok := live[ns.Name]; !ok {
				dead = append(dead, ns.ID)
			}
		}
		if len(dead) == 0 {
			return nil
		}
		removed, err = storage.DeleteNamespaces(ctx, tx, dead)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile namespaces of cluster %d: %w", clusterID, err)
	}
	if removed > 0 {
		s.log.Info("removed dead namespaces", zap.Int64("cluster_id", clusterID), zap.Int64("count", removed))
	}
	return int(removed), nil
}

// CompliancePodsForCluster returns the cluster's Running pods with all of
// their linked images.
func (s *Store) CompliancePodsForCluster(ctx context.Context, clusterID int64) ([]storage.CompliancePod, error) {
	if err := validateCluster(clusterID); err != nil {
		return nil, err
	}
	return storage.RunningPodsWithImages(ctx, s.st.DB(), clusterID)
}

// CompliancePodsForDay is CompliancePodsForCluster over the history saved on
// day, across clusters.
func (s *Store) CompliancePodsForDay(ctx context.Context, day storage.Day) ([]storage.CompliancePod, error) {
	if day.IsZero() {
		return nil, &storage.ValidationError{Field: "day", Reason: "must be set"}
	}
	return storage.RunningHistoryPodsWithImages(ctx, s.st.DB(), day)
}

func (s *Store) Namespaces(ctx context.Context, clusterID int64) ([]storage.Namespace, error) {
	return storage.ListNamespaces(ctx, s.st.DB(), clusterID)
}

func (s *Store) Pods(ctx context.Context, clusterID int64) ([]storage.Pod, error) {
	return storage.ListPods(ctx, s.st.DB(), clusterID)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// difference returns the members of a that are not in b.
func difference(a, b []int64) []int64 {
	in := make(map[int64]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
