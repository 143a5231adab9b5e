package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
	"github.com/helmcloud/k8s-compliance-history/internal/storage/storagetest"
)

// seedCluster creates 2 namespaces, 5 pods and 8 pod image links.
func seedCluster(t *testing.T, st *storage.Storage, name string) int64 {
	t.Helper()
	cluster := storagetest.Cluster(t, st, name)
	storagetest.Namespace(t, st, cluster, "ns1")
	storagetest.Namespace(t, st, cluster, "ns2")

	images := []int64{
		storagetest.Image(t, st, cluster, "a", storage.ScanCompliant, true),
		storagetest.Image(t, st, cluster, "b", storage.ScanCompliant, true),
		storagetest.Image(t, st, cluster, "c", storage.ScanNonCompliant, true),
	}
	links := [][]int64{
		{images[0], images[1]},
		{images[0], images[2]},
		{images[1]},
		{images[0], images[1], images[2]},
		{},
	}
	for i, l := range links {
		ns := "ns1"
		if i >= 3 {
			ns = "ns2"
		}
		pod := storagetest.Pod(t, st, cluster, ns, fmt.Sprintf("p%d", i), storage.PodStatusRunning)
		if len(l) > 0 {
			storagetest.Link(t, st, pod, l...)
		}
	}
	return cluster
}

func TestArchiveSnapshotsCurrentState(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	cluster := seedCluster(t, st, "prod")
	day := storagetest.Day(t, "2024-01-01")
	a := New(st, zap.NewNop())

	res, err := a.Archive(ctx, cluster, day)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Namespaces)
	assert.Equal(t, 5, res.Pods)
	assert.Equal(t, 8, res.Links)
	assert.Zero(t, res.Replaced)
	assert.NotEmpty(t, res.RunID)

	counts, err := storage.CountHistory(ctx, st.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.HistoryCounts{Namespaces: 2, Pods: 5, Links: 8}, counts)

	pods, err := storage.ListHistoryPods(ctx, st.DB(), cluster, day)
	require.NoError(t, err)
	for _, p := range pods {
		assert.Equal(t, "2024-01-01", p.SavedDate.String())
	}

	run, err := a.Run(ctx, cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.RunCommitted, run.State)
	assert.Equal(t, res.RunID, run.RunID)
}

func TestArchiveTwiceReplaces(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	cluster := seedCluster(t, st, "prod")
	day := storagetest.Day(t, "2024-01-01")
	a := New(st, zap.NewNop())

	_, err := a.Archive(ctx, cluster, day)
	require.NoError(t, err)
	first, err := storage.CountHistory(ctx, st.DB(), cluster, day)
	require.NoError(t, err)

	res, err := a.Archive(ctx, cluster, day)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Replaced)

	second, err := storage.CountHistory(ctx, st.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestArchiveLeavesOtherClustersAndDays(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	prod := seedCluster(t, st, "prod")
	staging := seedCluster(t, st, "staging")
	day1 := storagetest.Day(t, "2024-01-01")
	day2 := storagetest.Day(t, "2024-01-02")
	a := New(st, zap.NewNop())

	_, err := a.Archive(ctx, staging, day1)
	require.NoError(t, err)
	_, err = a.Archive(ctx, prod, day1)
	require.NoError(t, err)
	_, err = a.Archive(ctx, prod, day2)
	require.NoError(t, err)
	_, err = a.Archive(ctx, prod, day1)
	require.NoError(t, err)

	for _, tc := range []struct {
		cluster int64
		day     storage.Day
	}{{staging, day1}, {prod, day1}, {prod, day2}} {
		counts, err := storage.CountHistory(ctx, st.DB(), tc.cluster, tc.day)
		require.NoError(t, err)
		assert.Equal(t, storage.HistoryCounts{Namespaces: 2, Pods: 5, Links: 8}, counts)
	}
}

func TestArchiveRollsBackOnFailure(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	cluster := seedCluster(t, st, "prod")
	day := storagetest.Day(t, "2024-01-01")
	a := New(st, zap.NewNop())

	_, err := st.DB().ExecContext(ctx, `DROP TABLE history_pod_images`)
	require.NoError(t, err)

	_, err = a.Archive(ctx, cluster, day)
	require.Error(t, err)
	var failure *PartialArchiveFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, StepLinks, failure.Step)
	assert.Equal(t, cluster, failure.ClusterID)
	assert.True(t, storage.IsStorage(err))

	namespaces, err := storage.ListHistoryNamespaces(ctx, st.DB(), day)
	require.NoError(t, err)
	assert.Empty(t, namespaces, "a failed run must leave no namespace rows")
	pods, err := storage.ListHistoryPods(ctx, st.DB(), cluster, day)
	require.NoError(t, err)
	assert.Empty(t, pods, "a failed run must leave no pod rows")

	run, err := a.Run(ctx, cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, run.State)
	assert.NotEmpty(t, run.Error)
}

func TestArchiveCancelledContext(t *testing.T) {
	st := storagetest.New(t)
	cluster := seedCluster(t, st, "prod")
	day := storagetest.Day(t, "2024-01-01")
	a := New(st, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Archive(ctx, cluster, day)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	counts, err := storage.CountHistory(context.Background(), st.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.HistoryCounts{}, counts)
}

func TestArchiveConcurrentSameDay(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	cluster := seedCluster(t, st, "prod")
	day := storagetest.Day(t, "2024-01-01")
	a := New(st, zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Archive(ctx, cluster, day)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := storage.CountHistory(ctx, st.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.HistoryCounts{Namespaces: 2, Pods: 5, Links: 8}, counts)
}

func TestArchiveValidation(t *testing.T) {
	st := storagetest.New(t)
	a := New(st, zap.NewNop())

	_, err := a.Archive(context.Background(), 0, storagetest.Day(t, "2024-01-01"))
	assert.True(t, storage.IsValidation(err))
	_, err = a.Archive(context.Background(), 1, storage.Day{})
	assert.True(t, storage.IsValidation(err))
}

func TestArchiveAll(t *testing.T) {
	st := storagetest.New(t)
	ctx := context.Background()
	seedCluster(t, st, "prod")
	seedCluster(t, st, "staging")
	retired := seedCluster(t, st, "retired")
	require.NoError(t, storage.SoftDeleteCluster(ctx, st.DB(), retired, time.Now()))
	a := New(st, zap.NewNop())

	results, err := a.ArchiveAll(ctx, storagetest.Day(t, "2024-01-01"))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
