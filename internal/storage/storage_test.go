package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
	"github.com/helmcloud/k8s-compliance-history/internal/storage/storagetest"
)

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := storage.New("mysql", "whatever")
	require.Error(t, err)
	assert.True(t, storage.IsValidation(err))
}

func TestParseDay(t *testing.T) {
	d, err := storage.ParseDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())
	assert.Equal(t, "2024-03-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))

	_, err = storage.ParseDay("2024-13-01")
	assert.True(t, storage.IsValidation(err))
	_, err = storage.ParseDay("")
	assert.True(t, storage.IsValidation(err))
}

func TestDayScan(t *testing.T) {
	var d storage.Day
	require.NoError(t, d.Scan(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-01-02", d.String())
	require.NoError(t, d.Scan("2024-01-03T00:00:00Z"))
	assert.Equal(t, "2024-01-03", d.String())
	require.NoError(t, d.Scan([]byte("2024-01-04")))
	assert.Equal(t, "2024-01-04", d.String())
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())
	assert.Error(t, d.Scan(42))

	_, err := storage.Day{}.Value()
	assert.Error(t, err)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()

	err := storage.InsertPodImages(ctx, s.DB(), 999, []int64{999})
	require.Error(t, err)
	assert.True(t, storage.IsStorage(err))
}

func TestInsertConflictReturnsNotFound(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, s, "prod")
	storagetest.Pod(t, s, cluster, "ns1", "web", storage.PodStatusRunning)

	_, err := storage.InsertPod(ctx, s.DB(), &storage.Pod{Name: "web", Namespace: "ns1", UID: "other", ClusterID: cluster})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunningPodsWithImages(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, s, "prod")

	p1 := storagetest.Pod(t, s, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, s, cluster, "ns1", "p2", storage.PodStatusRunning)
	pending := storagetest.Pod(t, s, cluster, "ns1", "p3", "Pending")
	a := storagetest.Image(t, s, cluster, "a", storage.ScanCompliant, true)
	b := storagetest.Image(t, s, cluster, "b", storage.ScanNonCompliant, false)
	storagetest.Link(t, s, p1, a, b)
	storagetest.Link(t, s, pending, a)

	pods, err := storage.RunningPodsWithImages(ctx, s.DB(), cluster)
	require.NoError(t, err)
	require.Len(t, pods, 2)

	assert.Equal(t, p1, pods[0].ID)
	require.Len(t, pods[0].Images, 2)
	assert.True(t, pods[0].Images[0].RunningInCluster)
	assert.False(t, pods[0].Images[1].RunningInCluster)
	assert.Equal(t, storage.ScanNonCompliant, pods[0].Images[1].ScanResults)

	assert.Equal(t, p2, pods[1].ID)
	assert.Empty(t, pods[1].Images)
}

func TestSetCompliance(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, s, "prod")
	p1 := storagetest.Pod(t, s, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, s, cluster, "ns1", "p2", storage.PodStatusRunning)

	n, err := storage.SetCompliance(ctx, s.DB(), storage.TablePods, true, []int64{p1, p2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = storage.SetCompliance(ctx, s.DB(), storage.TablePods, false, []int64{p2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	pod1, err := storage.GetPod(ctx, s.DB(), p1)
	require.NoError(t, err)
	pod2, err := storage.GetPod(ctx, s.DB(), p2)
	require.NoError(t, err)
	assert.True(t, pod1.Compliant)
	assert.False(t, pod2.Compliant)
	assert.Equal(t, storage.PodStatusRunning, pod2.PodStatus)

	_, err = storage.SetCompliance(ctx, s.DB(), storage.FlagTable("images"), true, []int64{1})
	assert.True(t, storage.IsValidation(err))
}

func TestDeleteByIDsChunks(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, s, "prod")

	var ids []int64
	for i := 0; i < 1203; i++ {
		ids = append(ids, storagetest.Namespace(t, s, cluster, "ns-"+strconv.Itoa(i)))
	}
	n, err := storage.DeleteNamespaces(ctx, s.DB(), ids)
	require.NoError(t, err)
	assert.EqualValues(t, 1203, n)

	remaining, err := storage.ListNamespaces(ctx, s.DB(), cluster)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestInTxRollsBack(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx storage.Querier) error {
		if _, err := storage.CreateCluster(ctx, tx, "prod"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	clusters, err := storage.ListActiveClusters(ctx, s.DB())
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestInTxRollsBackOnCancel(t *testing.T) {
	s := storagetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx storage.Querier) error {
		if _, err := storage.CreateCluster(ctx, tx, "prod"); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	clusters, err := storage.ListActiveClusters(context.Background(), s.DB())
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestLockDay(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	day := storagetest.Day(t, "2024-01-01")

	err := s.InTx(ctx, func(tx storage.Querier) error {
		if err := storage.LockDay(ctx, tx, day, false); err != nil {
			return err
		}
		_, err := storage.DeleteArchiveRuns(ctx, tx, day)
		return err
	})
	require.NoError(t, err)

	err = storage.LockDay(ctx, s.DB(), storage.Day{}, true)
	assert.True(t, storage.IsValidation(err))
}

func TestHistorySummary(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	c1 := storagetest.Cluster(t, s, "prod")
	c2 := storagetest.Cluster(t, s, "staging")
	day1 := storagetest.Day(t, "2024-01-01")
	day2 := storagetest.Day(t, "2024-01-02")

	insert := func(cluster int64, name string, compliant bool, day storage.Day) {
		_, err := storage.InsertHistoryPod(ctx, s.DB(), &storage.Pod{
			Name: name, Namespace: "ns1", UID: name, ClusterID: cluster,
			PodStatus: storage.PodStatusRunning, Compliant: compliant,
		}, day)
		require.NoError(t, err)
	}
	insert(c1, "a", true, day1)
	insert(c1, "b", false, day1)
	insert(c2, "c", true, day1)
	insert(c1, "d", true, day2)

	rows, err := storage.HistorySummary(ctx, s.DB(), &c1, day1, day2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-01", rows[0].SavedDate.String())
	assert.Equal(t, c1, rows[0].ClusterID)
	assert.EqualValues(t, 2, rows[0].NumPods)
	assert.EqualValues(t, 1, rows[0].NumCompliantPods)
	assert.EqualValues(t, 1, rows[0].NumNoncompliantPods)

	all, err := storage.HistorySummary(ctx, s.DB(), nil, day1, day1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, 3, all[0].NumPods)
	assert.EqualValues(t, 2, all[0].NumCompliantPods)

	days, err := storage.HistoryDaysBefore(ctx, s.DB(), day2)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-01-01", days[0].String())
}

func TestArchiveRunLifecycle(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, s, "prod")
	day := storagetest.Day(t, "2024-01-01")
	now := time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC)

	_, err := storage.GetArchiveRun(ctx, s.DB(), cluster, day)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, storage.StartArchiveRun(ctx, s.DB(), cluster, day, "run-1", storage.RunSnapshotting, now))
	require.NoError(t, storage.FinishArchiveRun(ctx, s.DB(), cluster, day, "run-1", storage.RunFailed, "boom", now.Add(time.Second)))

	run, err := storage.GetArchiveRun(ctx, s.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, storage.RunFailed, run.State)
	assert.Equal(t, "boom", run.Error)
	require.NotNil(t, run.FinishedAt)

	require.NoError(t, storage.StartArchiveRun(ctx, s.DB(), cluster, day, "run-2", storage.RunSnapshotting, now.Add(time.Hour)))
	run, err = storage.GetArchiveRun(ctx, s.DB(), cluster, day)
	require.NoError(t, err)
	assert.Equal(t, "run-2", run.RunID)
	assert.Empty(t, run.Error)
	assert.Nil(t, run.FinishedAt)

	n, err := storage.DeleteArchiveRuns(ctx, s.DB(), day)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestComplianceSummaryJSON(t *testing.T) {
	current, err := json.Marshal(storage.ComplianceSummary{ClusterID: 1, Namespace: "ns1", NumPods: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(current), "savedDate")
	assert.Contains(t, string(current), `"namespace":"ns1"`)

	history, err := json.Marshal(storage.ComplianceSummary{ClusterID: 1, SavedDate: storagetest.Day(t, "2024-01-01"), NumPods: 2})
	require.NoError(t, err)
	assert.Contains(t, string(history), `"savedDate":"2024-01-01"`)
	assert.NotContains(t, string(history), "namespace")
}
