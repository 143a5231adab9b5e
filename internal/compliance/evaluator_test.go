package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helmcloud/k8s-compliance-history/internal/archiver"
	"github.com/helmcloud/k8s-compliance-history/internal/compliance"
	"github.com/helmcloud/k8s-compliance-history/internal/storage"
	"github.com/helmcloud/k8s-compliance-history/internal/storage/storagetest"
)

func setupTestEvaluator(t *testing.T) (*compliance.Evaluator, *storage.Storage) {
	t.Helper()
	st := storagetest.New(t)
	return compliance.New(st, nil, zap.NewNop()), st
}

func image(name, scan string, running bool) storage.Image {
	return storage.Image{Name: name, URL: "registry.example.com/" + name, ScanResults: scan, RunningInCluster: running}
}

func TestEvaluatePod(t *testing.T) {
	e, _ := setupTestEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		images    []storage.Image
		compliant bool
		reasons   int
	}{
		{"no images", nil, true, 0},
		{"all compliant", []storage.Image{image("a", storage.ScanCompliant, true), image("b", storage.ScanCompliant, true)}, true, 0},
		{"one non-compliant", []storage.Image{image("a", storage.ScanCompliant, true), image("b", storage.ScanNonCompliant, true)}, false, 1},
		{"not running", []storage.Image{image("a", storage.ScanCompliant, false)}, false, 1},
		{"unscanned", []storage.Image{image("a", "", true)}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.EvaluatePod(ctx, storage.CompliancePod{ID: 7, Images: tt.images})
			require.NoError(t, err)
			assert.Equal(t, int64(7), v.PodID)
			assert.Equal(t, tt.compliant, v.Compliant)
			assert.Len(t, v.Reasons, tt.reasons)
		})
	}
}

func TestEvaluatePodIsMonotonic(t *testing.T) {
	e, _ := setupTestEvaluator(t)
	ctx := context.Background()
	scans := []string{storage.ScanCompliant, storage.ScanNonCompliant}

	// every pod of up to three images over all scan and running combinations
	var pods [][]storage.Image
	var build func(prefix []storage.Image)
	build = func(prefix []storage.Image) {
		pods = append(pods, prefix)
		if len(prefix) == 3 {
			return
		}
		for _, scan := range scans {
			for _, running := range []bool{true, false} {
				next := append(append([]storage.Image{}, prefix...), image("img", scan, running))
				build(next)
			}
		}
	}
	build(nil)

	for _, images := range pods {
		before, err := e.EvaluatePod(ctx, storage.CompliancePod{Images: images})
		require.NoError(t, err)
		for i := range images {
			if !images[i].RunningInCluster {
				continue
			}
			flipped := append([]storage.Image{}, images...)
			flipped[i].RunningInCluster = false
			after, err := e.EvaluatePod(ctx, storage.CompliancePod{Images: flipped})
			require.NoError(t, err)
			assert.False(t, after.Compliant && !before.Compliant, "flipping an image off made the pod compliant")
			assert.False(t, after.Compliant, "a pod with a stopped image is never compliant")
		}
	}
}

func TestEvaluatePodCheckerError(t *testing.T) {
	st := storagetest.New(t)
	boom := errors.New("policy backend down")
	e := compliance.New(st, compliance.ImageCheckerFunc(func(context.Context, storage.Image) (bool, error) {
		return false, boom
	}), zap.NewNop())

	_, err := e.EvaluatePod(context.Background(), storage.CompliancePod{Images: []storage.Image{image("a", storage.ScanCompliant, true)}})
	assert.ErrorIs(t, err, boom)
}

func TestEvaluateNamespace(t *testing.T) {
	assert.True(t, compliance.EvaluateNamespace(nil))
	assert.True(t, compliance.EvaluateNamespace([]bool{}))
	assert.True(t, compliance.EvaluateNamespace([]bool{true, true}))
	assert.False(t, compliance.EvaluateNamespace([]bool{true, false}))
}

func TestEvaluateClusterScenario(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, st, "prod")
	ns1 := storagetest.Namespace(t, st, cluster, "ns1")
	empty := storagetest.Namespace(t, st, cluster, "empty")

	good := storagetest.Image(t, st, cluster, "good", storage.ScanCompliant, true)
	bad := storagetest.Image(t, st, cluster, "bad", storage.ScanNonCompliant, true)
	p1 := storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, st, cluster, "ns1", "p2", storage.PodStatusRunning)
	storagetest.Link(t, st, p1, good)
	storagetest.Link(t, st, p2, good, bad)

	sum, err := e.EvaluateCluster(ctx, cluster)
	require.NoError(t, err)
	assert.Equal(t, compliance.Summary{Pods: 2, CompliantPods: 1, Namespaces: 2, CompliantNamespaces: 1}, sum)

	pod1, err := storage.GetPod(ctx, st.DB(), p1)
	require.NoError(t, err)
	pod2, err := storage.GetPod(ctx, st.DB(), p2)
	require.NoError(t, err)
	assert.True(t, pod1.Compliant)
	assert.False(t, pod2.Compliant)

	flags := map[int64]bool{}
	namespaces, err := storage.ListNamespaces(ctx, st.DB(), cluster)
	require.NoError(t, err)
	for _, ns := range namespaces {
		flags[ns.ID] = ns.Compliant
	}
	assert.False(t, flags[ns1])
	assert.True(t, flags[empty], "a namespace without Running pods is compliant")
}

func TestEvaluateClusterIgnoresOtherClusters(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	prod := storagetest.Cluster(t, st, "prod")
	staging := storagetest.Cluster(t, st, "staging")
	storagetest.Namespace(t, st, prod, "ns1")
	stagingNs := storagetest.Namespace(t, st, staging, "ns1")

	bad := storagetest.Image(t, st, staging, "bad", storage.ScanNonCompliant, true)
	p := storagetest.Pod(t, st, staging, "ns1", "p", storage.PodStatusRunning)
	storagetest.Link(t, st, p, bad)

	_, err := e.EvaluateCluster(ctx, prod)
	require.NoError(t, err)
	_, err = e.EvaluateCluster(ctx, staging)
	require.NoError(t, err)

	namespaces, err := storage.ListNamespaces(ctx, st.DB(), prod)
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.True(t, namespaces[0].Compliant)

	namespaces, err = storage.ListNamespaces(ctx, st.DB(), staging)
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.Equal(t, stagingNs, namespaces[0].ID)
	assert.False(t, namespaces[0].Compliant)
}

func TestApplyBatch(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, st, "prod")
	p1 := storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, st, cluster, "ns1", "p2", "Succeeded")

	require.NoError(t, e.ApplyBatch(ctx, compliance.ScopePods, []compliance.Update{
		{ID: p1, Compliant: true},
		{ID: p2, Compliant: true},
	}))
	require.NoError(t, e.ApplyBatch(ctx, compliance.ScopePods, []compliance.Update{{ID: p2, Compliant: false}}))

	pod1, err := storage.GetPod(ctx, st.DB(), p1)
	require.NoError(t, err)
	pod2, err := storage.GetPod(ctx, st.DB(), p2)
	require.NoError(t, err)
	assert.True(t, pod1.Compliant)
	assert.False(t, pod2.Compliant)
	assert.Equal(t, "Succeeded", pod2.PodStatus)
	assert.Equal(t, "p2", pod2.Name)
}

func TestApplyBatchRejectsMalformedBatch(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, st, "prod")
	p1 := storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning)

	err := e.ApplyBatch(ctx, compliance.ScopePods, []compliance.Update{{ID: p1, Compliant: true}, {ID: 0}})
	assert.True(t, storage.IsValidation(err))
	err = e.ApplyBatch(ctx, compliance.ScopePods, []compliance.Update{{ID: p1, Compliant: true}, {ID: p1}})
	assert.True(t, storage.IsValidation(err))
	err = e.ApplyBatch(ctx, compliance.Scope(42), []compliance.Update{{ID: p1}})
	assert.True(t, storage.IsValidation(err))

	pod, err := storage.GetPod(ctx, st.DB(), p1)
	require.NoError(t, err)
	assert.False(t, pod.Compliant, "a rejected batch must not be applied in part")
}

func TestApplyBatchRollsBackOnStorageFailure(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, st, "prod")
	p1 := storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, st, cluster, "ns1", "p2", storage.PodStatusRunning)
	p3 := storagetest.Pod(t, st, cluster, "ns1", "p3", storage.PodStatusRunning)

	// The compliant UPDATE runs first and succeeds, the non-compliant one aborts.
	_, err := st.DB().ExecContext(ctx, `CREATE TRIGGER fail_noncompliant BEFORE UPDATE ON kubernetes_pods
		WHEN NEW.compliant = 0 BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	err = e.ApplyBatch(ctx, compliance.ScopePods, []compliance.Update{
		{ID: p1, Compliant: true},
		{ID: p2, Compliant: false},
		{ID: p3, Compliant: true},
	})
	require.Error(t, err)
	assert.True(t, storage.IsStorage(err))
	assert.False(t, storage.IsValidation(err))

	for _, id := range []int64{p1, p3} {
		pod, err := storage.GetPod(ctx, st.DB(), id)
		require.NoError(t, err)
		assert.False(t, pod.Compliant, "pod %d must be rolled back", id)
	}
}

func TestEvaluateClusterCheckerMayReadStorage(t *testing.T) {
	st := storagetest.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cluster := storagetest.Cluster(t, st, "prod")
	storagetest.Namespace(t, st, cluster, "ns1")
	img := storagetest.Image(t, st, cluster, "app", storage.ScanNonCompliant, true)
	storagetest.Link(t, st, storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning), img)

	// Looks the verdict up again instead of trusting the loaded row.
	e := compliance.New(st, compliance.ImageCheckerFunc(func(ctx context.Context, img storage.Image) (bool, error) {
		fresh, err := storage.GetImage(ctx, st.DB(), img.ID)
		if err != nil {
			return false, err
		}
		return fresh.ScanResults == storage.ScanCompliant, nil
	}), zap.NewNop())

	sum, err := e.EvaluateCluster(ctx, cluster)
	require.NoError(t, err)
	assert.Equal(t, compliance.Summary{Pods: 1, Namespaces: 1}, sum)

	day := storagetest.Day(t, "2024-01-01")
	_, err = archiver.New(st, zap.NewNop()).Archive(ctx, cluster, day)
	require.NoError(t, err)
	sum, err = e.EvaluateDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pods)
	assert.Equal(t, 0, sum.CompliantPods)
}

func TestEvaluateDay(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	cluster := storagetest.Cluster(t, st, "prod")
	storagetest.Namespace(t, st, cluster, "ns1")
	storagetest.Namespace(t, st, cluster, "ns2")
	good := storagetest.Image(t, st, cluster, "good", storage.ScanCompliant, true)
	bad := storagetest.Image(t, st, cluster, "bad", storage.ScanNonCompliant, true)
	p1 := storagetest.Pod(t, st, cluster, "ns1", "p1", storage.PodStatusRunning)
	p2 := storagetest.Pod(t, st, cluster, "ns2", "p2", storage.PodStatusRunning)
	storagetest.Link(t, st, p1, good)
	storagetest.Link(t, st, p2, bad)

	day := storagetest.Day(t, "2024-01-01")
	_, err := archiver.New(st, zap.NewNop()).Archive(ctx, cluster, day)
	require.NoError(t, err)

	sum, err := e.EvaluateDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, compliance.Summary{Pods: 2, CompliantPods: 1, Namespaces: 2, CompliantNamespaces: 1}, sum)

	namespaces, err := storage.ListHistoryNamespaces(ctx, st.DB(), day)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, ns := range namespaces {
		got[ns.Name] = ns.Compliant
	}
	assert.Equal(t, map[string]bool{"ns1": true, "ns2": false}, got)

	pods, err := storage.ListPods(ctx, st.DB(), cluster)
	require.NoError(t, err)
	for _, p := range pods {
		assert.False(t, p.Compliant, "history evaluation must not touch current pods")
	}
}

func TestEvaluateAll(t *testing.T) {
	e, st := setupTestEvaluator(t)
	ctx := context.Background()
	for _, name := range []string{"prod", "staging"} {
		cluster := storagetest.Cluster(t, st, name)
		storagetest.Pod(t, st, cluster, "ns1", "p", storage.PodStatusRunning)
	}
	require.NoError(t, e.EvaluateAll(ctx))

	clusters, err := storage.ListActiveClusters(ctx, st.DB())
	require.NoError(t, err)
	for _, c := range clusters {
		pods, err := storage.ListPods(ctx, st.DB(), c.ID)
		require.NoError(t, err)
		require.Len(t, pods, 1)
		assert.True(t, pods[0].Compliant)
	}
}
