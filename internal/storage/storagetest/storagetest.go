// Package storagetest opens throwaway SQLite databases with the real schema
// for tests of packages built on storage.
package storagetest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// New returns a Storage backed by a private in-memory database that is
// closed when the test ends.
func New(t testing.TB) *storage.Storage {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := storage.New(storage.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open test storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Cluster creates a cluster named name.
func Cluster(t testing.TB, s *storage.Storage, name string) int64 {
	t.Helper()
	id, err := storage.CreateCluster(context.Background(), s.DB(), name)
	if err != nil {
		t.Fatalf("failed to create cluster %s: %v", name, err)
	}
	return id
}

func Namespace(t testing.TB, s *storage.Storage, clusterID int64, name string) int64 {
	t.Helper()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := storage.InsertNamespace(context.Background(), s.DB(), &storage.Namespace{
		Name:              name,
		UID:               "uid-ns-" + name,
		CreationTimestamp: &ts,
		ClusterID:         clusterID,
	})
	if err != nil {
		t.Fatalf("failed to insert namespace %s: %v", name, err)
	}
	return id
}

func Pod(t testing.TB, s *storage.Storage, clusterID int64, namespace, name, status string) int64 {
	t.Helper()
	id, err := storage.InsertPod(context.Background(), s.DB(), &storage.Pod{
		Name:      name,
		Namespace: namespace,
		UID:       "uid-pod-" + namespace + "-" + name,
		ClusterID: clusterID,
		PodStatus: status,
	})
	if err != nil {
		t.Fatalf("failed to insert pod %s/%s: %v", namespace, name, err)
	}
	return id
}

// Image creates an image with the given scanner verdict.
func Image(t testing.TB, s *storage.Storage, clusterID int64, name, scanResults string, running bool) int64 {
	t.Helper()
	id, err := storage.InsertImage(context.Background(), s.DB(), &storage.Image{
		URL:              "registry.example.com/" + name,
		Name:             name,
		Tag:              "latest",
		DockerImageID:    "sha256:" + name,
		ScanResults:      scanResults,
		RunningInCluster: running,
		ClusterID:        clusterID,
	})
	if err != nil {
		t.Fatalf("failed to insert image %s: %v", name, err)
	}
	return id
}

func Link(t testing.TB, s *storage.Storage, podID int64, imageIDs ...int64) {
	t.Helper()
	if err := storage.InsertPodImages(context.Background(), s.DB(), podID, imageIDs); err != nil {
		t.Fatalf("failed to link pod %d: %v", podID, err)
	}
}

// Day parses a YYYY-MM-DD literal.
func Day(t testing.TB, s string) storage.Day {
	t.Helper()
	d, err := storage.ParseDay(s)
	if err != nil {
		t.Fatalf("bad day %q: %v", s, err)
	}
	return d
}
