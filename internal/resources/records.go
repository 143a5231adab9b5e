package resources

import (
	"fmt"
	"time"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// NamespaceRecord is a namespace as observed by the collector.
type NamespaceRecord struct {
	ClusterID         int64
	Name              string
	UID               string
	SelfLink          string
	ResourceVersion   string
	CreationTimestamp *time.Time
}

// PodRecord is a pod as observed by the collector.
type PodRecord struct {
	ClusterID         int64
	Namespace         string
	Name              string
	GenerateName      string
	UID               string
	SelfLink          string
	ResourceVersion   string
	CreationTimestamp *time.Time
	PodStatus         string
}

// ImageRecord is a container image reference. RunningInCluster and
// ScanResults only seed a new row; the scanner owns them afterwards.
type ImageRecord struct {
	ClusterID        int64
	URL              string
	Name             string
	Tag              string
	DockerImageID    string
	Summary          string
	ScanResults      string
	RunningInCluster bool
}

// PodKey is the live-set key of a pod in ReconcileDeadPods.
func PodKey(namespace, name string) string {
	return namespace + "/" + name
}

func validateCluster(id int64) error {
	if id <= 0 {
		return &storage.ValidationError{Field: "cluster id", Reason: fmt.Sprintf("%d is not a positive id", id)}
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return &storage.ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

func (r NamespaceRecord) validate() error {
	if err := validateCluster(r.ClusterID); err != nil {
		return err
	}
	if err := required("namespace name", r.Name); err != nil {
		return err
	}
	return required("namespace uid", r.UID)
}

func (r NamespaceRecord) row() *storage.Namespace {
	return &storage.Namespace{
		Name:              r.Name,
		UID:               r.UID,
		SelfLink:          r.SelfLink,
		ResourceVersion:   r.ResourceVersion,
		CreationTimestamp: r.CreationTimestamp,
		ClusterID:         r.ClusterID,
	}
}

func (r PodRecord) validate() error {
	if err := validateCluster(r.ClusterID); err != nil {
		return err
	}
	if err := required("pod namespace", r.Namespace); err != nil {
		return err
	}
	if err := required("pod name", r.Name); err != nil {
		return err
	}
	return required("pod uid", r.UID)
}

func (r PodRecord) row() *storage.Pod {
	return &storage.Pod{
		Name:              r.Name,
		Namespace:         r.Namespace,
		GenerateName:      r.GenerateName,
		UID:               r.UID,
		SelfLink:          r.SelfLink,
		ResourceVersion:   r.ResourceVersion,
		CreationTimestamp: r.CreationTimestamp,
		ClusterID:         r.ClusterID,
		PodStatus:         r.PodStatus,
	}
}

func (r ImageRecord) validate() error {
	if err := validateCluster(r.ClusterID); err != nil {
		return err
	}
	if err := required("image url", r.URL); err != nil {
		return err
	}
	return required("image name", r.Name)
}

func (r ImageRecord) row() *storage.Image {
	return &storage.Image{
		URL:              r.URL,
		Name:             r.Name,
		Tag:              r.Tag,
		DockerImageID:    r.DockerImageID,
		Summary:          r.Summary,
		ScanResults:      r.ScanResults,
		RunningInCluster: r.RunningInCluster,
		ClusterID:        r.ClusterID,
	}
}

// uniqueIDs rejects non-positive ids and drops duplicates, keeping order.
func uniqueIDs(field string, ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, &storage.ValidationError{Field: field, Reason: fmt.Sprintf("%d is not a positive id", id)}
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// ScanRecord is a scanner verdict for the images stored under URL. An empty
// DockerImageID applies it to every digest of that URL.
type ScanRecord struct {
	ClusterID        int64
	URL              string
	DockerImageID    string
	ScanResults      string
	RunningInCluster bool
}

func (r ScanRecord) validate() error {
	if err := validateCluster(r.ClusterID); err != nil {
		return err
	}
	if err := required("image url", r.URL); err != nil {
		return err
	}
	return required("scan results", r.ScanResults)
}
