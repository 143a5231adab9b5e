package storage

import "time"

// PodStatusRunning is the only pod phase that takes part in compliance.
const PodStatusRunning = "Running"

// Scanner verdicts stored in images.scan_results.
const (
	ScanCompliant    = "Compliant"
	ScanNonCompliant = "Non-compliant"
)

type Cluster struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	DeletedAt *time.Time `db:"deleted_at"`
}

type Namespace struct {
	ID                int64      `db:"id"`
	Name              string     `db:"name"`
	UID               string     `db:"uid"`
	SelfLink          string     `db:"self_link"`
	ResourceVersion   string     `db:"resource_version"`
	CreationTimestamp *time.Time `db:"creation_timestamp"`
	ClusterID         int64      `db:"cluster_id"`
	Compliant         bool       `db:"compliant"`
}

type Pod struct {
	ID                int64      `db:"id"`
	Name              string     `db:"name"`
	Namespace         string     `db:"namespace"`
	GenerateName      string     `db:"generate_name"`
	UID               string     `db:"uid"`
	SelfLink          string     `db:"self_link"`
	ResourceVersion   string     `db:"resource_version"`
	CreationTimestamp *time.Time `db:"creation_timestamp"`
	ClusterID         int64      `db:"cluster_id"`
	PodStatus         string     `db:"pod_status"`
	Compliant         bool       `db:"compliant"`
}

type Image struct {
	ID               int64  `db:"id"`
	URL              string `db:"url"`
	Name             string `db:"name"`
	Tag              string `db:"tag"`
	DockerImageID    string `db:"docker_image_id"`
	Summary          string `db:"summary"`
	ScanResults      string `db:"scan_results"`
	RunningInCluster bool   `db:"running_in_cluster"`
	ClusterID        int64  `db:"cluster_id"`
}

type PodImageLink struct {
	PodID   int64 `db:"pod_id"`
	ImageID int64 `db:"image_id"`
}

type HistoryNamespace struct {
	Namespace
	SavedDate Day `db:"saved_date"`
}

type HistoryPod struct {
	Pod
	SavedDate Day `db:"saved_date"`
}

type HistoryPodImageLink struct {
	HistoryPodID int64 `db:"history_pod_id"`
	ImageID      int64 `db:"image_id"`
}

// CompliancePod is a Running pod together with every image linked to it.
// ID refers to kubernetes_pods or history_kubernetes_pods depending on the
// query that produced it.
type CompliancePod struct {
	ID        int64
	Name      string
	Namespace string
	ClusterID int64
	SavedDate Day
	Images    []Image
}

// ComplianceSummary is a grouped pod count. Namespace is set for current-state
// summaries, SavedDate for history summaries.
type ComplianceSummary struct {
	ClusterID           int64  `db:"cluster_id" json:"clusterId"`
	Namespace           string `db:"namespace" json:"namespace,omitempty"`
	SavedDate           Day    `db:"saved_date" json:"savedDate,omitzero"`
	NumPods             int64  `db:"num_pods" json:"numPods"`
	NumCompliantPods    int64  `db:"num_compliant_pods" json:"numCompliantPods"`
	NumNoncompliantPods int64  `db:"num_noncompliant_pods" json:"numNoncompliantPods"`
}

// Archive run states.
const (
	RunPending      = "PENDING"
	RunSnapshotting = "SNAPSHOTTING"
	RunCommitted    = "COMMITTED"
	RunFailed       = "FAILED"
)

type ArchiveRun struct {
	ClusterID  int64      `db:"cluster_id"`
	SavedDate  Day        `db:"saved_date"`
	RunID      string     `db:"run_id"`
	State      string     `db:"state"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Error      string     `db:"error"`
}
