package archiver

import (
	"fmt"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// PartialArchiveFailure reports an archive run that was rolled back. Nothing
// of the run is visible; the caller retries the whole day.
type PartialArchiveFailure struct {
	ClusterID int64
	Day       storage.Day
	Step      string
	Err       error
}

func (e *PartialArchiveFailure) Error() string {
	return fmt.Sprintf("archive of cluster %d for %s failed at %s: %v", e.ClusterID, e.Day, e.Step, e.Err)
}

func (e *PartialArchiveFailure) Unwrap() error { return e.Err }
