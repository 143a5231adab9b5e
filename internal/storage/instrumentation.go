package storage

import (
	"time"

	"github.com/helmcloud/k8s-compliance-history/internal/metrics"
)

// instrument times fn under operation and tags a failure as a StorageError.
func instrument(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return wrapErr(operation, err)
}
