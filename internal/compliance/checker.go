package compliance

import (
	"context"

	"github.com/helmcloud/k8s-compliance-history/internal/storage"
)

// ImageChecker decides whether one image satisfies policy. Checkers are
// called with no evaluator transaction open and may read storage.
type ImageChecker interface {
	Compliant(ctx context.Context, img storage.Image) (bool, error)
}

// ImageCheckerFunc adapts a function to ImageChecker.
type ImageCheckerFunc func(ctx context.Context, img storage.Image) (bool, error)

func (f ImageCheckerFunc) Compliant(ctx context.Context, img storage.Image) (bool, error) {
	return f(ctx, img)
}

// ScanResultChecker trusts the scanner's last verdict stored on the image.
type ScanResultChecker struct{}

func (ScanResultChecker) Compliant(_ context.Context, img storage.Image) (bool, error) {
	return img.ScanResults == storage.ScanCompliant, nil
}
