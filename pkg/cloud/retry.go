package cloud

import (
	"context"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// storagePermissionAttempts is how many times a storage-permission
// failure is attempted before the error escapes to the task.
const storagePermissionAttempts = 3

// storagePermissionDelay is the fixed pause between attempts, long enough
// for a freshly attached bucket policy to propagate. Variable so tests can
// shorten it.
var storagePermissionDelay = 3 * time.Second

// WithStoragePermissionRetry runs fn, retrying only storage-permission
// failures. Any other error returns immediately. This inner retry is
// independent of the scheduler's task-level retry: it absorbs the known
// propagation delay of bucket policies without burning task attempts.
func WithStoragePermissionRetry(ctx context.Context, logger *telemetry.Logger, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= storagePermissionAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsStoragePermission(err) {
			return err
		}
		if attempt == storagePermissionAttempts {
			break
		}
		if logger != nil {
			logger.WithError(err).Warnf(
				"storage permission denied, retrying in %s (attempt %d of %d)",
				storagePermissionDelay, attempt, storagePermissionAttempts)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(storagePermissionDelay):
		}
	}
	return err
}
