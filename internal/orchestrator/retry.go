package orchestrator

import (
	"context"
	"time"

	"github.com/labpod/labpod/internal/cluster"
)

const (
	// maxClusterAttempts bounds retries of transient cluster failures.
	maxClusterAttempts = 3
)

// retryDelays are the waits between cluster call attempts.
var retryDelays = []time.Duration{500 * time.Millisecond, 2 * time.Second}

// withClusterRetry runs a cluster call, retrying transient failures
// with bounded backoff. Permanent failures and context cancellation
// surface immediately.
func (o *Orchestrator) withClusterRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < maxClusterAttempts; attempt++ {
		if attempt > 0 {
			o.metrics.IncClusterRetry(op)

			timer := time.NewTimer(retryDelays[attempt-1])
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ClusterCallTimeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !cluster.IsTransient(err) {
			return err
		}
	}

	return lastErr
}
