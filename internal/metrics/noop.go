package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncEnvironmentLaunched is a no-op.
func (n *NoopRecorder) IncEnvironmentLaunched(application string) {}

// IncEnvironmentStopped is a no-op.
func (n *NoopRecorder) IncEnvironmentStopped(reason string) {}

// IncEnvironmentDeleted is a no-op.
func (n *NoopRecorder) IncEnvironmentDeleted() {}

// IncEnvironmentError is a no-op.
func (n *NoopRecorder) IncEnvironmentError(op string) {}

// ObserveLaunchDuration is a no-op.
func (n *NoopRecorder) ObserveLaunchDuration(duration time.Duration) {}

// SetEnvironmentsByStatus is a no-op.
func (n *NoopRecorder) SetEnvironmentsByStatus(status string, count int) {}

// IncQuotaRejected is a no-op.
func (n *NoopRecorder) IncQuotaRejected(tier string) {}

// IncReconcileDrift is a no-op.
func (n *NoopRecorder) IncReconcileDrift(kind string) {}

// ObserveReconcileDuration is a no-op.
func (n *NoopRecorder) ObserveReconcileDuration(duration time.Duration) {}

// IncSessionIssued is a no-op.
func (n *NoopRecorder) IncSessionIssued(provider string) {}

// IncSessionRefreshed is a no-op.
func (n *NoopRecorder) IncSessionRefreshed() {}

// IncAuthRejected is a no-op.
func (n *NoopRecorder) IncAuthRejected(reason string) {}

// IncClusterRetry is a no-op.
func (n *NoopRecorder) IncClusterRetry(op string) {}
