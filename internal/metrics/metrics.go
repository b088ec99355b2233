// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Lifecycle metrics
	IncEnvironmentLaunched(application string)
	IncEnvironmentStopped(reason string) // reason: "user", "idle", "uptime"
	IncEnvironmentDeleted()
	IncEnvironmentError(op string)
	ObserveLaunchDuration(duration time.Duration)
	SetEnvironmentsByStatus(status string, count int)

	// Quota metrics
	IncQuotaRejected(tier string)

	// Reconciler metrics
	IncReconcileDrift(kind string) // kind: "workload_missing", "workload_failed"
	ObserveReconcileDuration(duration time.Duration)

	// Session metrics
	IncSessionIssued(provider string)
	IncSessionRefreshed()
	IncAuthRejected(reason string)

	// Cluster call metrics
	IncClusterRetry(op string)
}
