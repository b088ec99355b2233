package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	environmentsLaunchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_environments_launched_total",
			Help: "Total environments launched by application",
		},
		[]string{"application"},
	)

	environmentsStoppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_environments_stopped_total",
			Help: "Total environments stopped by reason",
		},
		[]string{"reason"},
	)

	environmentsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labpod_environments_deleted_total",
			Help: "Total environments deleted",
		},
	)

	environmentErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_environment_errors_total",
			Help: "Total environments marked error by operation",
		},
		[]string{"op"},
	)

	launchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labpod_launch_duration_seconds",
			Help:    "Time from launch request to committed provisioning",
			Buckets: prometheus.DefBuckets,
		},
	)

	environmentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labpod_environments",
			Help: "Current environment count by status",
		},
		[]string{"status"},
	)

	quotaRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_quota_rejected_total",
			Help: "Launch requests rejected by quota, by tier",
		},
		[]string{"tier"},
	)

	reconcileDriftTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_reconcile_drift_total",
			Help: "Drift events observed by the reconciler",
		},
		[]string{"kind"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labpod_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	sessionsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_sessions_issued_total",
			Help: "Total sessions issued by provider",
		},
		[]string{"provider"},
	)

	sessionsRefreshedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labpod_sessions_refreshed_total",
			Help: "Total sessions refreshed",
		},
	)

	authRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_auth_rejected_total",
			Help: "Rejected authentications by reason",
		},
		[]string{"reason"},
	)

	clusterRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labpod_cluster_retries_total",
			Help: "Cluster call retries by operation",
		},
		[]string{"op"},
	)
)

// PrometheusRecorder implements Recorder backed by Prometheus.
type PrometheusRecorder struct{}

// NewPrometheus returns a Recorder exposing metrics to Prometheus via
// the default registry.
func NewPrometheus() Recorder {
	return &PrometheusRecorder{}
}

func (p *PrometheusRecorder) IncEnvironmentLaunched(application string) {
	environmentsLaunchedTotal.WithLabelValues(application).Inc()
}

func (p *PrometheusRecorder) IncEnvironmentStopped(reason string) {
	environmentsStoppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncEnvironmentDeleted() {
	environmentsDeletedTotal.Inc()
}

func (p *PrometheusRecorder) IncEnvironmentError(op string) {
	environmentErrorsTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) ObserveLaunchDuration(duration time.Duration) {
	launchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetEnvironmentsByStatus(status string, count int) {
	environmentsByStatus.WithLabelValues(status).Set(float64(count))
}

func (p *PrometheusRecorder) IncQuotaRejected(tier string) {
	quotaRejectedTotal.WithLabelValues(tier).Inc()
}

func (p *PrometheusRecorder) IncReconcileDrift(kind string) {
	reconcileDriftTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) ObserveReconcileDuration(duration time.Duration) {
	reconcileDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncSessionIssued(provider string) {
	sessionsIssuedTotal.WithLabelValues(provider).Inc()
}

func (p *PrometheusRecorder) IncSessionRefreshed() {
	sessionsRefreshedTotal.Inc()
}

func (p *PrometheusRecorder) IncAuthRejected(reason string) {
	authRejectedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncClusterRetry(op string) {
	clusterRetriesTotal.WithLabelValues(op).Inc()
}

var _ Recorder = (*PrometheusRecorder)(nil)
