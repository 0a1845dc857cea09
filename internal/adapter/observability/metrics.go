package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"service"},
	)
	JobsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of jobs claimed by workers",
		},
		[]string{"service"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"service"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs terminally failed, by category",
		},
		[]string{"service", "category"},
	)
	JobsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of job retry requeues",
		},
		[]string{"service"},
	)
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of jobs currently assigned or in progress",
		},
	)

	DispatcherMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_messages_total",
			Help: "Total messages handled by the dispatcher, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RecoverySweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recovery_sweep_duration_seconds",
			Help:    "Duration of recovery supervisor sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"sweep"},
	)
	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_actions_total",
			Help: "Total recovery actions taken, by kind",
		},
		[]string{"kind"},
	)

	EventPublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Total failed event publishes, by channel",
		},
		[]string{"channel"},
	)
	MonitorsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitors_connected",
			Help: "Number of monitors currently subscribed to the event fabric",
		},
	)
)

// InitMetrics registers all broker collectors with the default registry.
// Call once per process at startup.
func InitMetrics() {
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(JobsActive)
	prometheus.MustRegister(DispatcherMessagesTotal)
	prometheus.MustRegister(RecoverySweepDuration)
	prometheus.MustRegister(RecoveryActionsTotal)
	prometheus.MustRegister(EventPublishFailuresTotal)
	prometheus.MustRegister(MonitorsConnected)
}
