// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_step_transitions_total",
			Help: "Workflow step transitions by step name and resulting status",
		},
		[]string{"step", "status"},
	)

	StaleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_stale_transitions_total",
			Help: "Conditional updates that lost a race",
		},
		[]string{"entity"},
	)

	SignatureOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_signature_outcomes_total",
			Help: "Signature requests resolved by terminal status",
		},
		[]string{"status"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_verification_outcomes_total",
			Help: "Verification results by type and status",
		},
		[]string{"type", "status"},
	)

	ClassifierCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_classifier_call_seconds",
			Help:    "Compliance classifier latency by outcome",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_notification_failures_total",
			Help: "Notification deliveries that failed by channel",
		},
		[]string{"channel"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_event_publish_failures_total",
			Help: "Domain events that could not be published by sink",
		},
		[]string{"sink"},
	)

	ExpirationEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_expiration_evaluations_total",
			Help: "Document validity evaluations by resulting status",
		},
		[]string{"status"},
	)

	Renewals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_renewals_total",
			Help: "Document expirations extended by a renewal",
		},
	)
)
