package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow metrics
var (
	// TransitionsTotal tracks routed messages by outcome: applied, ignored, orphaned
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_workflow_transitions_total",
			Help: "Total number of routed messages by workflow kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// InstancesCompleted tracks instances entering a terminal state
	InstancesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_workflow_instances_finished_total",
			Help: "Total number of workflow instances that reached a terminal state",
		},
		[]string{"kind", "state"},
	)

	// VersionConflicts tracks optimistic concurrency retries
	VersionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_workflow_version_conflicts_total",
			Help: "Total number of instance version conflicts retried by the router",
		},
		[]string{"kind"},
	)

	// PublishFailures tracks outbox flushes that failed and were left for redelivery
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_workflow_publish_failures_total",
			Help: "Total number of outbox publish failures",
		},
		[]string{"kind"},
	)

	// RouteDuration tracks the time to route one message
	RouteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_workflow_route_duration_seconds",
			Help:    "Time to load, apply, save and publish one message",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"kind"},
	)
)

// Step metrics
var (
	// StepRunsTotal tracks validation step executions by status
	StepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_validation_step_runs_total",
			Help: "Total number of validation step runs by execution type and status",
		},
		[]string{"execution_type", "status"},
	)

	// StepRunDuration tracks validation step duration
	StepRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_validation_step_duration_seconds",
			Help:    "Validation step duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"execution_type"},
	)
)

// Concurrency metrics
var (
	// LeaseActiveWeight tracks the granted weight per category
	LeaseActiveWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docflow_lease_active_weight",
			Help: "Sum of weights of active leases",
		},
		[]string{"category"},
	)

	// LeaseQueueLength tracks waiting requests per category
	LeaseQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docflow_lease_queue_length",
			Help: "Number of requests waiting for a lease",
		},
		[]string{"category"},
	)

	// LeaseMaxConcurrency exposes the configured budget per category
	LeaseMaxConcurrency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docflow_lease_max_concurrency",
			Help: "Configured concurrency budget",
		},
		[]string{"category"},
	)

	// LeaseEventsTotal tracks lease lifecycle events: granted, rejected, timeout, released, reclaimed
	LeaseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_lease_events_total",
			Help: "Total number of lease lifecycle events",
		},
		[]string{"category", "event"},
	)

	// LeaseWaitDuration tracks how long granted requests waited
	LeaseWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_lease_wait_seconds",
			Help:    "Time between a lease request and its grant",
			Buckets: []float64{0, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"category"},
	)
)

// Retention metrics
var (
	// InstancesArchived tracks instances removed by the retention job
	InstancesArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_retention_instances_total",
			Help: "Total number of terminal instances archived and deleted",
		},
		[]string{"kind", "result"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
