package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deployments_total",
			Help: "Total number of deployments by final status",
		},
		[]string{"status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_deployment_duration_seconds",
			Help:    "Full pipeline duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"application", "environment"},
	)

	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deployments_rolled_back_total",
			Help: "Total number of deployments cancelled before completion",
		},
		[]string{"reason"},
	)

	InProgressDeployments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_in_progress_deployments",
			Help: "Number of deployments currently registered in-progress",
		},
	)

	// Pipeline task metrics
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tasks_total",
			Help: "Total number of pipeline tasks by action and final status",
		},
		[]string{"action", "status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_task_duration_seconds",
			Help:    "Time taken by a single pipeline task in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Task tracker metrics
	TrackerPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tracker_polls_total",
			Help: "Total number of remote task polls by outcome",
		},
		[]string{"outcome"},
	)

	TrackerRetriesExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_tracker_retries_exhausted_total",
			Help: "Total number of tracked tasks that exhausted their retry budget",
		},
	)

	// Coordination / queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Approximate depth of the deployment work queue",
		},
	)

	MutualExclusionRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_mutual_exclusion_rejections_total",
			Help: "Total number of intake requests rejected as already-in-progress",
		},
	)

	// Remote-service client metrics
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_remote_requests_total",
			Help: "Total number of requests to the remote ASG management service",
		},
		[]string{"method", "status"},
	)

	RemoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_remote_request_duration_seconds",
			Help:    "Remote ASG service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Intake API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of intake API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "Intake API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		DeploymentsTotal,
		DeploymentDuration,
		RolledBackDeploymentsTotal,
		InProgressDeployments,
		TasksTotal,
		TaskDuration,
		TrackerPollsTotal,
		TrackerRetriesExhaustedTotal,
		QueueDepth,
		MutualExclusionRejectionsTotal,
		RemoteRequestsTotal,
		RemoteRequestDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
