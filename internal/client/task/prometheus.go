package task

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	stateTransitions *prometheus.CounterVec
	startFailures    *prometheus.CounterVec
	exits            *prometheus.CounterVec
	aborts           *prometheus.CounterVec
	restartBackoff   *prometheus.HistogramVec
	tasks            *prometheus.GaugeVec
	pollDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector with its own registry.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "voltask"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_state_transitions_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"app", "from_state", "to_state"},
	)

	pmc.startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_start_failures_total",
			Help:      "Total number of worker processes that could not be started",
		},
		[]string{"app"},
	)

	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_exits_total",
			Help:      "Total number of worker process exits by class",
		},
		[]string{"app", "class"},
	)

	pmc.aborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_aborts_total",
			Help:      "Total number of tasks aborted by the client",
		},
		[]string{"app", "reason"},
	)

	pmc.restartBackoff = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_restart_backoff_seconds",
			Help:      "Delay before a prematurely exited task is restarted",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"app"},
	)

	pmc.tasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Current number of tasks by state",
		},
		[]string{"state"},
	)

	pmc.pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one task set poll pass",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.startFailures,
		pmc.exits,
		pmc.aborts,
		pmc.restartBackoff,
		pmc.tasks,
		pmc.pollDuration,
	)

	return pmc
}

func (pmc *PrometheusMetricsCollector) TaskStateTransition(app string, from, to TaskState) {
	pmc.stateTransitions.WithLabelValues(app, from.String(), to.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) TaskStartFailed(app string) {
	pmc.startFailures.WithLabelValues(app).Inc()
}

func (pmc *PrometheusMetricsCollector) TaskExited(app string, class ExitClass) {
	pmc.exits.WithLabelValues(app, class.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) TaskAborted(app string, reason AbortReason) {
	pmc.aborts.WithLabelValues(app, reason.String()).Inc()
}

func (pmc *PrometheusMetricsCollector) TaskRestartScheduled(app string, delay time.Duration) {
	pmc.restartBackoff.WithLabelValues(app).Observe(delay.Seconds())
}

// TasksByState sets the gauge for every state, including empty ones.
func (pmc *PrometheusMetricsCollector) TasksByState(counts map[TaskState]int) {
	for s := StateUninitialized; s <= StateAborted; s++ {
		pmc.tasks.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func (pmc *PrometheusMetricsCollector) PollDuration(d time.Duration) {
	pmc.pollDuration.Observe(d.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pmc *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pmc.registry, promhttp.HandlerOpts{})
}

// Compile-time interface compliance check
var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
