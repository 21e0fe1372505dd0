// Package metrics exposes the runner's Prometheus instrumentation: per
// state-machine-state execution counters and durations, queue depth,
// container pool gauges, and the HTTP surface — grounded on the
// donor's prometheus/client_golang wiring, relabeled for this domain.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the runner registers.
type Metrics struct {
	// Task Execution State Machine (§4.F).
	ExecutionsTotal    *prometheus.GaugeVec
	ExecutionStatus    *prometheus.GaugeVec
	StateDuration      *prometheus.HistogramVec
	StateTransitions   *prometheus.CounterVec
	ErrorInjections    *prometheus.CounterVec

	// Code-Change Executor / Build Verifier (§4.G/§4.H).
	ImplementDuration *prometheus.HistogramVec
	VerifyAttempts    *prometheus.CounterVec
	VerifyDuration    *prometheus.HistogramVec

	// Repository Cache Manager (§4.A).
	RepoCacheHits   prometheus.Counter
	RepoCacheMisses prometheus.Counter
	RepoOpsTotal    *prometheus.CounterVec

	// Per-Project Container Manager (§4.B).
	ContainersActive   prometheus.Gauge
	ContainerRestarts  *prometheus.CounterVec
	ContainerExecDur   *prometheus.HistogramVec

	// Job Queue Adapter (§4.D).
	QueueDepth      prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	EventsReplayed  *prometheus.CounterVec

	// WebSocket Fabric (§4.K).
	WSConnections   prometheus.Gauge
	WSFramesDropped *prometheus.CounterVec

	// Automation API (§4.J).
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers every collector exactly once per process.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			ExecutionsTotal: promauto.NewGaugeVec(
				prometheus.GaugeOpts{Name: "runner_executions_total", Help: "Current executions by status"},
				[]string{"project_id", "status"},
			),
			ExecutionStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{Name: "runner_execution_status", Help: "1 if the execution is in this status"},
				[]string{"execution_id", "project_id", "status"},
			),
			StateDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "runner_state_duration_seconds",
					Help:    "Time spent in each state machine state",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"state"},
			),
			StateTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_state_transitions_total", Help: "State machine transitions"},
				[]string{"from", "to"},
			),
			ErrorInjections: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_error_injections_total", Help: "Remediation tasks injected after an escalated failure"},
				[]string{"project_id", "error_kind"},
			),
			ImplementDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "runner_implement_duration_seconds",
					Help:    "Code-Change Executor duration",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
				},
				[]string{"project_id", "result"},
			),
			VerifyAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_verify_attempts_total", Help: "Build Verifier attempts"},
				[]string{"project_id", "stage", "result"},
			),
			VerifyDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "runner_verify_duration_seconds",
					Help:    "Build Verifier total duration including retries",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10),
				},
				[]string{"project_id"},
			),
			RepoCacheHits:   promauto.NewCounter(prometheus.CounterOpts{Name: "runner_repo_cache_hits_total", Help: "Repo cache ensure() calls served from a warm cache"}),
			RepoCacheMisses: promauto.NewCounter(prometheus.CounterOpts{Name: "runner_repo_cache_misses_total", Help: "Repo cache ensure() calls that required a clone"}),
			RepoOpsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_repo_ops_total", Help: "Repository Cache Manager operations"},
				[]string{"op", "result"},
			),
			ContainersActive: promauto.NewGauge(prometheus.GaugeOpts{Name: "runner_containers_active", Help: "Currently running per-project containers"}),
			ContainerRestarts: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_container_restarts_total", Help: "Automatic container restarts after a failed health check"},
				[]string{"project_id"},
			),
			ContainerExecDur: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "runner_container_exec_duration_seconds",
					Help:    "Container exec call duration",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"project_id"},
			),
			QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{Name: "runner_queue_depth", Help: "Pending events in the job queue"}),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_events_published_total", Help: "Events appended to the Event Store"},
				[]string{"event_type", "project_id"},
			),
			EventsReplayed: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_events_replayed_total", Help: "Idempotent replays returned instead of new work"},
				[]string{"project_id"},
			),
			WSConnections: promauto.NewGauge(prometheus.GaugeOpts{Name: "runner_ws_connections", Help: "Open WebSocket subscriptions"}),
			WSFramesDropped: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_ws_frames_dropped_total", Help: "Oversize WS frames dropped"},
				[]string{"project_id"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{Name: "runner_http_requests_total", Help: "Total HTTP requests"},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{Name: "runner_http_request_duration_seconds", Help: "HTTP request duration", Buckets: prometheus.DefBuckets},
				[]string{"method", "path"},
			),
		}
	})
	return sharedMetrics
}

// RecordTransition records a state machine transition and its duration (§4.F).
func (m *Metrics) RecordTransition(from, to string, duration float64) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.StateDuration.WithLabelValues(to).Observe(duration)
}

// RecordHTTPRequest records one Automation API request (§4.J).
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
