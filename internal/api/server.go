// Package api implements the Automation API (§4.J): the control-plane
// HTTP surface for event ingestion and execution lifecycle control
// (initialize/status/pause/resume/stop). Grounded on the donor's
// internal/api/server.go shape — a Server struct holding the
// collaborators routes close over, one http.ServeMux built by a single
// route-registration method, shared respondJSON/respondError/parseJSON
// helpers — trimmed from the donor's ~40-route chat-product surface to
// the six routes §6.1 actually specifies, plus the §6.2 WebSocket
// upgrade and a Prometheus /metrics endpoint (ambient).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/internal/logging"
	"github.com/jordanhubbard/devteam-runner/internal/messagebus"
	"github.com/jordanhubbard/devteam-runner/internal/metrics"
	"github.com/jordanhubbard/devteam-runner/internal/projection"
	"github.com/jordanhubbard/devteam-runner/internal/temporal"
	"github.com/jordanhubbard/devteam-runner/internal/wsfabric"
)

// Subscriber is the subset of internal/worker.Worker the API needs: it
// must ensure a project's queue subject has a live consumer before the
// first event for that project is published (§4.D).
type Subscriber interface {
	EnsureSubscribed(projectID string) error
}

// Server bundles every collaborator the Automation API's handlers
// close over. Constructed once at process startup (cmd/runner).
type Server struct {
	Events       *database.EventStore
	Executions   *database.ExecutionStore
	TaskContexts *database.TaskContextStore
	Queue        *messagebus.Queue
	Worker       Subscriber
	Temporal     *temporal.Manager
	Projection   *projection.Computer
	Fabric       *wsfabric.Fabric
	Logs         *logging.Manager
	Metrics      *metrics.Metrics
}

func NewServer(events *database.EventStore, executions *database.ExecutionStore, taskContexts *database.TaskContextStore, queue *messagebus.Queue, worker Subscriber, tm *temporal.Manager, proj *projection.Computer, fabric *wsfabric.Fabric, logs *logging.Manager) *Server {
	return &Server{
		Events:       events,
		Executions:   executions,
		TaskContexts: taskContexts,
		Queue:        queue,
		Worker:       worker,
		Temporal:     tm,
		Projection:   proj,
		Fabric:       fabric,
		Logs:         logs,
		Metrics:      metrics.New(),
	}
}

// Routes builds the control-plane mux (§6.1, §6.2), wrapped in a
// per-request Prometheus recorder (ambient, donor's HTTPRequestsTotal/
// HTTPRequestDuration wiring).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/api/devteam/automation/initialize", s.handleInitialize)
	mux.HandleFunc("/api/devteam/automation/status/", s.handleStatus)
	mux.HandleFunc("/api/devteam/automation/pause/", s.handlePause)
	mux.HandleFunc("/api/devteam/automation/resume/", s.handleResume)
	mux.HandleFunc("/api/devteam/automation/stop/", s.handleStop)
	mux.Handle("/ws/devteam", s.Fabric)
	mux.Handle("/metrics", promhttp.Handler())

	return s.withMetrics(mux)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if s.Metrics != nil {
			s.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", sw.status), time.Since(start).Seconds())
		}
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathSuffix extracts the {projectId} path parameter from routes
// registered with a trailing-slash prefix.
func pathSuffix(path, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
}

func (s *Server) logInfo(source, message string, fields map[string]interface{}) {
	if s.Logs != nil {
		s.Logs.Info(source, message, fields)
	}
}

func (s *Server) logError(source, message string, fields map[string]interface{}) {
	if s.Logs != nil {
		s.Logs.Error(source, message, fields)
	}
}
