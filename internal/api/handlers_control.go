package api

import (
	"net/http"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// handleStatus implements GET /api/devteam/automation/status/{projectId}
// (§4.J, §6.1): a read-only StatusProjection derivation, preferring the
// project's live execution and falling back to its most recent one
// once nothing is live.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	projectID := pathSuffix(r.URL.Path, "/api/devteam/automation/status")
	if projectID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "projectId is required")
		return
	}

	ctx := r.Context()
	exec, err := s.Executions.GetLiveForProject(ctx, projectID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to load execution")
		return
	}
	if exec == nil {
		exec, err = s.Executions.GetLatestForProject(ctx, projectID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "internal", "failed to load execution")
			return
		}
	}
	if exec == nil {
		s.respondError(w, http.StatusNotFound, "not_found", "no execution found for project "+projectID)
		return
	}

	proj, err := s.Projection.Compute(ctx, exec.ExecutionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to compute projection")
		return
	}
	s.respondJSON(w, http.StatusOK, proj)
}

// transition is the shared body of pause/resume/stop: load the
// project's live execution, reject (409) transitions from an illegal
// source status, signal the Temporal workflow, and persist the new
// status.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, prefix string, from models.ExecutionStatus, to models.ExecutionStatus, signal func(executionID string) error) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	projectID := pathSuffix(r.URL.Path, prefix)
	if projectID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "projectId is required")
		return
	}

	ctx := r.Context()
	exec, err := s.Executions.GetLiveForProject(ctx, projectID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to load execution")
		return
	}
	if exec == nil || exec.Status != from {
		s.respondError(w, http.StatusConflict, "illegal_transition", "no execution in state "+string(from)+" for project "+projectID)
		return
	}

	if err := signal(exec.ExecutionID); err != nil {
		s.logError("api", "signal workflow failed", map[string]interface{}{"executionId": exec.ExecutionID, "error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to signal execution")
		return
	}
	if err := s.Executions.UpdateStatus(ctx, exec.ExecutionID, to); err != nil {
		s.logError("api", "update execution status failed", map[string]interface{}{"executionId": exec.ExecutionID, "error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to update execution status")
		return
	}
	s.Projection.Invalidate(ctx, projectID, exec.ExecutionID)

	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(to)})
}

// handlePause implements POST /api/devteam/automation/pause/{projectId}.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "/api/devteam/automation/pause", models.StatusRunning, models.StatusPaused, s.Temporal.Pause)
}

// handleResume implements POST /api/devteam/automation/resume/{projectId}.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "/api/devteam/automation/resume", models.StatusPaused, models.StatusRunning, s.Temporal.Resume)
}

// handleStop implements POST /api/devteam/automation/stop/{projectId}.
// Unlike pause/resume, stop is accepted from any live status (§4.F:
// "control: stop (→ stopped)" has no single required source state).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	projectID := pathSuffix(r.URL.Path, "/api/devteam/automation/stop")
	if projectID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "projectId is required")
		return
	}

	ctx := r.Context()
	exec, err := s.Executions.GetLiveForProject(ctx, projectID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to load execution")
		return
	}
	if exec == nil {
		s.respondError(w, http.StatusConflict, "illegal_transition", "no live execution for project "+projectID)
		return
	}

	if err := s.Temporal.StopExecution(ctx, exec.ExecutionID); err != nil {
		s.logError("api", "stop signal failed", map[string]interface{}{"executionId": exec.ExecutionID, "error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to signal execution")
		return
	}
	if err := s.Executions.UpdateStatus(ctx, exec.ExecutionID, models.StatusStopped); err != nil {
		s.logError("api", "update execution status failed", map[string]interface{}{"executionId": exec.ExecutionID, "error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to update execution status")
		return
	}
	s.Projection.Invalidate(ctx, projectID, exec.ExecutionID)

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
