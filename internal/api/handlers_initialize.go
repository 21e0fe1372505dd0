package api

import (
	"net/http"

	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// InitializeRequest is the §6.1 POST /api/devteam/automation/initialize body.
type InitializeRequest struct {
	ProjectID     string `json:"projectId"`
	RepoURL       string `json:"repoUrl"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// handleInitialize implements POST /api/devteam/automation/initialize
// (§4.J, §6.1): idempotent (via the optional Idempotency-Key header,
// TTL 6h) execution start, rejecting a second live execution for the
// project with 409 (§3 invariant, §8: "exactly one returns 202, all
// others return 409").
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req InitializeRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "malformed JSON body: "+err.Error())
		return
	}
	if req.ProjectID == "" || !projectIDPattern.MatchString(req.ProjectID) {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "projectId must match "+projectIDPattern.String())
		return
	}
	if containsDangerousChars(req.ProjectID) || containsDangerousChars(req.RepoURL) || containsDangerousChars(req.CorrelationID) {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "request contains disallowed characters")
		return
	}
	if req.RepoURL == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "repoUrl is required")
		return
	}

	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	event := &models.Event{
		Type:           models.EventTypeDevTeamAutomation,
		ProjectID:      req.ProjectID,
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: idempotencyKey,
		Payload: map[string]interface{}{
			"repo_url": req.RepoURL,
		},
	}

	result, err := s.Events.Append(ctx, event)
	if err != nil {
		s.logError("api", "append initialize event failed", map[string]interface{}{"error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to persist event")
		return
	}

	if result.Replayed {
		exec, err := s.Executions.GetByEventID(ctx, result.Event.ID)
		if err != nil || exec == nil {
			s.respondError(w, http.StatusInternalServerError, "internal", "replayed event has no execution on record")
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"executionId": exec.ExecutionID,
			"eventId":     result.Event.ID,
		})
		return
	}

	exec, err := s.Executions.Create(ctx, req.ProjectID, result.Event.ID)
	if err != nil {
		if err == database.ErrLiveExecutionExists {
			s.respondError(w, http.StatusConflict, "live_execution_exists", "project already has a live execution")
			return
		}
		s.logError("api", "create execution failed", map[string]interface{}{"projectId": req.ProjectID, "error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to create execution")
		return
	}

	s.publish(result.Event)

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"executionId": exec.ExecutionID,
		"eventId":     result.Event.ID,
	})
}
