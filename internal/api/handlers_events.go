package api

import (
	"net/http"

	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// handleEvents implements POST /events (§6.1): the generic event
// ingestion endpoint. It produces an Event, returns 202 immediately,
// and — for DEVTEAM_AUTOMATION events — asynchronously drives the
// workflow by publishing onto the project's Job Queue Adapter subject.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req EventRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", "malformed JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	idempotencyKey := req.Options.IdempotencyKey
	if hdr := r.Header.Get("Idempotency-Key"); hdr != "" {
		idempotencyKey = hdr
	}

	payload := map[string]interface{}{}
	if req.Task != nil {
		payload["task"] = map[string]interface{}{"id": req.Task.ID, "title": req.Task.Title}
	}
	if req.Priority != "" {
		payload["priority"] = req.Priority
	}
	if req.Data != nil {
		payload["data"] = req.Data
	}

	event := &models.Event{
		ID:             req.ID,
		Type:           models.EventType(req.Type),
		ProjectID:      req.ProjectID,
		CorrelationID:  req.Metadata.CorrelationID,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
	}

	result, err := s.Events.Append(r.Context(), event)
	if err != nil {
		s.logError("api", "append event failed", map[string]interface{}{"error": err.Error()})
		s.respondError(w, http.StatusInternalServerError, "internal", "failed to persist event")
		return
	}

	taskID := ""
	if req.Task != nil {
		taskID = req.Task.ID
	}

	if !result.Replayed && result.Event.Type == models.EventTypeDevTeamAutomation {
		s.startOrResumeExecution(r, result.Event)
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":   result.Event.ID,
		"task_id":    taskID,
		"status":     "accepted",
		"event_type": string(result.Event.Type),
	})
}

// startOrResumeExecution creates the Execution backing event and hands
// it to the Job Queue Adapter. A pre-existing live execution for the
// project is left running untouched — the new event does not start a
// second execution (§3 invariant: exactly one live execution per
// project).
func (s *Server) startOrResumeExecution(r *http.Request, event *models.Event) {
	ctx := r.Context()
	if _, err := s.Executions.Create(ctx, event.ProjectID, event.ID); err != nil {
		if err == database.ErrLiveExecutionExists {
			return
		}
		s.logError("api", "create execution failed", map[string]interface{}{"projectId": event.ProjectID, "error": err.Error()})
		return
	}
	s.publish(event)
}

func (s *Server) publish(event *models.Event) {
	if s.Worker != nil {
		if err := s.Worker.EnsureSubscribed(event.ProjectID); err != nil {
			s.logError("api", "subscribe failed", map[string]interface{}{"projectId": event.ProjectID, "error": err.Error()})
		}
	}
	if s.Queue != nil {
		if err := s.Queue.Publish(event); err != nil {
			s.logError("api", "publish event failed", map[string]interface{}{"projectId": event.ProjectID, "error": err.Error()})
		}
	}
}
