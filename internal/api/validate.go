package api

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// §6.1 wire validation patterns.
var (
	eventIDPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	projectIDPattern   = regexp.MustCompile(`^[^/]+/[^/]+$`)
	taskIDPattern      = regexp.MustCompile(`^\d+(\.\d+)*$`)
	dangerousCharsRune = regexp.MustCompile(`[<>"'&;|` + "`" + `]`)
)

// maxDataBytes bounds EventRequest.Data (§6.1: "data (≤1 MiB)").
const maxDataBytes = 1 << 20

func containsDangerousChars(s string) bool {
	return dangerousCharsRune.MatchString(s)
}

// TaskRef is the §6.1 EventRequest.task object.
type TaskRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EventOptions is the §6.1 EventRequest.options object.
type EventOptions struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// EventMetadata is the §6.1 EventRequest.metadata object.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

// EventRequest is the §6.1 POST /events request body.
type EventRequest struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	ProjectID string                 `json:"project_id,omitempty"`
	Task      *TaskRef               `json:"task,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Options   EventOptions           `json:"options,omitempty"`
	Metadata  EventMetadata          `json:"metadata,omitempty"`
}

const (
	eventTypeDevTeamAutomation = "DEVTEAM_AUTOMATION"
	eventTypePlaceholder       = "PLACEHOLDER"
)

// validate enforces §6.1's EventRequest schema and semantic checks,
// returning the first violation found (ValidationError, §7 — "surfaced
// verbatim, never retried").
func (req *EventRequest) validate() error {
	if !eventIDPattern.MatchString(req.ID) {
		return fmt.Errorf("id must match %s", eventIDPattern.String())
	}
	if containsDangerousChars(req.ID) {
		return fmt.Errorf("id contains disallowed characters")
	}
	if req.Type != eventTypeDevTeamAutomation && req.Type != eventTypePlaceholder {
		return fmt.Errorf("type must be one of DEVTEAM_AUTOMATION, PLACEHOLDER")
	}
	if req.Metadata.CorrelationID != "" && containsDangerousChars(req.Metadata.CorrelationID) {
		return fmt.Errorf("metadata.correlation_id contains disallowed characters")
	}
	if len(req.Data) > 0 {
		if size, err := jsonSize(req.Data); err == nil && size > maxDataBytes {
			return fmt.Errorf("data exceeds 1 MiB limit")
		}
	}

	if req.Type == eventTypeDevTeamAutomation {
		if req.ProjectID == "" || !projectIDPattern.MatchString(req.ProjectID) {
			return fmt.Errorf("project_id must match %s", projectIDPattern.String())
		}
		if containsDangerousChars(req.ProjectID) {
			return fmt.Errorf("project_id contains disallowed characters")
		}
		if req.Task == nil {
			return fmt.Errorf("task is required for DEVTEAM_AUTOMATION events")
		}
		if !taskIDPattern.MatchString(req.Task.ID) {
			return fmt.Errorf("task.id must match %s", taskIDPattern.String())
		}
		if req.Task.Title == "" {
			return fmt.Errorf("task.title is required")
		}
		if containsDangerousChars(req.Task.Title) {
			return fmt.Errorf("task.title contains disallowed characters")
		}
	}
	return nil
}

func jsonSize(v interface{}) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
