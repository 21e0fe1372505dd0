package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRequestValidatePlaceholder(t *testing.T) {
	req := EventRequest{ID: "evt-1", Type: eventTypePlaceholder}
	assert.NoError(t, req.validate())
}

func TestEventRequestValidateRejectsBadID(t *testing.T) {
	req := EventRequest{ID: "bad id with spaces", Type: eventTypePlaceholder}
	assert.Error(t, req.validate())
}

func TestEventRequestValidateRejectsDangerousChars(t *testing.T) {
	req := EventRequest{ID: "evt<script>", Type: eventTypePlaceholder}
	assert.Error(t, req.validate())
}

func TestEventRequestValidateRejectsUnknownType(t *testing.T) {
	req := EventRequest{ID: "evt-1", Type: "NOT_A_TYPE"}
	assert.Error(t, req.validate())
}

func TestEventRequestValidateDevTeamAutomationRequiresProjectAndTask(t *testing.T) {
	req := EventRequest{ID: "evt-1", Type: eventTypeDevTeamAutomation}
	err := req.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestEventRequestValidateDevTeamAutomationHappyPath(t *testing.T) {
	req := EventRequest{
		ID:        "evt-1",
		Type:      eventTypeDevTeamAutomation,
		ProjectID: "org/repo",
		Task:      &TaskRef{ID: "1.2", Title: "Implement thing"},
	}
	assert.NoError(t, req.validate())
}

func TestEventRequestValidateRejectsBadTaskID(t *testing.T) {
	req := EventRequest{
		ID:        "evt-1",
		Type:      eventTypeDevTeamAutomation,
		ProjectID: "org/repo",
		Task:      &TaskRef{ID: "not-numeric", Title: "x"},
	}
	assert.Error(t, req.validate())
}

func TestEventRequestValidateRejectsDataOverLimit(t *testing.T) {
	big := make(map[string]interface{})
	big["payload"] = string(make([]byte, maxDataBytes+10))
	req := EventRequest{ID: "evt-1", Type: eventTypePlaceholder, Data: big}
	assert.Error(t, req.validate())
}

func TestContainsDangerousChars(t *testing.T) {
	assert.True(t, containsDangerousChars("<script>"))
	assert.True(t, containsDangerousChars("a'b"))
	assert.False(t, containsDangerousChars("org/repo-name_1"))
}
