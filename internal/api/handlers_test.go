package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeError unmarshals the §6.1 error envelope a failed handler
// writes, so assertions can check the code field directly.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestHandleInitializeRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/devteam/automation/initialize", nil)
	w := httptest.NewRecorder()

	s.handleInitialize(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "method_not_allowed", decodeError(t, w).Error.Code)
}

func TestHandleInitializeRejectsMalformedJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/initialize", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()

	s.handleInitialize(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error.Code)
}

func TestHandleInitializeRejectsBadProjectID(t *testing.T) {
	s := &Server{}
	body, _ := json.Marshal(InitializeRequest{ProjectID: "not-slash-separated", RepoURL: "https://example.com/org/repo.git"})
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/initialize", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	s.handleInitialize(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "projectId")
}

func TestHandleInitializeRejectsDangerousChars(t *testing.T) {
	s := &Server{}
	body, _ := json.Marshal(InitializeRequest{ProjectID: "org/repo", RepoURL: "https://example.com/<script>.git"})
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/initialize", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	s.handleInitialize(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleInitializeRejectsMissingRepoURL(t *testing.T) {
	s := &Server{}
	body, _ := json.Marshal(InitializeRequest{ProjectID: "org/repo"})
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/initialize", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	s.handleInitialize(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "repoUrl")
}

func TestHandleEventsRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()

	s.handleEvents(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleEventsRejectsMalformedJSON(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString("not json at all"))
	w := httptest.NewRecorder()

	s.handleEvents(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error.Code)
}

func TestHandleEventsRejectsFailingValidation(t *testing.T) {
	s := &Server{}
	body, _ := json.Marshal(EventRequest{ID: "evt-1", Type: "NOT_A_TYPE"})
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBuffer(body))
	w := httptest.NewRecorder()

	s.handleEvents(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "type")
}

func TestHandleStatusRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/status/org/repo", nil)
	w := httptest.NewRecorder()

	s.handleStatus(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleStatusRejectsMissingProjectID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/devteam/automation/status/", nil)
	w := httptest.NewRecorder()

	s.handleStatus(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error.Code)
}

func TestHandlePauseRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/devteam/automation/pause/org/repo", nil)
	w := httptest.NewRecorder()

	s.handlePause(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandlePauseRejectsMissingProjectID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/pause/", nil)
	w := httptest.NewRecorder()

	s.handlePause(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleResumeRejectsMissingProjectID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/resume/", nil)
	w := httptest.NewRecorder()

	s.handleResume(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleStopRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/api/devteam/automation/stop/org/repo", nil)
	w := httptest.NewRecorder()

	s.handleStop(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleStopRejectsMissingProjectID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/devteam/automation/stop/", nil)
	w := httptest.NewRecorder()

	s.handleStop(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error.Code)
}
