package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

func TestRound1RoundsToOneDecimal(t *testing.T) {
	assert.Equal(t, 66.7, Round1(100*float64(2)/float64(3)))
	assert.Equal(t, 33.3, Round1(100*float64(1)/float64(3)))
	assert.Equal(t, 0.0, Round1(0))
	assert.Equal(t, 100.0, Round1(100))
}

func TestRound1RoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 12.3, Round1(12.25))
}

func TestMaxPicksLarger(t *testing.T) {
	assert.Equal(t, 5, max(5, 1))
	assert.Equal(t, 5, max(1, 5))
	assert.Equal(t, 1, max(1, 1))
}

func TestCacheKeyCombinesProjectAndExecution(t *testing.T) {
	assert.Equal(t, "projection:org/repo:exec-1", cacheKey("org/repo", "exec-1"))
}

func TestFromExecutionCopiesIdentityAndTimestamps(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	updated := time.Now()
	exec := &models.Execution{
		ExecutionID: "exec-1",
		ProjectID:   "org/repo",
		Status:      models.StatusRunning,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}

	proj := fromExecution(exec)

	assert.Equal(t, "exec-1", proj.ExecutionID)
	assert.Equal(t, "org/repo", proj.ProjectID)
	assert.Equal(t, models.StatusRunning, proj.Status)
	assert.Equal(t, created, *proj.StartedAt)
	assert.Equal(t, updated, *proj.UpdatedAt)
}

func TestApplyTaskContextSetsCurrentTaskWhenNotDone(t *testing.T) {
	proj := &models.StatusProjection{Status: models.StatusRunning}
	tc := &models.TaskContext{Metadata: models.TaskContextMetadata{TaskID: "1.2", Branch: "task/1.2"}}

	applyTaskContext(proj, tc)

	assert.Equal(t, "1.2", *proj.CurrentTask)
	assert.Equal(t, "task/1.2", *proj.Branch)
}

func TestApplyTaskContextLeavesCurrentTaskNilWhenDone(t *testing.T) {
	proj := &models.StatusProjection{Status: models.StatusDone}
	tc := &models.TaskContext{Metadata: models.TaskContextMetadata{TaskID: "1.2"}}

	applyTaskContext(proj, tc)

	assert.Nil(t, proj.CurrentTask)
}

func TestApplyTaskContextCopiesArtifacts(t *testing.T) {
	proj := &models.StatusProjection{}
	tc := &models.TaskContext{Metadata: models.TaskContextMetadata{
		RepoPath:      "/work/org/repo",
		Branch:        "task/1.1",
		Logs:          []string{"started"},
		FilesModified: []string{"a.go"},
	}}

	applyTaskContext(proj, tc)

	assert.Equal(t, "/work/org/repo", proj.Artifacts.RepoPath)
	assert.Equal(t, "task/1.1", proj.Artifacts.Branch)
	assert.Equal(t, []string{"started"}, proj.Artifacts.Logs)
	assert.Equal(t, []string{"a.go"}, proj.Artifacts.FilesModified)
}

func TestApplyTaskContextOverridesStartedAtWhenSet(t *testing.T) {
	proj := &models.StatusProjection{}
	started := time.Now().Add(-30 * time.Minute)
	tc := &models.TaskContext{Metadata: models.TaskContextMetadata{StartedAt: started}}

	applyTaskContext(proj, tc)

	assert.Equal(t, started, *proj.StartedAt)
}
