package taskexecutor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

func TestBuildPromptIncludesTaskFilesAndCriteria(t *testing.T) {
	entry := models.TaskListEntry{
		TaskID:      "1.1",
		Title:       "Add retry",
		Description: "Retry the push stage.",
		Files:       []string{"internal/statemachine/statemachine.go"},
		Criteria:    map[string]string{"tests": "pass"},
	}

	prompt := BuildPrompt(entry)

	assert.Contains(t, prompt, "Task 1.1: Add retry")
	assert.Contains(t, prompt, "Retry the push stage.")
	assert.Contains(t, prompt, "internal/statemachine/statemachine.go")
	assert.Contains(t, prompt, "tests: pass")
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	entry := models.TaskListEntry{TaskID: "2.1", Title: "x"}
	assert.Equal(t, BuildPrompt(entry), BuildPrompt(entry))
}

// TestExecutionErrorKindClassifiesMissingBinary is a regression test
// for the bug where every container exec failure was tagged
// ExecutionMissingTool regardless of cause (statemachine.escalateOn
// then routed every failure to the same ERROR_INJECT edge, looping
// forever on a permanently missing binary).
func TestExecutionErrorKindClassifiesMissingBinary(t *testing.T) {
	cases := []string{
		`exec: "devteam-tool": executable file not found in $PATH`,
		`OCI runtime exec failed: exec failed: unable to start container process: exec: "devteam-tool": no such file or directory`,
	}
	for _, msg := range cases {
		assert.Equal(t, runnerrors.ExecutionMissingTool, executionErrorKind(fmt.Errorf(msg)))
	}
}

func TestExecutionErrorKindClassifiesOtherFailuresAsTool(t *testing.T) {
	cases := []string{
		"context deadline exceeded",
		"container unhealthy",
		"exec already running",
	}
	for _, msg := range cases {
		assert.Equal(t, runnerrors.ExecutionTool, executionErrorKind(fmt.Errorf(msg)))
	}
}

func TestParsePorcelainFilesHandlesRenames(t *testing.T) {
	porcelain := " M a.go\nR  old.go -> new.go\n?? untracked.go\n"
	assert.Equal(t, []string{"a.go", "new.go", "untracked.go"}, parsePorcelainFiles(porcelain))
}

func TestTruncateKeepsTail(t *testing.T) {
	assert.Equal(t, "world", truncate("hello world", 5))
	assert.Equal(t, "short", truncate("short", 10))
}
