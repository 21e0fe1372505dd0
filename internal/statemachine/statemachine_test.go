package statemachine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/internal/workflow"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

func TestEscalateOnAdvancesToOnSuccess(t *testing.T) {
	next := escalateOn(NodeVerify)
	got := next(&models.TaskContext{}, runnerrors.Ok())
	assert.Equal(t, NodeVerify, got)
}

func TestEscalateOnRoutesRetryableToErrorInject(t *testing.T) {
	next := escalateOn(NodeVerify)
	got := next(&models.TaskContext{}, runnerrors.Retry(fmt.Errorf("transient")))
	assert.Equal(t, NodeErrorInject, got)
}

func TestEscalateOnRoutesFatalToTerminal(t *testing.T) {
	next := escalateOn(NodeVerify)
	got := next(&models.TaskContext{}, runnerrors.Fail(fmt.Errorf("unrecoverable")))
	assert.Equal(t, "", got)
}

// TestEscalateOnMissingToolIsFatalNotErrorInject is a regression test
// for the bug where every failing outcome routed to NodeErrorInject
// regardless of Outcome, so a permanently missing tool binary looped
// SELECT -> IMPLEMENT -> ERROR_INJECT -> INJECT_TASK forever instead of
// ending the execution.
func TestEscalateOnMissingToolIsFatalNotErrorInject(t *testing.T) {
	execErr := &runnerrors.ExecutionError{Kind: runnerrors.ExecutionMissingTool, Err: fmt.Errorf("exec: \"claude\": executable file not found in $PATH")}
	assert.True(t, execErr.Fatal())

	next := escalateOn(NodeVerify)
	got := next(&models.TaskContext{}, runnerrors.Fail(execErr))

	assert.Equal(t, "", got, "missingTool must end the execution, not loop back through ERROR_INJECT")
}

func TestEscalateOnToolFailureStillEscalatesViaErrorInject(t *testing.T) {
	execErr := &runnerrors.ExecutionError{Kind: runnerrors.ExecutionTool, Err: fmt.Errorf("exit status 1")}
	assert.False(t, execErr.Fatal())

	next := escalateOn(NodeVerify)
	got := next(&models.TaskContext{}, runnerrors.Retry(execErr))

	assert.Equal(t, NodeErrorInject, got)
}

// TestErrorInjectNodeAlwaysRoutesToInjectTask documents that ERROR_INJECT's
// own Next function (registered in Register, not escalateOn) ignores the
// outcome entirely: it always synthesizes and hands off a remediation task.
func TestErrorInjectNodeAlwaysRoutesToInjectTask(t *testing.T) {
	if _, ok := workflow.Lookup(WorkflowName); !ok {
		Register(&Machine{})
	}
	def, _ := workflow.Lookup(WorkflowName)
	next := def.Nodes[NodeErrorInject].Next
	assert.Equal(t, NodeInjectTask, next(&models.TaskContext{}, runnerrors.Ok()))
	assert.Equal(t, NodeInjectTask, next(&models.TaskContext{}, runnerrors.Fail(fmt.Errorf("x"))))
}

func TestRecordFailureStashesStageAndSummary(t *testing.T) {
	tc := &models.TaskContext{}
	recordFailure(tc, NodeVerify, fmt.Errorf("build failed"))

	assert.Equal(t, NodeVerify, tc.Extra["failedStage"])
	assert.Equal(t, "build failed", tc.Extra["failureSummary"])
}

func TestRecordFailureHandlesNilErr(t *testing.T) {
	tc := &models.TaskContext{}
	recordFailure(tc, NodeMerge, nil)

	assert.Equal(t, NodeMerge, tc.Extra["failedStage"])
	_, ok := tc.Extra["failureSummary"]
	assert.False(t, ok)
}

func TestSetNodeOutputRecordsOutcomeStatus(t *testing.T) {
	tc := &models.TaskContext{Nodes: map[string]models.NodeOutput{}}
	setNodeOutput(tc, NodeImplement, runnerrors.Ok(), nil)

	assert.Equal(t, "success", tc.Nodes[NodeImplement].Status)
}

func TestTaskListPathJoinsRepoAndFileName(t *testing.T) {
	assert.Equal(t, "/work/org/repo/task_lists.md", taskListPath("/work/org/repo"))
}

func TestGitKeyDirArgsEmptyWhenUnset(t *testing.T) {
	assert.Nil(t, gitKeyDirArgs(""))
	assert.Equal(t, []string{"/etc/keys"}, gitKeyDirArgs("/etc/keys"))
}
