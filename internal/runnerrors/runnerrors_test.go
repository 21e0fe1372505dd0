package runnerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOkReturnsSuccessOutcome(t *testing.T) {
	assert.Equal(t, Success, Ok().Outcome)
	assert.Nil(t, Ok().Err)
}

func TestRetryReturnsRetryableOutcomeWithErr(t *testing.T) {
	err := fmt.Errorf("transient")
	r := Retry(err)
	assert.Equal(t, Retryable, r.Outcome)
	assert.Equal(t, err, r.Err)
}

func TestFailReturnsFatalOutcomeWithErr(t *testing.T) {
	err := fmt.Errorf("unrecoverable")
	r := Fail(err)
	assert.Equal(t, Fatal, r.Outcome)
	assert.Equal(t, err, r.Err)
}

func TestOutcomeStringValues(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "retryable", Retryable.String())
	assert.Equal(t, "fatal", Fatal.String())
}

func TestExecutionErrorFatalOnlyForMissingTool(t *testing.T) {
	missing := &ExecutionError{Kind: ExecutionMissingTool, Err: fmt.Errorf("not found")}
	tool := &ExecutionError{Kind: ExecutionTool, Err: fmt.Errorf("exit 1")}

	assert.True(t, missing.Fatal())
	assert.False(t, tool.Fatal())
}

func TestExecutionErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := &ExecutionError{Kind: ExecutionTool, Err: inner}
	assert.Equal(t, inner, err.Unwrap())
}

func TestErrorMessagesIncludeKind(t *testing.T) {
	assert.Contains(t, (&RepoError{Kind: RepoClone, Err: fmt.Errorf("x")}).Error(), "clone")
	assert.Contains(t, (&ContainerError{Kind: ContainerTimeout, Err: fmt.Errorf("x")}).Error(), "timeout")
	assert.Contains(t, (&MergeError{Kind: "conflict", Err: fmt.Errorf("x")}).Error(), "conflict")
	assert.Contains(t, (&PushError{Kind: "network", Err: fmt.Errorf("x")}).Error(), "network")
	assert.Contains(t, (&TimeoutError{Stage: "verify"}).Error(), "verify")
	assert.Contains(t, (&VerifyError{Kind: "buildFailed", Stage: "npm ci", ExitCode: 1, StderrTail: "oops"}).Error(), "npm ci")
}
