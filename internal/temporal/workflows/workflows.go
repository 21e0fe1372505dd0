// Package workflows implements RunnerWorkflow, the Temporal-durable
// driver for the task-execution state machine (§4.E, §9's "Temporal
// workflow that drives node activities, receives pause/resume/stop as
// signals, answers status as a query"). Grounded on the donor's
// internal/temporal/workflows package shape (SetQueryHandler,
// GetSignalChannel + NewSelector, ActivityOptions with a bounded
// RetryPolicy) but driving a single fixed node graph instead of the
// donor's open-ended agent/bead/decision workflows, since this
// domain's topology is the compile-time registry in
// internal/statemachine, not a per-entity state struct.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/devteam-runner/internal/statemachine"
	"github.com/jordanhubbard/devteam-runner/internal/temporal/activities"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Signal and query names the Automation API (internal/api) and
// operator CLI (cmd/runnerctl) address by string.
const (
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalStop   = "stop"
	QueryStatus  = "status"
)

// RunnerWorkflowInput starts one task-execution run for a project.
type RunnerWorkflowInput struct {
	ExecutionID string
	ProjectID   string
	RepoPath    string
}

// RunnerWorkflowResult is the terminal outcome reported in a
// completion frame (§6.2: "done"|"stopped"|"error").
type RunnerWorkflowResult struct {
	Result string
}

// StatusQuery answers the "status" query (§4.E).
type StatusQuery struct {
	Node     string
	Paused   bool
	Stopping bool
}

// nodeActivities is referenced only for its method values' names;
// Temporal resolves the actual implementation on the worker side
// (internal/temporal/manager.go registers a real *activities.Activities).
var nodeActivities *activities.Activities

// RunnerWorkflow drives the task-execution node graph to completion,
// one activity call per node, honoring pause/resume/stop signals at
// every node boundary (§5: "pause is cooperative and applies at node
// boundaries only"; "stop sets a cancellation flag checked between
// nodes").
func RunnerWorkflow(ctx workflow.Context, input RunnerWorkflowInput) (RunnerWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 90 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	state := StatusQuery{Node: statemachine.NodeSelect}

	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (StatusQuery, error) {
		return state, nil
	}); err != nil {
		return RunnerWorkflowResult{}, err
	}

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	stopCh := workflow.GetSignalChannel(ctx, SignalStop)

	drainSignals := func() {
		for pauseCh.ReceiveAsync(nil) {
			state.Paused = true
		}
		for resumeCh.ReceiveAsync(nil) {
			state.Paused = false
		}
		for stopCh.ReceiveAsync(nil) {
			state.Stopping = true
		}
	}

	waitWhilePaused := func() {
		for state.Paused && !state.Stopping {
			selector := workflow.NewSelector(ctx)
			selector.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				state.Paused = false
			})
			selector.AddReceive(stopCh, func(c workflow.ReceiveChannel, more bool) {
				c.Receive(ctx, nil)
				state.Stopping = true
			})
			selector.Select(ctx)
		}
	}

	taskContext, err := initTaskContext(ctx, input)
	if err != nil {
		return RunnerWorkflowResult{Result: "error"}, err
	}

	for {
		drainSignals()
		waitWhilePaused()
		if state.Stopping {
			return RunnerWorkflowResult{Result: "stopped"}, nil
		}
		if state.Node == "" {
			return RunnerWorkflowResult{Result: "done"}, nil
		}

		var out activities.RunNodeOutput
		runErr := workflow.ExecuteActivity(ctx, nodeActivities.RunNodeActivity, activities.RunNodeInput{
			WorkflowName: statemachine.WorkflowName,
			NodeName:     state.Node,
			ExecutionID:  input.ExecutionID,
			TaskContext:  taskContext,
		}).Get(ctx, &out)
		if runErr != nil {
			logger.Error("node activity failed", "node", state.Node, "error", runErr)
			return RunnerWorkflowResult{Result: "error"}, runErr
		}

		taskContext = out.TaskContext
		ranNode := state.Node
		state.Node = out.NextNode

		// Fatal means ERROR_INJECT cannot remediate this failure
		// (§7 ExecutionError{missingTool}); escalateOn (internal/
		// statemachine) already routed NextNode to "", but that also
		// happens for an ordinary DONE transition, so Outcome is what
		// tells the two apart — a Fatal outcome always ends the
		// execution with "error", never "done".
		if out.Outcome == "fatal" {
			logger.Error("node reported fatal outcome, ending execution", "node", ranNode, "message", out.ErrMessage)
			return RunnerWorkflowResult{Result: "error"}, nil
		}
	}
}

// initTaskContext seeds the execution's TaskContext via an activity
// rather than calling models.NewTaskContext directly, since that
// constructor stamps a wall-clock timestamp workflow code must never
// compute itself.
func initTaskContext(ctx workflow.Context, input RunnerWorkflowInput) (*models.TaskContext, error) {
	var tc *models.TaskContext
	err := workflow.ExecuteActivity(ctx, nodeActivities.InitTaskContextActivity, activities.InitTaskContextInput{
		ProjectID: input.ProjectID,
		RepoPath:  input.RepoPath,
	}).Get(ctx, &tc)
	return tc, err
}
