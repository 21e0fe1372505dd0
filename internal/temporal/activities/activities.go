// Package activities wraps the Workflow Engine's single-step node
// driver (internal/workflow.Engine.RunNode) behind Temporal activity
// functions, so each SELECT/PREP/.../DONE transition becomes one
// durably-retried Temporal activity invocation. Grounded on the
// donor's internal/temporal/activities package shape — a small struct
// holding the collaborators an activity needs, with each exported
// method registered on the worker (internal/temporal/manager.go) —
// but narrowed from the donor's dozen event-bus-notification
// activities to the two this domain actually needs: initializing a
// TaskContext and running one workflow node.
package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/devteam-runner/internal/metrics"
	"github.com/jordanhubbard/devteam-runner/internal/projection"
	"github.com/jordanhubbard/devteam-runner/internal/workflow"
	"github.com/jordanhubbard/devteam-runner/internal/wsfabric"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Activities bundles the Workflow Engine an execution drives through.
// Temporal activities must be deterministically resumable from the
// caller's perspective but may do arbitrary I/O internally — exactly
// what Engine.RunNode already does (container exec, git, database
// writes), so the activity body is a thin adapter, not new logic.
//
// Fabric and Projection are optional (nil in unit tests that only
// exercise RunNode semantics): when set, RunNodeActivity publishes an
// execution-update frame after every node transition, satisfying the
// WebSocket Fabric's ≤500ms best-effort latency target (§4.K) since a
// Temporal activity runs immediately after the TaskContext write that
// triggered it.
type Activities struct {
	Engine     *workflow.Engine
	Fabric     *wsfabric.Fabric
	Projection *projection.Computer
	Metrics    *metrics.Metrics
}

func NewActivities(engine *workflow.Engine) *Activities {
	return &Activities{Engine: engine, Metrics: metrics.New()}
}

// WithFabric attaches the WebSocket Fabric and status projector used to
// broadcast execution-update frames after each node transition.
func (a *Activities) WithFabric(fabric *wsfabric.Fabric, proj *projection.Computer) *Activities {
	a.Fabric = fabric
	a.Projection = proj
	return a
}

// RunNodeInput is the serializable form of one Engine.RunNode call.
type RunNodeInput struct {
	WorkflowName string
	NodeName     string
	ExecutionID  string
	TaskContext  *models.TaskContext
}

// RunNodeOutput is the serializable form of a workflow.StepResult: the
// tagged NodeResult is flattened to a string outcome and error message
// since `error` does not round-trip through Temporal's JSON data
// converter as an interface value.
type RunNodeOutput struct {
	TaskContext *models.TaskContext
	NextNode    string
	Outcome     string
	ErrMessage  string
}

// RunNodeActivity runs exactly one node of the task-execution workflow
// and persists the resulting TaskContext, per §4.E/§4.F.
func (a *Activities) RunNodeActivity(ctx context.Context, input RunNodeInput) (*RunNodeOutput, error) {
	start := time.Now()
	step, err := a.Engine.RunNode(ctx, input.WorkflowName, input.NodeName, input.ExecutionID, input.TaskContext)
	if err != nil {
		return nil, fmt.Errorf("run node %s: %w", input.NodeName, err)
	}

	if a.Metrics != nil {
		a.Metrics.RecordTransition(input.NodeName, step.NextNode, time.Since(start).Seconds())
	}

	out := &RunNodeOutput{
		TaskContext: step.TaskContext,
		NextNode:    step.NextNode,
		Outcome:     step.Result.Outcome.String(),
	}
	if step.Result.Err != nil {
		out.ErrMessage = step.Result.Err.Error()
	}

	a.publishUpdate(ctx, input.ExecutionID, step.TaskContext.Metadata.ProjectID, input.NodeName)

	return out, nil
}

// publishUpdate broadcasts the execution's freshly recomputed
// StatusProjection as an execution-update frame. Failures here are
// logged-and-swallowed (§4.K: the fabric is best-effort, never a source
// of execution failure).
func (a *Activities) publishUpdate(ctx context.Context, executionID, projectID, nodeName string) {
	if a.Fabric == nil || a.Projection == nil {
		return
	}
	a.Projection.Invalidate(ctx, projectID, executionID)
	proj, err := a.Projection.Compute(ctx, executionID)
	if err != nil {
		return
	}
	a.Fabric.Publish(wsfabric.Frame{
		Type:      wsfabric.FrameExecutionUpdate,
		ProjectID: projectID,
		Payload: wsfabric.ExecutionUpdatePayload{
			State:       string(proj.Status),
			Progress:    proj.Progress,
			CurrentTask: proj.CurrentTask,
		},
	})
	a.Fabric.PublishLog(projectID, wsfabric.ExecutionLogPayload{
		Level:    "info",
		Message:  "node " + nodeName + " completed",
		NodeName: nodeName,
	})
}

// InitTaskContextInput seeds a fresh execution's TaskContext.
type InitTaskContextInput struct {
	ProjectID string
	RepoPath  string
}

// InitTaskContextActivity builds the initial TaskContext for an
// execution. Run as an activity (rather than called directly from
// workflow code) because models.NewTaskContext stamps a wall-clock
// StartedAt, which workflow code must never compute itself (§4.E
// determinism: replay must reproduce the same value every time).
func (a *Activities) InitTaskContextActivity(ctx context.Context, input InitTaskContextInput) (*models.TaskContext, error) {
	return models.NewTaskContext(input.ProjectID, input.RepoPath), nil
}
