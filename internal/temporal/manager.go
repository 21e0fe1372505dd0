// Package temporal wires the Temporal client and worker together:
// registering RunnerWorkflow and its activities, starting the worker,
// and exposing the start/signal/query operations the Automation API
// and runnerctl need. Grounded on the donor's
// internal/temporal/manager.go shape (client + worker + registration
// list, Start/Stop lifecycle) narrowed to this repo's single workflow.
package temporal

import (
	"context"
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jordanhubbard/devteam-runner/internal/logging"
	"github.com/jordanhubbard/devteam-runner/internal/projection"
	runnerclient "github.com/jordanhubbard/devteam-runner/internal/temporal/client"
	"github.com/jordanhubbard/devteam-runner/internal/temporal/activities"
	"github.com/jordanhubbard/devteam-runner/internal/temporal/workflows"
	"github.com/jordanhubbard/devteam-runner/internal/workflow"
	"github.com/jordanhubbard/devteam-runner/internal/wsfabric"
)

// Manager owns the Temporal client and worker for the lifetime of the process.
type Manager struct {
	client    *runnerclient.Client
	worker    worker.Worker
	taskQueue string
}

// NewManager dials Temporal, registers RunnerWorkflow and its
// activities on a worker bound to taskQueue, and returns a Manager
// ready to Start. fabric and proj are optional (nil is fine) and, when
// given, enable execution-update/execution-log frame broadcasting after
// every node transition (§4.K).
func NewManager(cfg runnerclient.Config, engine *workflow.Engine, logs *logging.Manager, fabric *wsfabric.Fabric, proj *projection.Computer) (*Manager, error) {
	c, err := runnerclient.New(cfg, logs)
	if err != nil {
		return nil, err
	}

	w := worker.New(c.Raw(), cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.RunnerWorkflow)
	w.RegisterActivity(activities.NewActivities(engine).WithFabric(fabric, proj))

	return &Manager{client: c, worker: w, taskQueue: cfg.TaskQueue}, nil
}

// Start runs the worker in the background until the process receives
// an interrupt or Stop is called.
func (m *Manager) Start() error {
	go func() {
		_ = m.worker.Run(worker.InterruptCh())
	}()
	return nil
}

func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}

// StartExecution starts a RunnerWorkflow for executionID, using
// executionID as both the workflow ID and the idempotency anchor: a
// duplicate StartExecution for the same executionID is rejected by
// Temporal itself as a WorkflowExecutionAlreadyStarted error, which
// callers treat as a no-op (§4.C's single-live-execution invariant is
// enforced at the database layer first; this is a second, independent
// backstop).
func (m *Manager) StartExecution(ctx context.Context, input workflows.RunnerWorkflowInput) (temporalclient.WorkflowRun, error) {
	opts := temporalclient.StartWorkflowOptions{
		ID:        workflowID(input.ExecutionID),
		TaskQueue: m.taskQueue,
	}
	return m.client.ExecuteWorkflow(ctx, opts, workflows.RunnerWorkflow, input)
}

func (m *Manager) Pause(ctx context.Context, executionID string) error {
	return m.client.SignalWorkflow(ctx, workflowID(executionID), "", workflows.SignalPause, nil)
}

func (m *Manager) Resume(ctx context.Context, executionID string) error {
	return m.client.SignalWorkflow(ctx, workflowID(executionID), "", workflows.SignalResume, nil)
}

// StopExecution signals the running workflow to stop cooperatively (§5).
func (m *Manager) StopExecution(ctx context.Context, executionID string) error {
	return m.client.SignalWorkflow(ctx, workflowID(executionID), "", workflows.SignalStop, nil)
}

// QueryStatus asks the running workflow for its current node/pause state.
func (m *Manager) QueryStatus(ctx context.Context, executionID string) (workflows.StatusQuery, error) {
	var result workflows.StatusQuery
	value, err := m.client.QueryWorkflow(ctx, workflowID(executionID), "", workflows.QueryStatus)
	if err != nil {
		return result, fmt.Errorf("query status for %s: %w", executionID, err)
	}
	if err := value.Get(&result); err != nil {
		return result, fmt.Errorf("decode status query for %s: %w", executionID, err)
	}
	return result, nil
}

// AwaitResult blocks until executionID's workflow completes, up to timeout.
func (m *Manager) AwaitResult(ctx context.Context, executionID string, timeout time.Duration) (workflows.RunnerWorkflowResult, error) {
	var result workflows.RunnerWorkflowResult
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run := m.client.GetWorkflow(ctx, workflowID(executionID), "")
	if err := run.Get(ctx, &result); err != nil {
		return result, err
	}
	return result, nil
}

func workflowID(executionID string) string {
	return "execution-" + executionID
}
