// Package worker is the consuming half of the Job Queue Adapter
// (§4.D): it subscribes a durable handler per project onto
// internal/messagebus, acks only after the initial TaskContext write
// for a delivered event's execution is durably persisted, and then
// drives that execution to completion through internal/temporal —
// bounded by a single global semaphore so no more than
// Workflow.GlobalConcurrency (§6.5, default 5) executions run across
// all projects at once (§5: "parallel workers across projects,
// single-threaded per execution"). Grounded on the donor's
// internal/worker/{pool.go,worker.go} pool-and-dispatch shape, narrowed
// from a generic bead-claiming pool to the one thing this domain's
// worker does: turn a delivered Event into a running RunnerWorkflow and
// broadcast its terminal result.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/internal/logging"
	"github.com/jordanhubbard/devteam-runner/internal/messagebus"
	"github.com/jordanhubbard/devteam-runner/internal/temporal"
	"github.com/jordanhubbard/devteam-runner/internal/temporal/workflows"
	"github.com/jordanhubbard/devteam-runner/internal/wsfabric"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// ResultTimeout bounds how long a single execution may run before
// AwaitResult gives up waiting (an execution itself has no spec-defined
// ceiling; this is an operational backstop, not a §4.F node budget).
const ResultTimeout = 30 * time.Minute

// Worker is the Job Queue Adapter's single consuming process.
type Worker struct {
	Queue        *messagebus.Queue
	Executions   *database.ExecutionStore
	TaskContexts *database.TaskContextStore
	Temporal     *temporal.Manager
	Fabric       *wsfabric.Fabric
	Logs         *logging.Manager

	sem chan struct{}

	mu         sync.Mutex
	subscribed map[string]bool
}

// New builds a Worker whose semaphore bounds concurrent executions at
// globalConcurrency (§6.5 GLOBAL_CONCURRENCY, §5).
func New(queue *messagebus.Queue, executions *database.ExecutionStore, taskContexts *database.TaskContextStore, tm *temporal.Manager, fabric *wsfabric.Fabric, logs *logging.Manager, globalConcurrency int) *Worker {
	if globalConcurrency <= 0 {
		globalConcurrency = 5
	}
	return &Worker{
		Queue:        queue,
		Executions:   executions,
		TaskContexts: taskContexts,
		Temporal:     tm,
		Fabric:       fabric,
		Logs:         logs,
		sem:          make(chan struct{}, globalConcurrency),
		subscribed:   make(map[string]bool),
	}
}

// EnsureSubscribed registers w as the durable consumer for projectID's
// queue subject exactly once; later calls for an already-subscribed
// project are no-ops (§4.A-style per-project idempotent registration).
func (w *Worker) EnsureSubscribed(projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subscribed[projectID] {
		return nil
	}
	if err := w.Queue.Subscribe(projectID, w.handle); err != nil {
		return fmt.Errorf("subscribe worker for project %s: %w", projectID, err)
	}
	w.subscribed[projectID] = true
	return nil
}

// handle is the messagebus.Handler for every project subject this
// worker has subscribed to. It must not return nil (ack) until the
// execution's initial TaskContext write has been durably persisted
// (§4.D); a redelivery of an event whose TaskContext already exists is
// treated as a no-op resume signal rather than a duplicate start.
func (w *Worker) handle(event *models.Event) error {
	ctx := context.Background()

	exec, err := w.Executions.GetLiveForProject(ctx, event.ProjectID)
	if err != nil {
		return fmt.Errorf("load live execution for %s: %w", event.ProjectID, err)
	}
	if exec == nil {
		// The Automation API always creates the Execution row before
		// publishing; a missing live execution here means it has
		// already reached a terminal state (e.g. a replayed message
		// arriving after completion) — nothing left to do.
		return nil
	}

	if _, err := w.TaskContexts.Load(ctx, exec.ExecutionID); err == nil {
		return nil // already initialized: redelivery is an idempotent resume signal
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("load task context for %s: %w", exec.ExecutionID, err)
	}

	repoURL, _ := event.Payload["repo_url"].(string)
	tc := models.NewTaskContext(event.ProjectID, "")
	tc.Extra = map[string]interface{}{"repoUrl": repoURL}

	if err := w.TaskContexts.Save(ctx, exec.ExecutionID, tc); err != nil {
		return fmt.Errorf("persist initial task context for %s: %w", exec.ExecutionID, err)
	}

	go w.run(exec.ExecutionID, event.ProjectID)
	return nil
}

// run drives one execution to completion, bounded by the global
// concurrency semaphore. It is launched as a detached goroutine from
// handle once the initial TaskContext write has already been
// acknowledged to the queue.
func (w *Worker) run(executionID, projectID string) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	ctx := context.Background()

	if err := w.Executions.UpdateStatus(ctx, executionID, models.StatusInitializing); err != nil {
		w.logWarn(executionID, "update status to initializing failed", err)
	}

	tc, err := w.TaskContexts.Load(ctx, executionID)
	repoPath := ""
	if err == nil {
		repoPath = tc.Metadata.RepoPath
	}

	if _, err := w.Temporal.StartExecution(ctx, workflows.RunnerWorkflowInput{
		ExecutionID: executionID,
		ProjectID:   projectID,
		RepoPath:    repoPath,
	}); err != nil {
		w.logError(executionID, "start execution failed", err)
		_ = w.Executions.UpdateStatus(ctx, executionID, models.StatusError)
		w.completion(projectID, "error")
		return
	}
	if err := w.Executions.UpdateStatus(ctx, executionID, models.StatusRunning); err != nil {
		w.logWarn(executionID, "update status to running failed", err)
	}

	result, err := w.Temporal.AwaitResult(ctx, executionID, ResultTimeout)
	status, resultStr := models.StatusDone, "done"
	switch {
	case err != nil:
		w.logError(executionID, "await result failed", err)
		status, resultStr = models.StatusError, "error"
	case result.Result == "stopped":
		status, resultStr = models.StatusStopped, "stopped"
	case result.Result == "error":
		status, resultStr = models.StatusError, "error"
	}

	if err := w.Executions.UpdateStatus(ctx, executionID, status); err != nil {
		w.logWarn(executionID, "update terminal status failed", err)
	}
	w.completion(projectID, resultStr)
}

func (w *Worker) completion(projectID, result string) {
	if w.Fabric == nil {
		return
	}
	w.Fabric.Publish(wsfabric.Frame{
		Type:      wsfabric.FrameCompletion,
		ProjectID: projectID,
		Payload:   wsfabric.CompletionPayload{Result: result},
	})
}

func (w *Worker) logWarn(executionID, message string, err error) {
	if w.Logs == nil {
		return
	}
	w.Logs.Warn("worker", message, map[string]interface{}{"executionId": executionID, "error": err.Error()})
}

func (w *Worker) logError(executionID, message string, err error) {
	if w.Logs == nil {
		return
	}
	w.Logs.Error("worker", message, map[string]interface{}{"executionId": executionID, "error": err.Error()})
}
