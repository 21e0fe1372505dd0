// Package statemachine implements the Task Execution State Machine
// (§4.F) as a graph of internal/workflow nodes: SELECT picks the next
// eligible task, PREP/IMPLEMENT/VERIFY/MERGE/PUSH drive it to a merged,
// pushed commit, UPDATE_TASKLIST records completion, and ERROR_INJECT/
// INJECT_TASK synthesize and insert a remediation task before handing
// control back to SELECT. Retries live inside the PUSH node (network,
// ≤3, exponential backoff) and inside internal/build's Verifier
// (≤2 per build step) — every other failure escalates immediately to
// ERROR_INJECT, matching §4.F's "stop-on-error within the pipeline;
// recovery is via ERROR_INJECT, not silent retry."
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"

	"github.com/jordanhubbard/devteam-runner/internal/build"
	"github.com/jordanhubbard/devteam-runner/internal/cache"
	"github.com/jordanhubbard/devteam-runner/internal/containers"
	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/internal/git"
	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/internal/taskexecutor"
	"github.com/jordanhubbard/devteam-runner/internal/tasklist"
	"github.com/jordanhubbard/devteam-runner/internal/workflow"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// WorkflowName is the registered name internal/temporal looks up to
// drive an execution (§4.E "Registration is by workflow name").
const WorkflowName = "task-execution"

const taskListFileName = "task_lists.md"

// Node names, exported so callers (internal/temporal, tests) can
// reference the graph's entry point and individual states by name.
const (
	NodeSelect         = "select"
	NodePrep           = "prep"
	NodeImplement      = "implement"
	NodeVerify         = "verify"
	NodeMerge          = "merge"
	NodePush           = "push"
	NodeUpdateTasklist = "update_tasklist"
	NodeDone           = "done"
	NodeErrorInject    = "error_inject"
	NodeInjectTask     = "inject_task"
)

// PushRetries is the §4.F PUSH ceiling: the push is attempted at most
// this many times in all.
const PushRetries = 3

// Machine bundles the live collaborators every node closes over. It is
// constructed once at process startup and registered into the
// compile-time workflow.Register table by Register(m) — the node
// topology is fixed at compile time, but the nodes' collaborators are
// supplied at startup since they are runtime resources (a Docker
// client, database pool, and so on) rather than compile-time constants.
type Machine struct {
	Cache      *cache.Manager
	Containers *containers.Manager
	Executor   *taskexecutor.Executor
	Verifier   *build.Verifier
	TaskLists  *database.TaskListStore
	GitKeyDir  string // optional, forwarded to git.NewGitService for per-project credentials
}

// Register builds the task-execution workflow.Definition from m's
// nodes and adds it to the compile-time registry. Call once, before
// any execution starts (typically from cmd/runner's wiring).
func Register(m *Machine) {
	workflow.Register(&workflow.Definition{
		Name:  WorkflowName,
		Start: NodeSelect,
		Nodes: map[string]workflow.NodeSpec{
			NodeSelect: {
				Name: NodeSelect, Kind: workflow.NodeKindRoute,
				Node: workflow.NodeFunc(m.selectNode),
				Next: func(tc *models.TaskContext, r runnerrors.NodeResult) string {
					if tc.Extra != nil {
						if done, _ := tc.Extra["noTaskSelected"].(bool); done {
							return NodeDone
						}
					}
					return NodePrep
				},
			},
			NodePrep: {
				Name: NodePrep, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.prepNode),
				Next: escalateOn(NodeImplement),
			},
			NodeImplement: {
				Name: NodeImplement, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.implementNode),
				Next: escalateOn(NodeVerify),
			},
			NodeVerify: {
				Name: NodeVerify, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.verifyNode),
				Next: escalateOn(NodeMerge),
			},
			NodeMerge: {
				Name: NodeMerge, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.mergeNode),
				Next: escalateOn(NodePush),
			},
			NodePush: {
				Name: NodePush, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.pushNode),
				Next: escalateOn(NodeUpdateTasklist),
			},
			NodeUpdateTasklist: {
				Name: NodeUpdateTasklist, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.updateTasklistNode),
				Next: escalateOn(NodeSelect),
			},
			NodeDone: {
				Name: NodeDone, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.doneNode),
				Next: nil,
			},
			NodeErrorInject: {
				Name: NodeErrorInject, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.errorInjectNode),
				Next: func(tc *models.TaskContext, r runnerrors.NodeResult) string { return NodeInjectTask },
			},
			NodeInjectTask: {
				Name: NodeInjectTask, Kind: workflow.NodeKindCompute,
				Node: workflow.NodeFunc(m.injectTaskNode),
				Next: func(tc *models.TaskContext, r runnerrors.NodeResult) string { return NodeSelect },
			},
		},
	})
}

// escalateOn returns a NextFunc that advances to onSuccess when a node
// succeeds, to NodeErrorInject when it fails with a recoverable
// (Retryable) outcome, and terminates the graph outright when it fails
// with a Fatal outcome — every compute state except DONE, ERROR_INJECT
// and INJECT_TASK follows this rule (§4.F); PUSH applies it once its
// internal retries are spent. Fatal is reserved for
// the one §7 error kind that ERROR_INJECT cannot remediate
// (ExecutionError{missingTool}: no amount of injected remediation
// tasks installs a binary), so routing it back into SELECT would grow
// task_lists.md forever instead of ever reaching DONE or a terminal
// error. An empty next-node tells RunnerWorkflow (internal/temporal/
// workflows) to end the execution; it reports "error" there rather
// than "done" precisely because the outcome was Fatal, not because the
// graph ran out of nodes.
func escalateOn(onSuccess string) workflow.NextFunc {
	return func(tc *models.TaskContext, r runnerrors.NodeResult) string {
		switch r.Outcome {
		case runnerrors.Success:
			return onSuccess
		case runnerrors.Fatal:
			return ""
		default: // Retryable
			return NodeErrorInject
		}
	}
}

// recordFailure stashes which stage failed and why, so ERROR_INJECT
// can synthesize a remediation task without re-deriving it from
// per-node artifact shapes.
func recordFailure(tc *models.TaskContext, stage string, err error) {
	if tc.Extra == nil {
		tc.Extra = map[string]interface{}{}
	}
	tc.Extra["failedStage"] = stage
	if err != nil {
		tc.Extra["failureSummary"] = err.Error()
	}
}

func setNodeOutput(tc *models.TaskContext, name string, result runnerrors.NodeResult, artifact *models.ExecutionArtifact) {
	out := models.NodeOutput{Status: result.Outcome.String()}
	if artifact != nil {
		data, _ := structToMap(artifact)
		out.Artifacts = data
	}
	tc.Nodes[name] = out
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func taskListPath(repoPath string) string {
	return filepath.Join(repoPath, taskListFileName)
}

// selectNode implements §4.F SELECT: lenient-parse task_lists.md, pick
// the lowest eligible dotted task id, and record the choice in
// tc.Metadata. When nothing remains, tc.Extra["noTaskSelected"] routes
// the graph to DONE.
func (m *Machine) selectNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	entries, warnings, err := tasklist.Load(taskListPath(tc.Metadata.RepoPath))
	if err != nil {
		recordFailure(tc, NodeSelect, err)
		setNodeOutput(tc, NodeSelect, runnerrors.Retry(err), nil)
		return tc, runnerrors.Retry(err)
	}
	for _, w := range warnings {
		tc.AppendLog("select: " + w)
	}

	completed, err := m.TaskLists.CompletedTaskIDs(ctx, tc.Metadata.ProjectID)
	if err != nil {
		recordFailure(tc, NodeSelect, err)
		setNodeOutput(tc, NodeSelect, runnerrors.Retry(err), nil)
		return tc, runnerrors.Retry(err)
	}

	entry, err := tasklist.Select(entries, completed)
	if err != nil {
		recordFailure(tc, NodeSelect, err)
		setNodeOutput(tc, NodeSelect, runnerrors.Retry(err), nil)
		return tc, runnerrors.Retry(err)
	}

	if tc.Extra == nil {
		tc.Extra = map[string]interface{}{}
	}
	if entry == nil {
		tc.Extra["noTaskSelected"] = true
		setNodeOutput(tc, NodeSelect, runnerrors.Ok(), nil)
		return tc, runnerrors.Ok()
	}

	tc.Extra["noTaskSelected"] = false
	tc.Extra["selectedEntry"] = entry
	tc.Metadata.TaskID = entry.TaskID
	tc.AppendLog(fmt.Sprintf("select: chose task %s (%s)", entry.TaskID, entry.Title))
	setNodeOutput(tc, NodeSelect, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// prepNode implements §4.F PREP: ensure the repo cache and container
// are warm, and check out the task branch.
func (m *Machine) prepNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	projectID := tc.Metadata.ProjectID
	repoURL, _ := tc.Extra["repoUrl"].(string)

	repoPath, err := m.Cache.Ensure(ctx, projectID, repoURL)
	if err != nil {
		result := runnerrors.Retry(err)
		recordFailure(tc, NodePrep, err)
		setNodeOutput(tc, NodePrep, result, nil)
		return tc, result
	}
	tc.Metadata.RepoPath = repoPath

	entry, _ := tc.Extra["selectedEntry"].(*models.TaskListEntry)
	title := tc.Metadata.TaskID
	if entry != nil {
		title = entry.Title
	}
	branch, err := m.Cache.CheckoutTaskBranch(ctx, projectID, tc.Metadata.TaskID, title)
	if err != nil {
		result := runnerrors.Retry(err)
		recordFailure(tc, NodePrep, err)
		setNodeOutput(tc, NodePrep, result, nil)
		return tc, result
	}
	tc.Metadata.Branch = branch

	if _, err := m.Containers.EnsureContainer(ctx, projectID); err != nil {
		result := runnerrors.Retry(err)
		recordFailure(tc, NodePrep, err)
		setNodeOutput(tc, NodePrep, result, nil)
		return tc, result
	}

	tc.AppendLog(fmt.Sprintf("prep: repo at %s, branch %s ready", repoPath, branch))
	setNodeOutput(tc, NodePrep, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// implementNode implements §4.F IMPLEMENT via the Code-Change Executor.
func (m *Machine) implementNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	entry, _ := tc.Extra["selectedEntry"].(*models.TaskListEntry)
	if entry == nil {
		result := runnerrors.Retry(fmt.Errorf("implement: no task selected"))
		recordFailure(tc, NodeImplement, result.Err)
		setNodeOutput(tc, NodeImplement, result, nil)
		return tc, result
	}

	baseBranch, _ := tc.Extra["baseBranch"].(string)
	artifact, result := m.Executor.Execute(ctx, tc.Metadata.ProjectID, tc.Metadata.RepoPath, baseBranch, *entry)
	if artifact != nil {
		for _, f := range artifact.FilesModified {
			tc.RecordFileModified(f)
		}
	}
	setNodeOutput(tc, NodeImplement, result, artifact)
	if result.Outcome != runnerrors.Success {
		recordFailure(tc, NodeImplement, result.Err)
		return tc, result
	}
	tc.AppendLog("implement: tool run complete")
	return tc, result
}

// verifyNode implements §4.F VERIFY via the Build Verifier. Retries
// (≤2 per build step) are internal to build.Verifier; a failure here
// has already exhausted them.
func (m *Machine) verifyNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	artifact, result := m.Verifier.Verify(ctx, tc.Metadata.ProjectID, tc.Metadata.RepoPath)
	setNodeOutput(tc, NodeVerify, result, artifact)
	if result.Outcome != runnerrors.Success {
		recordFailure(tc, NodeVerify, result.Err)
		return tc, result
	}
	tc.AppendLog("verify: build passed")
	return tc, result
}

// mergeNode implements §4.F MERGE: fast-forward, or a merge commit
// when FF is impossible; a conflict is never retried.
func (m *Machine) mergeNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	svc, err := git.NewGitService(tc.Metadata.RepoPath, tc.Metadata.ProjectID, gitKeyDirArgs(m.GitKeyDir)...)
	if err != nil {
		result := runnerrors.Retry(&runnerrors.MergeError{Kind: "conflict", Err: err})
		recordFailure(tc, NodeMerge, err)
		setNodeOutput(tc, NodeMerge, result, nil)
		return tc, result
	}

	defaultBranch, err := svc.GetDefaultBranch(ctx)
	if err != nil {
		result := runnerrors.Retry(&runnerrors.MergeError{Kind: "conflict", Err: err})
		recordFailure(tc, NodeMerge, err)
		setNodeOutput(tc, NodeMerge, result, nil)
		return tc, result
	}
	tc.Extra["baseBranch"] = defaultBranch

	mergeResult, err := svc.Merge(ctx, git.MergeRequest{
		TaskID:       tc.Metadata.TaskID,
		SourceBranch: tc.Metadata.Branch,
		Message:      fmt.Sprintf("Merge task %s", tc.Metadata.TaskID),
	})
	if err != nil {
		mergeErr := &runnerrors.MergeError{Kind: "conflict", Err: err}
		result := runnerrors.Retry(mergeErr)
		recordFailure(tc, NodeMerge, mergeErr)
		setNodeOutput(tc, NodeMerge, result, nil)
		return tc, result
	}

	tc.Extra["mergedCommit"] = mergeResult.CommitSHA
	tc.AppendLog(fmt.Sprintf("merge: %s into %s (ff=%v)", tc.Metadata.Branch, defaultBranch, mergeResult.FastForward))
	setNodeOutput(tc, NodeMerge, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// pushNode implements §4.F PUSH: push the default branch, making up to
// PushRetries attempts with exponential backoff on network failure.
func (m *Machine) pushNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	svc, err := git.NewGitService(tc.Metadata.RepoPath, tc.Metadata.ProjectID, gitKeyDirArgs(m.GitKeyDir)...)
	if err != nil {
		result := runnerrors.Retry(&runnerrors.PushError{Kind: "network", Err: err})
		recordFailure(tc, NodePush, err)
		setNodeOutput(tc, NodePush, result, nil)
		return tc, result
	}

	defaultBranch, _ := tc.Extra["baseBranch"].(string)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(bo, PushRetries-1)

	var lastErr error
	attempt := 0
	pushErr := backoff.Retry(func() error {
		attempt++
		_, err := svc.Push(ctx, git.PushRequest{TaskID: tc.Metadata.TaskID, Branch: defaultBranch})
		if err != nil {
			lastErr = err
			tc.AppendLog(fmt.Sprintf("push: attempt %d failed: %v", attempt, err))
			return err
		}
		return nil
	}, retrier)

	if pushErr != nil {
		pushError := &runnerrors.PushError{Kind: "network", Err: lastErr}
		result := runnerrors.Retry(pushError)
		recordFailure(tc, NodePush, pushError)
		setNodeOutput(tc, NodePush, result, nil)
		return tc, result
	}

	tc.AppendLog(fmt.Sprintf("push: %s pushed after %d attempt(s)", defaultBranch, attempt))
	setNodeOutput(tc, NodePush, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// updateTasklistNode implements §4.F UPDATE_TASKLIST.
func (m *Machine) updateTasklistNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	if err := m.TaskLists.MarkCompleted(ctx, tc.Metadata.ProjectID, tc.Metadata.TaskID); err != nil {
		result := runnerrors.Retry(err)
		recordFailure(tc, NodeUpdateTasklist, err)
		setNodeOutput(tc, NodeUpdateTasklist, result, nil)
		return tc, result
	}
	tc.AppendLog(fmt.Sprintf("update_tasklist: %s marked complete", tc.Metadata.TaskID))
	setNodeOutput(tc, NodeUpdateTasklist, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// doneNode is the terminal state; it performs no work.
func (m *Machine) doneNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	tc.AppendLog("done")
	setNodeOutput(tc, NodeDone, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// errorInjectNode implements §4.F ERROR_INJECT: synthesize a
// remediation task's title/description/files from the failed stage
// and its artifacts.
func (m *Machine) errorInjectNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	stage, _ := tc.Extra["failedStage"].(string)
	summary, _ := tc.Extra["failureSummary"].(string)

	title := fmt.Sprintf("Resolve %s error in task %s", stage, tc.Metadata.TaskID)
	description := fmt.Sprintf("%s failed for task %s: %s", stage, tc.Metadata.TaskID, summary)

	tc.Extra["remediationTitle"] = title
	tc.Extra["remediationDescription"] = description
	tc.Extra["remediationFiles"] = tc.Metadata.FilesModified

	tc.AppendLog(fmt.Sprintf("error_inject: synthesized remediation for %s (%s)", tc.Metadata.TaskID, stage))
	setNodeOutput(tc, NodeErrorInject, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

// injectTaskNode implements §4.F INJECT_TASK: insert the synthesized
// remediation task immediately after the failed task with a dependency
// back to it, and hand control back to SELECT.
func (m *Machine) injectTaskNode(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	path := taskListPath(tc.Metadata.RepoPath)
	entries, _, err := tasklist.Load(path)
	if err != nil {
		result := runnerrors.Retry(err)
		setNodeOutput(tc, NodeInjectTask, result, nil)
		return tc, result
	}

	title, _ := tc.Extra["remediationTitle"].(string)
	description, _ := tc.Extra["remediationDescription"].(string)
	files, _ := tc.Extra["remediationFiles"].([]string)

	updated, remediation, err := tasklist.InjectRemediation(entries, tc.Metadata.TaskID, title, description, files)
	if err != nil {
		result := runnerrors.Retry(err)
		setNodeOutput(tc, NodeInjectTask, result, nil)
		return tc, result
	}

	if err := tasklist.Save(path, updated); err != nil {
		result := runnerrors.Retry(err)
		setNodeOutput(tc, NodeInjectTask, result, nil)
		return tc, result
	}

	tc.AppendLog(fmt.Sprintf("inject_task: inserted %s depending on %s", remediation.TaskID, tc.Metadata.TaskID))
	setNodeOutput(tc, NodeInjectTask, runnerrors.Ok(), nil)
	return tc, runnerrors.Ok()
}

func gitKeyDirArgs(dir string) []string {
	if dir == "" {
		return nil
	}
	return []string{dir}
}
