// Package taskexecutor implements the Code-Change Executor (§4.G): a
// deterministic prompt built from a fixed template and the selected
// task, the external tool invoked inside the project's container, and
// artifact capture corroborated against git status. Grounded on the
// donor's internal/taskexecutor package shape (a small, focused
// executor invoked by the pipeline rather than a standalone poller)
// but rewritten end to end: the donor's executor polled for and
// claimed beads across goroutines per project; this one runs exactly
// one deterministic tool invocation per IMPLEMENT call, driven by the
// Task Execution State Machine (internal/statemachine).
package taskexecutor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/devteam-runner/internal/containers"
	"github.com/jordanhubbard/devteam-runner/internal/git"
	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Executor runs the code-change tool; toolBinary is its absolute
// in-container path (§6.5 TOOL_BINARY_PATH).
type Executor struct {
	containers *containers.Manager
	toolBinary string
	timeout    time.Duration
}

func NewExecutor(cm *containers.Manager, toolBinary string, timeout time.Duration) *Executor {
	return &Executor{containers: cm, toolBinary: toolBinary, timeout: timeout}
}

// BuildPrompt is a pure function of entry: no wall-clock or random
// input, so the same task always yields the same prompt (GLOSSARY
// "Deterministic prompt").
func BuildPrompt(entry models.TaskListEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", entry.TaskID, entry.Title)
	if entry.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", entry.Description)
	}
	if len(entry.Files) > 0 {
		b.WriteString("Files in scope:\n")
		for _, f := range entry.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if len(entry.Criteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		keys := make([]string, 0, len(entry.Criteria))
		for k := range entry.Criteria {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, entry.Criteria[k])
		}
	}
	return b.String()
}

// Execute runs the tool against projectID's working tree at repoPath,
// comparing against baseBranch, and captures the resulting
// ExecutionArtifact (§4.G).
func (e *Executor) Execute(ctx context.Context, projectID, repoPath, baseBranch string, entry models.TaskListEntry) (*models.ExecutionArtifact, runnerrors.NodeResult) {
	start := time.Now()
	prompt := BuildPrompt(entry)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.containers.Exec(execCtx, projectID, []string{e.toolBinary, "--prompt-stdin"}, containers.ExecOptions{
		Cwd:     repoPath,
		Timeout: e.timeout,
		Env:     map[string]string{"DEVTEAM_PROMPT": prompt},
	})
	toolDuration := time.Since(start)

	if err != nil {
		execErr := &runnerrors.ExecutionError{Kind: executionErrorKind(err), Err: err}
		if execErr.Fatal() {
			// missingTool is fatal to the execution (§7): a remediation
			// task injected by ERROR_INJECT can't install a binary, so
			// retrying via ERROR_INJECT would just grow task_lists.md
			// forever without ever reaching DONE.
			return nil, runnerrors.Fail(execErr)
		}
		return nil, runnerrors.Retry(execErr)
	}

	artifact := &models.ExecutionArtifact{
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		ExitCode:    result.ExitCode,
		ToolVersion: e.toolVersion(execCtx, projectID, repoPath),
		DurationsMs: map[string]int64{"tool": toolDuration.Milliseconds()},
	}

	svc, svcErr := git.NewGitService(repoPath, projectID)
	if svcErr == nil {
		if diff, diffErr := svc.DiffSinceBranchPoint(execCtx, baseBranch); diffErr == nil {
			artifact.Diff = diff
		}
		if porcelain, statusErr := svc.GetStatusPorcelain(execCtx); statusErr == nil {
			artifact.FilesModified = parsePorcelainFiles(porcelain)
		}
	}

	if result.ExitCode != 0 {
		// A nonzero exit with the tool actually running is kind "tool",
		// never "missingTool" — it escalates via ERROR_INJECT without a
		// second identical attempt (§7).
		return artifact, runnerrors.Retry(&runnerrors.ExecutionError{
			Kind: runnerrors.ExecutionTool,
			Err:  fmt.Errorf("tool exited %d: %s", result.ExitCode, truncate(result.Stderr, 4096)),
		})
	}

	return artifact, runnerrors.Ok()
}

// executionErrorKind classifies a containers.Exec failure as
// ExecutionMissingTool only when the container runtime itself reports
// that the binary at toolBinary couldn't be found or started; any
// other exec-start failure (container unhealthy, exec timeout, exec
// plumbing error) is ExecutionTool, which recovers through the normal
// ERROR_INJECT path instead of ending the execution.
func executionErrorKind(err error) string {
	msg := err.Error()
	for _, sig := range []string{
		"executable file not found",
		"no such file or directory",
		"OCI runtime exec failed",
	} {
		if strings.Contains(msg, sig) {
			return runnerrors.ExecutionMissingTool
		}
	}
	return runnerrors.ExecutionTool
}

func (e *Executor) toolVersion(ctx context.Context, projectID, repoPath string) string {
	result, err := e.containers.Exec(ctx, projectID, []string{e.toolBinary, "--version"}, containers.ExecOptions{
		Cwd:     repoPath,
		Timeout: 5 * time.Second,
	})
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// parsePorcelainFiles extracts file paths from `git status --porcelain`
// output, corroborating the tool's own modified-file report (§4.G).
func parsePorcelainFiles(porcelain string) []string {
	var files []string
	for _, line := range strings.Split(porcelain, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}
		if idx := strings.Index(path, " -> "); idx != -1 {
			path = path[idx+4:]
		}
		files = append(files, path)
	}
	return files
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
