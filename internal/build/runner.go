// Package build implements the Build Verifier (§4.H): a bounded,
// container-executed npm ci / npm run build sequence with stop-on-error
// retries. Grounded on the donor's internal/build package shape (a
// runner that shells out and classifies the result) but narrowed to
// the single toolchain this release verifies (§1 Non-goals: "No
// language-specific test execution"), and moved from local os/exec
// into the project's always-on container via internal/containers.
package build

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jordanhubbard/devteam-runner/internal/containers"
	"github.com/jordanhubbard/devteam-runner/internal/git"
	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// DefaultTimeout is the §4.H total budget including retries.
const DefaultTimeout = 60 * time.Second

// buildOutputCandidates are the directories the verifier looks for
// after a successful build (§4.H).
var buildOutputCandidates = []string{"dist", "build", "out", "public", ".next", "lib", "es"}

const maxAttemptsPerStage = 2

// Verifier runs the build sequence for a project's container.
type Verifier struct {
	containers *containers.Manager
	timeout    time.Duration
}

func NewVerifier(cm *containers.Manager, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{containers: cm, timeout: timeout}
}

// Verify runs npm ci then npm run build at repoPath inside projectID's
// container, retrying each stage up to maxAttemptsPerStage times with a
// node_modules cleanup between attempts (§4.H).
func (v *Verifier) Verify(ctx context.Context, projectID, repoPath string) (*models.ExecutionArtifact, runnerrors.NodeResult) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	artifact := &models.ExecutionArtifact{DurationsMs: map[string]int64{}}

	hasPkg, err := v.fileExists(ctx, projectID, repoPath, "package.json")
	if err != nil {
		v.finish(ctx, projectID, repoPath, artifact, start)
		return artifact, runnerrors.Retry(&runnerrors.VerifyError{Kind: "buildFailed", Stage: "npm ci", ExitCode: -1, StderrTail: err.Error()})
	}

	if !hasPkg {
		artifact.Stdout += "npm ci skipped: no_package_json\n"
	} else {
		ok, result := v.runStage(ctx, projectID, repoPath, "npm ci", []string{"npm", "ci"}, artifact)
		if !ok {
			v.finish(ctx, projectID, repoPath, artifact, start)
			return artifact, result
		}
	}

	hasBuildScript, err := v.hasScript(ctx, projectID, repoPath, "build")
	if err != nil {
		v.finish(ctx, projectID, repoPath, artifact, start)
		return artifact, runnerrors.Retry(&runnerrors.VerifyError{Kind: "buildFailed", Stage: "npm run build", ExitCode: -1, StderrTail: err.Error()})
	}

	if !hasBuildScript {
		artifact.Stdout += "npm run build skipped: no_build_script\n"
	} else {
		ok, result := v.runStage(ctx, projectID, repoPath, "npm run build", []string{"npm", "run", "build"}, artifact)
		if !ok {
			v.finish(ctx, projectID, repoPath, artifact, start)
			return artifact, result
		}
	}

	v.finish(ctx, projectID, repoPath, artifact, start)
	return artifact, runnerrors.Ok()
}

// runStage executes cmd up to maxAttemptsPerStage times, cleaning
// node_modules between attempts, and returns false with a
// VerifyError-tagged NodeResult once attempts are exhausted.
func (v *Verifier) runStage(ctx context.Context, projectID, repoPath, stage string, cmd []string, artifact *models.ExecutionArtifact) (bool, runnerrors.NodeResult) {
	var last *containers.ExecResult
	for attempt := 1; attempt <= maxAttemptsPerStage; attempt++ {
		attemptStart := time.Now()
		res, err := v.containers.Exec(ctx, projectID, cmd, containers.ExecOptions{Cwd: repoPath, Timeout: v.timeout})
		artifact.DurationsMs[fmt.Sprintf("%s_attempt%d", slug(stage), attempt)] = time.Since(attemptStart).Milliseconds()

		if err != nil {
			return false, runnerrors.Retry(&runnerrors.VerifyError{Kind: "buildFailed", Stage: stage, ExitCode: -1, StderrTail: truncate(err.Error(), 4096)})
		}
		artifact.Stdout += res.Stdout
		artifact.Stderr += res.Stderr
		last = res

		if res.ExitCode == 0 {
			artifact.ExitCode = 0
			return true, runnerrors.Ok()
		}
		if attempt < maxAttemptsPerStage {
			v.cleanNodeModules(ctx, projectID, repoPath)
		}
	}

	artifact.ExitCode = last.ExitCode
	return false, runnerrors.Retry(&runnerrors.VerifyError{
		Kind:       "buildFailed",
		Stage:      stage,
		ExitCode:   last.ExitCode,
		StderrTail: truncate(last.Stderr, 4096),
	})
}

// finish fills in the fields the verifier always captures regardless
// of outcome: npm version, build-output directories, and files
// modified relative to the working tree (§4.H).
func (v *Verifier) finish(ctx context.Context, projectID, repoPath string, artifact *models.ExecutionArtifact, start time.Time) {
	artifact.NpmVersion = v.npmVersion(ctx, projectID, repoPath)
	artifact.BuildOutputDirs = v.findBuildOutputDirs(ctx, projectID, repoPath)

	if svc, err := git.NewGitService(repoPath, projectID); err == nil {
		if porcelain, err := svc.GetStatusPorcelain(ctx); err == nil {
			artifact.FilesModified = parsePorcelainFiles(porcelain)
		}
	}

	artifact.DurationsMs["total"] = time.Since(start).Milliseconds()
}

func (v *Verifier) fileExists(ctx context.Context, projectID, repoPath, name string) (bool, error) {
	res, err := v.containers.Exec(ctx, projectID, []string{"sh", "-c", "test -f " + name}, containers.ExecOptions{Cwd: repoPath, Timeout: 5 * time.Second})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// hasScript checks package.json's scripts map for name via node, so
// the check follows npm's own notion of a script rather than a
// text-matching heuristic.
func (v *Verifier) hasScript(ctx context.Context, projectID, repoPath, name string) (bool, error) {
	script := fmt.Sprintf(`const p=require('./package.json');process.exit(p.scripts&&p.scripts[%q]?0:1)`, name)
	res, err := v.containers.Exec(ctx, projectID, []string{"node", "-e", script}, containers.ExecOptions{Cwd: repoPath, Timeout: 5 * time.Second})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (v *Verifier) npmVersion(ctx context.Context, projectID, repoPath string) string {
	res, err := v.containers.Exec(ctx, projectID, []string{"npm", "--version"}, containers.ExecOptions{Cwd: repoPath, Timeout: 5 * time.Second})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (v *Verifier) findBuildOutputDirs(ctx context.Context, projectID, repoPath string) []string {
	script := "for d in " + strings.Join(buildOutputCandidates, " ") + `; do [ -d "$d" ] && echo "$d"; done`
	res, err := v.containers.Exec(ctx, projectID, []string{"sh", "-c", script}, containers.ExecOptions{Cwd: repoPath, Timeout: 5 * time.Second})
	if err != nil || res.Stdout == "" {
		return nil
	}
	var dirs []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			dirs = append(dirs, line)
		}
	}
	return dirs
}

func (v *Verifier) cleanNodeModules(ctx context.Context, projectID, repoPath string) {
	_, _ = v.containers.Exec(ctx, projectID, []string{"rm", "-rf", "node_modules"}, containers.ExecOptions{Cwd: repoPath, Timeout: 20 * time.Second})
}

// parsePorcelainFiles extracts file paths from `git status --porcelain`.
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

func slug(stage string) string {
	return strings.ReplaceAll(strings.ReplaceAll(stage, " ", "_"), "/", "_")
}
