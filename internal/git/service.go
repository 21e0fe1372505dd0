// Package git wraps the git operations needed by the Repository Cache
// Manager (§4.A) and the Task Execution State Machine's MERGE/PUSH
// states (§4.F): clone, fetch, task-branch checkout, commit, merge
// (fast-forward or merge commit, with conflict detection), and push.
package git

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// GitService provides git operations for one project's working tree.
type GitService struct {
	projectPath   string
	projectID     string
	projectKeyDir string // base directory for per-project SSH keys
	branchPrefix  string // configurable branch prefix, default "task/"
	auditLogger   *AuditLogger
}

// NewGitService creates a new git service instance bound to an
// already-checked-out working tree. projectKeyDir is optional — if
// empty, defaults to /app/data/projects.
func NewGitService(projectPath, projectID string, projectKeyDir ...string) (*GitService, error) {
	if !isGitRepo(projectPath) {
		return nil, fmt.Errorf("not a git repository: %s", projectPath)
	}

	auditLogger, err := NewAuditLogger(projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	keyDir := filepath.Join("/app/data", "projects")
	if len(projectKeyDir) > 0 && projectKeyDir[0] != "" {
		keyDir = projectKeyDir[0]
	}

	return &GitService{
		projectPath:   projectPath,
		projectID:     projectID,
		projectKeyDir: keyDir,
		branchPrefix:  "task/",
		auditLogger:   auditLogger,
	}, nil
}

// SetBranchPrefix configures the task branch prefix (default: "task/").
func (s *GitService) SetBranchPrefix(prefix string) {
	if prefix != "" {
		s.branchPrefix = prefix
	}
}

// Clone clones repoURL into destPath and returns a GitService bound to
// it. Used by the Repository Cache Manager's first ensure() for a
// project (§4.A).
func Clone(ctx context.Context, repoURL, destPath, projectID string, keyDir ...string) (*GitService, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", repoURL, destPath)
	cmd.Env = os.Environ()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git clone failed: %w\noutput: %s", err, output)
	}
	return NewGitService(destPath, projectID, keyDir...)
}

// GetDefaultBranch returns the repository's default branch, resolved
// from the remote HEAD symref (§4.A getDefaultBranch).
func (s *GitService) GetDefaultBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Remote HEAD symref may be missing on a shallow or freshly
		// cloned mirror; fall back to the current branch.
		return s.getCurrentBranch(ctx)
	}
	ref := strings.TrimSpace(string(output))
	return strings.TrimPrefix(ref, "refs/remotes/origin/"), nil
}

// CreateBranchRequest defines parameters for task branch creation.
type CreateBranchRequest struct {
	TaskID     string // dotted task identifier, used in branch naming
	Title      string // human-readable title, slugified into the branch name
	BaseBranch string // base branch (default: current)
}

// CreateBranchResult contains branch creation results.
type CreateBranchResult struct {
	BranchName string `json:"branch_name"`
	Created    bool   `json:"created"`
	Existed    bool   `json:"existed"`
}

// CreateTaskBranch creates (or reuses) the task branch named per
// §6.4: "task/<dotted-id>-<slugified-title>" truncated to 64 chars.
func (s *GitService) CreateTaskBranch(ctx context.Context, req CreateBranchRequest) (*CreateBranchResult, error) {
	startTime := time.Now()

	branchName := s.generateTaskBranchName(req.TaskID, req.Title)
	if err := validateBranchNameWithPrefix(branchName, s.branchPrefix); err != nil {
		s.auditLogger.LogOperation("create_branch", req.TaskID, "", false, err)
		return nil, fmt.Errorf("invalid branch name: %w", err)
	}

	exists, err := s.branchExists(ctx, branchName)
	if err != nil {
		s.auditLogger.LogOperation("create_branch", req.TaskID, branchName, false, err)
		return nil, fmt.Errorf("failed to check branch existence: %w", err)
	}
	if exists {
		cmd := exec.CommandContext(ctx, "git", "checkout", branchName)
		cmd.Dir = s.projectPath
		if output, err := cmd.CombinedOutput(); err != nil {
			s.auditLogger.LogOperation("create_branch", req.TaskID, branchName, false, err)
			return nil, fmt.Errorf("git checkout failed: %w\noutput: %s", err, output)
		}
		s.auditLogger.LogOperation("create_branch", req.TaskID, branchName, true, nil)
		return &CreateBranchResult{BranchName: branchName, Created: false, Existed: true}, nil
	}

	args := []string{"checkout", "-b", branchName}
	if req.BaseBranch != "" {
		args = append(args, req.BaseBranch)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.auditLogger.LogOperation("create_branch", req.TaskID, branchName, false, err)
		return nil, fmt.Errorf("git checkout failed: %w\noutput: %s", err, output)
	}

	s.auditLogger.LogOperationWithDuration("create_branch", req.TaskID, branchName, true, nil, time.Since(startTime))
	return &CreateBranchResult{BranchName: branchName, Created: true, Existed: false}, nil
}

// generateTaskBranchName implements §6.4's naming rule.
func (s *GitService) generateTaskBranchName(taskID, title string) string {
	slug := slugify(title)
	name := fmt.Sprintf("%s%s-%s", s.branchPrefix, taskID, slug)
	if len(name) > 64 {
		name = name[:64]
	}
	return strings.TrimRight(name, "-")
}

// CommitRequest defines parameters for creating a commit.
type CommitRequest struct {
	TaskID   string
	Message  string
	Files    []string
	AllowAll bool
}

// CommitResult contains commit creation results.
type CommitResult struct {
	CommitSHA    string   `json:"commit_sha"`
	FilesChanged int      `json:"files_changed"`
	Insertions   int      `json:"insertions"`
	Deletions    int      `json:"deletions"`
	Files        []string `json:"files"`
}

// Commit creates a new commit with task-id attribution.
func (s *GitService) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	startTime := time.Now()

	req.Message = ensureCommitMetadata(req.Message, req.TaskID)

	if err := s.stageFiles(ctx, req.Files, req.AllowAll); err != nil {
		s.auditLogger.LogOperation("commit", req.TaskID, "", false, err)
		return nil, fmt.Errorf("failed to stage files: %w", err)
	}

	if err := s.checkForSecrets(ctx); err != nil {
		s.auditLogger.LogOperation("commit", req.TaskID, "", false, err)
		return nil, fmt.Errorf("secret detected: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "commit", "-m", req.Message)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.auditLogger.LogOperation("commit", req.TaskID, "", false, err)
		return nil, fmt.Errorf("git commit failed: %w\noutput: %s", err, output)
	}

	commitSHA, err := s.getLastCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit SHA: %w", err)
	}
	stats, err := s.getCommitStats(ctx, commitSHA)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit stats: %w", err)
	}

	s.auditLogger.LogOperationWithDuration("commit", req.TaskID, commitSHA, true, nil, time.Since(startTime))
	return stats, nil
}

// PushRequest defines parameters for pushing to remote.
type PushRequest struct {
	TaskID      string
	Branch      string
	SetUpstream bool
}

// PushResult contains push operation results.
type PushResult struct {
	Branch  string `json:"branch"`
	Remote  string `json:"remote"`
	Success bool   `json:"success"`
}

// Push pushes a branch to origin. Callers (the State Machine's PUSH
// state, §4.F) are responsible for retrying on network failure per
// §7 PushError{network} semantics — this call is a single attempt.
func (s *GitService) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	startTime := time.Now()

	branch := req.Branch
	if branch == "" {
		var err error
		branch, err = s.getCurrentBranch(ctx)
		if err != nil {
			s.auditLogger.LogOperation("push", req.TaskID, "", false, err)
			return nil, fmt.Errorf("failed to get current branch: %w", err)
		}
	}

	if err := s.configureAuth(); err != nil {
		s.auditLogger.LogOperation("push", req.TaskID, branch, false, err)
		return nil, fmt.Errorf("failed to configure git auth: %w", err)
	}

	args := []string{"push"}
	if req.SetUpstream {
		args = append(args, "-u")
	}
	args = append(args, "origin", branch)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.projectPath
	cmd.Env = s.buildEnv()
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.auditLogger.LogOperation("push", req.TaskID, branch, false, err)
		return nil, fmt.Errorf("git push failed: %w\noutput: %s", err, output)
	}

	s.auditLogger.LogOperationWithDuration("push", req.TaskID, branch, true, nil, time.Since(startTime))
	return &PushResult{Branch: branch, Remote: "origin", Success: true}, nil
}

// GetStatusPorcelain returns `git status --porcelain`, used by the
// Code-Change Executor (§4.G) to corroborate the tool's reported file list.
func (s *GitService) GetStatusPorcelain(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git status failed: %w", err)
	}
	return string(output), nil
}

// GetDiff returns `git diff` (or `git diff --staged`).
func (s *GitService) GetDiff(ctx context.Context, staged bool) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--staged")
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git diff failed: %w", err)
	}
	return string(output), nil
}

// DiffSinceBranchPoint returns `git diff HEAD~1` if a new commit
// exists on the current branch, or the diff against baseBranch
// otherwise (§4.G artifact capture).
func (s *GitService) DiffSinceBranchPoint(ctx context.Context, baseBranch string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD~1")
	cmd.Dir = s.projectPath
	if err := cmd.Run(); err == nil {
		diffCmd := exec.CommandContext(ctx, "git", "diff", "HEAD~1")
		diffCmd.Dir = s.projectPath
		out, err := diffCmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("git diff HEAD~1 failed: %w", err)
		}
		return string(out), nil
	}
	diffCmd := exec.CommandContext(ctx, "git", "diff", baseBranch)
	diffCmd.Dir = s.projectPath
	out, err := diffCmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git diff %s failed: %w", baseBranch, err)
	}
	return string(out), nil
}

// MergeRequest defines parameters for merging a task branch into the
// default branch (§4.F MERGE).
type MergeRequest struct {
	TaskID       string
	SourceBranch string
	Message      string
}

// MergeResult contains merge operation results.
type MergeResult struct {
	MergedBranch string `json:"merged_branch"`
	CommitSHA    string `json:"commit_sha"`
	FastForward  bool   `json:"fast_forward"`
	Success      bool   `json:"success"`
}

// Merge fast-forwards the source branch into the current branch when
// possible, or creates a merge commit otherwise. A conflict aborts the
// merge and returns an error the caller should classify as
// runnerrors.MergeError (never retried, §7).
func (s *GitService) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	startTime := time.Now()

	exists, err := s.branchExists(ctx, req.SourceBranch)
	if err != nil {
		s.auditLogger.LogOperation("merge", req.TaskID, req.SourceBranch, false, err)
		return nil, fmt.Errorf("failed to check branch: %w", err)
	}
	if !exists {
		err := fmt.Errorf("source branch does not exist: %s", req.SourceBranch)
		s.auditLogger.LogOperation("merge", req.TaskID, req.SourceBranch, false, err)
		return nil, err
	}

	ffCmd := exec.CommandContext(ctx, "git", "merge", "--ff-only", req.SourceBranch)
	ffCmd.Dir = s.projectPath
	if output, err := ffCmd.CombinedOutput(); err == nil {
		commitSHA, _ := s.getLastCommitSHA(ctx)
		s.auditLogger.LogOperationWithDuration("merge", req.TaskID, req.SourceBranch, true, nil, time.Since(startTime))
		return &MergeResult{MergedBranch: req.SourceBranch, CommitSHA: commitSHA, FastForward: true, Success: true}, nil
	} else {
		_ = output
	}

	args := []string{"merge", "--no-ff"}
	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Merge %s", req.SourceBranch)
	}
	args = append(args, "-m", msg, req.SourceBranch)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "CONFLICT") {
			abortCmd := exec.CommandContext(ctx, "git", "merge", "--abort")
			abortCmd.Dir = s.projectPath
			_ = abortCmd.Run()
			conflictErr := fmt.Errorf("merge conflict detected, merge aborted: %s", string(output))
			s.auditLogger.LogOperation("merge", req.TaskID, req.SourceBranch, false, conflictErr)
			return nil, conflictErr
		}
		s.auditLogger.LogOperation("merge", req.TaskID, req.SourceBranch, false, err)
		return nil, fmt.Errorf("git merge failed: %w\noutput: %s", err, output)
	}

	commitSHA, _ := s.getLastCommitSHA(ctx)
	s.auditLogger.LogOperationWithDuration("merge", req.TaskID, req.SourceBranch, true, nil, time.Since(startTime))
	return &MergeResult{MergedBranch: req.SourceBranch, CommitSHA: commitSHA, FastForward: false, Success: true}, nil
}

// Fetch fetches remote refs (retried by the Repository Cache Manager
// per §4.A, §7 RepoError{fetch}).
func (s *GitService) Fetch(ctx context.Context) error {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, "git", "fetch", "--prune")
	cmd.Dir = s.projectPath
	cmd.Env = s.buildEnv()
	output, err := cmd.CombinedOutput()
	if err != nil {
		s.auditLogger.LogOperation("fetch", "", "", false, err)
		return fmt.Errorf("git fetch failed: %w\noutput: %s", err, output)
	}
	s.auditLogger.LogOperationWithDuration("fetch", "", "", true, nil, time.Since(startTime))
	return nil
}

// FastForwardDefaultBranch fast-forwards the local default branch to
// match origin after a fetch (§4.A "subsequent calls perform fetch and
// fast-forward the default branch").
func (s *GitService) FastForwardDefaultBranch(ctx context.Context, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "checkout", branch)
	cmd.Dir = s.projectPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed: %w\noutput: %s", branch, err, output)
	}
	cmd = exec.CommandContext(ctx, "git", "merge", "--ff-only", "origin/"+branch)
	cmd.Dir = s.projectPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git ff-merge origin/%s failed: %w\noutput: %s", branch, err, output)
	}
	return nil
}

// Helper functions.

func (s *GitService) branchExists(ctx context.Context, branchName string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", branchName)
	cmd.Dir = s.projectPath
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *GitService) getCurrentBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (s *GitService) stageFiles(ctx context.Context, files []string, allowAll bool) error {
	if len(files) == 0 && !allowAll {
		return fmt.Errorf("no files specified and allowAll is false")
	}

	var args []string
	if allowAll {
		args = []string{"add", "-A"}
	} else {
		args = append([]string{"add"}, files...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git add failed: %w\noutput: %s", err, output)
	}
	return nil
}

func (s *GitService) checkForSecrets(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "diff", "--staged", "--name-only")
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to get staged files: %w", err)
	}

	files := strings.Split(strings.TrimSpace(string(output)), "\n")
	for _, file := range files {
		if file == "" {
			continue
		}

		base := filepath.Base(file)
		for _, pattern := range sensitiveFilePatterns {
			if strings.EqualFold(base, pattern) {
				return fmt.Errorf("sensitive file must not be committed: %s", file)
			}
		}

		filePath := filepath.Join(s.projectPath, file)
		content, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}

		if hasSecrets(content) {
			return fmt.Errorf("potential secret detected in %s", file)
		}
	}

	return nil
}

func (s *GitService) getLastCommitSHA(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to get commit SHA: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (s *GitService) getCommitStats(ctx context.Context, commitSHA string) (*CommitResult, error) {
	cmd := exec.CommandContext(ctx, "git", "show", "--stat", "--format=%H", commitSHA)
	cmd.Dir = s.projectPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to get commit stats: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	var files []string
	var insertions, deletions int

	for _, line := range lines {
		if strings.Contains(line, "file changed") || strings.Contains(line, "files changed") {
			_, _ = fmt.Sscanf(line, "%d files changed, %d insertions(+), %d deletions(-)", &insertions, &deletions)
		} else if strings.Contains(line, "|") {
			parts := strings.Split(line, "|")
			if len(parts) > 0 {
				files = append(files, strings.TrimSpace(parts[0]))
			}
		}
	}

	return &CommitResult{
		CommitSHA:    commitSHA,
		FilesChanged: len(files),
		Insertions:   insertions,
		Deletions:    deletions,
		Files:        files,
	}, nil
}

// configureAuth configures authentication for git push/fetch
// operations. Tries SSH deploy keys first; falls back to
// GITHUB_TOKEN/GITLAB_TOKEN via the GIT_ASKPASS helper.
func (s *GitService) configureAuth() error {
	keyPath := filepath.Join(s.projectKeyDir, s.projectID, "ssh", "id_ed25519")
	if !filepath.IsAbs(keyPath) {
		if abs, err := filepath.Abs(keyPath); err == nil {
			keyPath = abs
		}
	}

	if _, err := os.Stat(keyPath); err == nil {
		os.Setenv("GIT_SSH_COMMAND", fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", keyPath))
		return nil
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GITLAB_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no git credentials: SSH key not found at %s and no GITHUB_TOKEN/GITLAB_TOKEN set", keyPath)
	}

	os.Setenv("GIT_TERMINAL_PROMPT", "0")
	os.Setenv("GIT_ASKPASS", "/usr/local/bin/git-askpass-helper")
	os.Setenv("GIT_TOKEN", token)
	return nil
}

func (s *GitService) buildEnv() []string {
	return os.Environ()
}

var (
	protectedBranchPatterns = []string{
		"^main$",
		"^master$",
		"^production$",
		"^release/.*",
		"^hotfix/.*",
	}

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api[_-]?key[_-]?[:=]\s*['"][a-zA-Z0-9]{20,}['"]`),
		regexp.MustCompile(`(?i)secret[_-]?key[_-]?[:=]\s*['"][a-zA-Z0-9]{20,}['"]`),
		regexp.MustCompile(`(?i)token[_-]?[:=]\s*['"][a-zA-Z0-9]{20,}['"]`),
		regexp.MustCompile(`(?i)aws[_-]?access[_-]?key[_-]?id\s*[:=]\s*['"]AKIA[0-9A-Z]{16}['"]`),
		regexp.MustCompile(`-----BEGIN (RSA|DSA|EC|OPENSSH) PRIVATE KEY-----`),
	}

	sensitiveFilePatterns = []string{
		".keys.json",
		".keystore",
		".keystore.json",
		".env",
		"bootstrap.local",
	}
)

func validateBranchNameWithPrefix(branchName, prefix string) error {
	if !strings.HasPrefix(branchName, prefix) {
		return fmt.Errorf("branch name must start with '%s', got: %s", prefix, branchName)
	}
	if len(branchName) > 64 {
		return fmt.Errorf("branch name too long (max 64 chars): %s", branchName)
	}
	if strings.ContainsAny(branchName, " \t\n\r") {
		return fmt.Errorf("branch name contains whitespace: %s", branchName)
	}
	return nil
}

// ensureCommitMetadata appends a Task trailer if not already present,
// and truncates the summary line if too long.
func ensureCommitMetadata(message, taskID string) string {
	if message == "" {
		message = "Automated change"
	}

	lines := strings.SplitN(message, "\n", 2)
	if len(lines[0]) > 72 {
		lines[0] = lines[0][:69] + "..."
	}
	message = strings.Join(lines, "\n")

	if taskID != "" && !strings.Contains(message, taskID) {
		message += fmt.Sprintf("\n\nTask: %s", taskID)
	}

	return message
}

func isProtectedBranch(branchName string) bool {
	for _, pattern := range protectedBranchPatterns {
		matched, _ := regexp.MatchString(pattern, branchName)
		if matched {
			return true
		}
	}
	return false
}

func hasSecrets(content []byte) bool {
	for _, pattern := range secretPatterns {
		if pattern.Match(content) {
			return true
		}
	}
	return false
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	reg := regexp.MustCompile(`[^a-z0-9-]+`)
	s = reg.ReplaceAllString(s, "")
	reg = regexp.MustCompile(`-+`)
	s = reg.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func isGitRepo(path string) bool {
	gitDir := filepath.Join(path, ".git")
	info, err := os.Stat(gitDir)
	return err == nil && info.IsDir()
}

// AuditLogger logs git operations for security audit, one JSON line
// per operation under the project's data directory.
type AuditLogger struct {
	projectID string
	logPath   string
}

func NewAuditLogger(projectID string) (*AuditLogger, error) {
	logDir := filepath.Join(os.Getenv("HOME"), ".devteam-runner", "projects", projectID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &AuditLogger{
		projectID: projectID,
		logPath:   filepath.Join(logDir, "git_audit.log"),
	}, nil
}

func (l *AuditLogger) LogOperation(operation, taskID, ref string, success bool, err error) {
	l.LogOperationWithDuration(operation, taskID, ref, success, err, 0)
}

func (l *AuditLogger) LogOperationWithDuration(operation, taskID, ref string, success bool, err error, duration time.Duration) {
	entry := map[string]interface{}{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"operation":   operation,
		"task_id":     taskID,
		"project_id":  l.projectID,
		"ref":         ref,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		entry["error"] = err.Error()
	}

	data, _ := json.Marshal(entry)
	f, openErr := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if openErr != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(data)
	_, _ = f.Write([]byte("\n"))
}
