// Package models holds the data types shared across the runner: the
// wire/persistence shapes described by the event store, the task
// execution state machine, and the status projection.
package models

import "time"

// EventType enumerates the kinds of inbound events the Automation API accepts.
type EventType string

const (
	EventTypeDevTeamAutomation EventType = "DEVTEAM_AUTOMATION"
	EventTypePlaceholder       EventType = "PLACEHOLDER"
)

// ExecutionStatus is the closed enum driving the Task Execution State Machine.
type ExecutionStatus string

const (
	StatusQueued       ExecutionStatus = "queued"
	StatusInitializing ExecutionStatus = "initializing"
	StatusRunning      ExecutionStatus = "running"
	StatusPaused       ExecutionStatus = "paused"
	StatusStopped      ExecutionStatus = "stopped"
	StatusDone         ExecutionStatus = "done"
	StatusError        ExecutionStatus = "error"
)

// Live reports whether the status counts as "live" per the data model
// invariant: at most one live execution exists per project.
func (s ExecutionStatus) Live() bool {
	switch s {
	case StatusQueued, StatusInitializing, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusStopped, StatusError:
		return true
	default:
		return false
	}
}

// Event is the immutable, append-only record produced by event ingestion.
type Event struct {
	ID             string                 `json:"id"`
	Type           EventType              `json:"type"`
	ProjectID      string                 `json:"project_id"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Payload        map[string]interface{} `json:"payload"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Execution tracks one run of the state machine for a project.
type Execution struct {
	ExecutionID string          `json:"execution_id"`
	ProjectID   string          `json:"project_id"`
	EventID     string          `json:"event_id"`
	Status      ExecutionStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TaskListEntry is a single atomic task read from task_lists.md.
// Parsing is lenient and never fails on a missing field: a missing
// title defaults to TaskID and is reported as a warning, a missing
// criteria map becomes empty, and the other optional fields keep their
// zero values without a warning (see internal/tasklist.Load).
type TaskListEntry struct {
	TaskID       string            `yaml:"id" json:"id"`
	Title        string            `yaml:"title" json:"title"`
	Description  string            `yaml:"description" json:"description"`
	Dependencies []string          `yaml:"dependencies" json:"dependencies"`
	Files        []string          `yaml:"files" json:"files"`
	Criteria     map[string]string `yaml:"criteria" json:"criteria"`
	CompletedAt  *time.Time        `yaml:"-" json:"completed_at,omitempty"`
}

// NodeOutput is the durable record the Workflow Engine keeps for a
// single node's most recent run.
type NodeOutput struct {
	Status    string                 `json:"status"` // success | retryable | fatal
	EventData map[string]interface{} `json:"event_data,omitempty"`
	Artifacts map[string]interface{} `json:"artifacts,omitempty"`
}

// TaskContextMetadata is the metadata block of a TaskContext.
type TaskContextMetadata struct {
	TaskID        string    `json:"taskId"`
	ProjectID     string    `json:"projectId"`
	RepoPath      string    `json:"repoPath"`
	Branch        string    `json:"branch"`
	StartedAt     time.Time `json:"startedAt"`
	Logs          []string  `json:"logs"`
	FilesModified []string  `json:"filesModified"`
}

// TaskContext is the canonical, monotonically growing per-execution
// state carried through the workflow's nodes (§3). It is persisted in
// full after every node transition (snapshot replace, not append).
type TaskContext struct {
	Metadata TaskContextMetadata    `json:"metadata"`
	Nodes    map[string]NodeOutput  `json:"nodes"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

func NewTaskContext(projectID, repoPath string) *TaskContext {
	return &TaskContext{
		Metadata: TaskContextMetadata{
			ProjectID: projectID,
			RepoPath:  repoPath,
			StartedAt: time.Now(),
		},
		Nodes: make(map[string]NodeOutput),
	}
}

// AppendLog appends a log line to the context's metadata.
// TaskContext is a value owned by exactly one node call at a time
// (§3 ownership rule); callers must not share it across goroutines.
func (tc *TaskContext) AppendLog(line string) {
	tc.Metadata.Logs = append(tc.Metadata.Logs, line)
}

func (tc *TaskContext) RecordFileModified(path string) {
	for _, existing := range tc.Metadata.FilesModified {
		if existing == path {
			return
		}
	}
	tc.Metadata.FilesModified = append(tc.Metadata.FilesModified, path)
}

// StatusProjection is the derived, never-authoritative external view
// of an execution (§4.I). It is recomputed from TaskContext + task
// list on every read and may be cached per (projectId, executionId).
type StatusProjection struct {
	ExecutionID   string          `json:"executionId"`
	ProjectID     string          `json:"projectId"`
	Status        ExecutionStatus `json:"status"`
	Progress      float64         `json:"progress"`
	CurrentTask   *string         `json:"currentTask,omitempty"`
	Totals        Totals          `json:"totals"`
	CustomerID    *string         `json:"customerId,omitempty"`
	Branch        *string         `json:"branch,omitempty"`
	Artifacts     Artifacts       `json:"artifacts"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	UpdatedAt     *time.Time      `json:"updatedAt,omitempty"`
}

type Totals struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

type Artifacts struct {
	RepoPath      string   `json:"repoPath"`
	Branch        string   `json:"branch"`
	Logs          []string `json:"logs"`
	FilesModified []string `json:"filesModified"`
}

// ExecutionArtifact is produced by the Code-Change Executor (G) and
// the Build Verifier (H) and stored under the corresponding node in
// TaskContext.Nodes[name].Artifacts.
type ExecutionArtifact struct {
	Diff            string           `json:"diff"`
	Stdout          string           `json:"stdout"`
	Stderr          string           `json:"stderr"`
	ExitCode        int              `json:"exitCode"`
	FilesModified   []string         `json:"filesModified"`
	CommitHash      string           `json:"commitHash,omitempty"`
	ToolVersion     string           `json:"toolVersion"`
	DurationsMs     map[string]int64 `json:"durationsMs"`
	NpmVersion      string           `json:"npmVersion,omitempty"`
	BuildOutputDirs []string         `json:"buildOutputDirs,omitempty"`
}

// RepoCacheEntry tracks a project's on-disk working copy (§3, owned
// exclusively by the Repository Cache Manager).
type RepoCacheEntry struct {
	ProjectID     string    `json:"projectId"`
	LocalPath     string    `json:"localPath"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
	CurrentBranch string    `json:"currentBranch"`
}

// ContainerHandle identifies a project's always-on execution container
// (§3, owned exclusively by the Container Manager).
type ContainerHandle struct {
	ProjectID      string          `json:"projectId"`
	ContainerID    string          `json:"containerId"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastHealthyAt  time.Time       `json:"lastHealthyAt"`
	ResourceLimits ResourceLimits  `json:"resourceLimits"`
}

type ResourceLimits struct {
	CPU    float64 `json:"cpu"`
	MemMiB int64   `json:"memMiB"`
}
