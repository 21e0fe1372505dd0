// Package projection implements the Status Projection (§4.I): a
// derived, never-authoritative read model computed from the latest
// TaskContext and task list on every read. Projection reads are
// constant-time with respect to execution history since they only
// touch the current TaskContext snapshot, the task list's current
// size, and the persisted completion-mark count — never the full
// sequence of prior node transitions. A read may be served from the
// Redis-backed cache keyed by (projectId, executionId) when present,
// grounded on the donor's dangling cache.NewFromRedis/cache.RedisCache
// reference (also completed here by internal/idempotency).
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/devteam-runner/internal/database"
	"github.com/jordanhubbard/devteam-runner/internal/tasklist"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

const taskListFileName = "task_lists.md"

// CacheTTL bounds how long a computed projection may be served from
// cache before the next read recomputes it from TaskContext (§3:
// "StatusProjection... may be cached per (projectId, executionId)").
const CacheTTL = 2 * time.Second

// Computer derives StatusProjection values from the stores that own
// the underlying TaskContext, Execution, and task-list completion
// state (§4.I). It never writes to any of them.
type Computer struct {
	Executions    *database.ExecutionStore
	TaskContexts  *database.TaskContextStore
	TaskLists     *database.TaskListStore
	cache         *redis.Client
}

// NewComputer builds a Computer. cacheAddr may be empty to disable the
// read cache entirely (every Compute call recomputes from the stores).
func NewComputer(executions *database.ExecutionStore, taskContexts *database.TaskContextStore, taskLists *database.TaskListStore, cacheAddr, cachePassword string, cacheDB int) *Computer {
	c := &Computer{Executions: executions, TaskContexts: taskContexts, TaskLists: taskLists}
	if cacheAddr != "" {
		c.cache = redis.NewClient(&redis.Options{Addr: cacheAddr, Password: cachePassword, DB: cacheDB})
	}
	return c
}

func cacheKey(projectID, executionID string) string {
	return fmt.Sprintf("projection:%s:%s", projectID, executionID)
}

// Compute derives the StatusProjection for executionID, consulting the
// read cache first when one is configured.
func (c *Computer) Compute(ctx context.Context, executionID string) (*models.StatusProjection, error) {
	exec, err := c.Executions.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	if c.cache != nil {
		if cached, err := c.readCache(ctx, exec.ProjectID, executionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	tc, err := c.TaskContexts.Load(ctx, executionID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load task context for %s: %w", executionID, err)
	}

	proj := fromExecution(exec)
	if tc != nil {
		applyTaskContext(proj, tc)

		entries, _, err := tasklist.Load(filepath.Join(tc.Metadata.RepoPath, taskListFileName))
		if err == nil {
			proj.Totals.Total = len(entries)
		}
	}

	if completed, err := c.TaskLists.CountCompleted(ctx, exec.ProjectID); err == nil {
		proj.Totals.Completed = completed
	}
	proj.Progress = Round1(100 * float64(proj.Totals.Completed) / float64(max(proj.Totals.Total, 1)))

	if c.cache != nil {
		c.writeCache(ctx, exec.ProjectID, executionID, proj)
	}
	return proj, nil
}

func fromExecution(exec *models.Execution) *models.StatusProjection {
	proj := &models.StatusProjection{
		ExecutionID: exec.ExecutionID,
		ProjectID:   exec.ProjectID,
		Status:      exec.Status,
		StartedAt:   &exec.CreatedAt,
		UpdatedAt:   &exec.UpdatedAt,
	}
	return proj
}

func applyTaskContext(proj *models.StatusProjection, tc *models.TaskContext) {
	if tc.Metadata.TaskID != "" && proj.Status != models.StatusDone {
		taskID := tc.Metadata.TaskID
		proj.CurrentTask = &taskID
	}
	if tc.Metadata.Branch != "" {
		branch := tc.Metadata.Branch
		proj.Branch = &branch
	}
	proj.Artifacts = models.Artifacts{
		RepoPath:      tc.Metadata.RepoPath,
		Branch:        tc.Metadata.Branch,
		Logs:          tc.Metadata.Logs,
		FilesModified: tc.Metadata.FilesModified,
	}
	if !tc.Metadata.StartedAt.IsZero() {
		proj.StartedAt = &tc.Metadata.StartedAt
	}
}

// Round1 rounds to one decimal place, per §3 invariant 3's
// "progress = 100 × completed / max(total,1) rounded to one decimal."
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Computer) readCache(ctx context.Context, projectID, executionID string) (*models.StatusProjection, error) {
	data, err := c.cache.Get(ctx, cacheKey(projectID, executionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var proj models.StatusProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, err
	}
	return &proj, nil
}

func (c *Computer) writeCache(ctx context.Context, projectID, executionID string, proj *models.StatusProjection) {
	data, err := json.Marshal(proj)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, cacheKey(projectID, executionID), data, CacheTTL).Err()
}

// Invalidate drops any cached projection for executionID, so the next
// read recomputes from a freshly persisted TaskContext. Callers invoke
// this right after a Workflow Engine node persists a new snapshot.
func (c *Computer) Invalidate(ctx context.Context, projectID, executionID string) {
	if c.cache == nil {
		return
	}
	_ = c.cache.Del(ctx, cacheKey(projectID, executionID)).Err()
}

// Close releases the cache connection, if any.
func (c *Computer) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}
