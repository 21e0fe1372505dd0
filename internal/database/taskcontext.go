package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// TaskContextStore persists the canonical per-execution TaskContext by
// snapshot replace after every node transition (§3: "TaskContext is
// persisted in full after every node transition, not appended").
type TaskContextStore struct {
	db *DB
}

func NewTaskContextStore(db *DB) *TaskContextStore {
	return &TaskContextStore{db: db}
}

// Save overwrites the stored snapshot for executionID.
func (s *TaskContextStore) Save(ctx context.Context, executionID string, tc *models.TaskContext) error {
	data, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}

	_, err = s.db.SQL().ExecContext(ctx, rebind(`
		INSERT INTO task_contexts (execution_id, updated_at, data)
		VALUES (?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, data = EXCLUDED.data
	`), executionID, time.Now(), data)
	if err != nil {
		return fmt.Errorf("save task context: %w", err)
	}
	return nil
}

// Load retrieves the current snapshot for executionID, or
// sql.ErrNoRows if none has been saved yet.
func (s *TaskContextStore) Load(ctx context.Context, executionID string) (*models.TaskContext, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT data FROM task_contexts WHERE execution_id = ?
	`), executionID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("load task context: %w", err)
	}

	var tc models.TaskContext
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("unmarshal task context: %w", err)
	}
	return &tc, nil
}

// TaskListStore records completion marks for individual task_lists.md
// entries separately from the source file, so re-parsing the file
// never loses completion state already recorded by the executor.
type TaskListStore struct {
	db *DB
}

func NewTaskListStore(db *DB) *TaskListStore {
	return &TaskListStore{db: db}
}

// MarkCompleted records taskID as completed for projectID.
func (s *TaskListStore) MarkCompleted(ctx context.Context, projectID, taskID string) error {
	_, err := s.db.SQL().ExecContext(ctx, rebind(`
		INSERT INTO task_list_state (project_id, task_id, completed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id, task_id) DO UPDATE SET completed_at = EXCLUDED.completed_at
	`), projectID, taskID, time.Now())
	if err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	return nil
}

// CompletedTaskIDs returns the IDs of every completed task for projectID.
func (s *TaskListStore) CompletedTaskIDs(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := s.db.SQL().QueryContext(ctx, rebind(`
		SELECT task_id FROM task_list_state WHERE project_id = ? AND completed_at IS NOT NULL
	`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query completed tasks: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("scan completed task: %w", err)
		}
		completed[taskID] = true
	}
	return completed, rows.Err()
}

// CountCompleted returns the number of completed tasks for projectID,
// feeding the Status Projection's totals.completed (§4.I).
func (s *TaskListStore) CountCompleted(ctx context.Context, projectID string) (int, error) {
	var n int
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT count(*) FROM task_list_state WHERE project_id = ? AND completed_at IS NOT NULL
	`), projectID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count completed tasks: %w", err)
	}
	return n, nil
}
