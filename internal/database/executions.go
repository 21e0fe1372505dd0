package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// ErrLiveExecutionExists is returned by Create when the
// project already has a live execution, enforcing §3's invariant that
// at most one of {queued, initializing, running, paused} may exist per
// project at a time via idx_executions_one_live_per_project.
var ErrLiveExecutionExists = fmt.Errorf("project already has a live execution")

// ExecutionStore implements the Execution lifecycle half of the Task
// Execution State Machine's durable state (§4.F, §3).
type ExecutionStore struct {
	db *DB
}

func NewExecutionStore(db *DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create starts a new execution for projectID driven by eventID. It
// fails with ErrLiveExecutionExists if the project already has a live
// execution, since the DB's partial unique index rejects the insert.
func (s *ExecutionStore) Create(ctx context.Context, projectID, eventID string) (*models.Execution, error) {
	exec := &models.Execution{
		ExecutionID: uuid.New().String(),
		ProjectID:   projectID,
		EventID:     eventID,
		Status:      models.StatusQueued,
	}

	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		INSERT INTO executions (execution_id, project_id, event_id, status)
		VALUES (?, ?, ?, ?)
		RETURNING created_at, updated_at
	`), exec.ExecutionID, exec.ProjectID, exec.EventID, string(exec.Status))

	if err := row.Scan(&exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrLiveExecutionExists
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return exec, nil
}

// Get retrieves an execution by ID.
func (s *ExecutionStore) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT execution_id, project_id, event_id, status, created_at, updated_at
		FROM executions WHERE execution_id = ?
	`), executionID)
	return scanExecution(row)
}

// GetLiveForProject returns the project's current live execution, if
// any, allowing a redelivered queue message to resume in place rather
// than starting a second one (§4.D: "redelivery... is a no-op resume
// signal").
func (s *ExecutionStore) GetLiveForProject(ctx context.Context, projectID string) (*models.Execution, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT execution_id, project_id, event_id, status, created_at, updated_at
		FROM executions
		WHERE project_id = ? AND status IN ('queued', 'initializing', 'running', 'paused')
	`), projectID)
	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return exec, nil
}

// GetLatestForProject returns the most recently created execution for
// projectID regardless of status, for status reads after an execution
// has reached a terminal state and is no longer "live" (§4.I).
func (s *ExecutionStore) GetLatestForProject(ctx context.Context, projectID string) (*models.Execution, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT execution_id, project_id, event_id, status, created_at, updated_at
		FROM executions
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`), projectID)
	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return exec, nil
}

// GetByEventID returns the execution created for eventID, letting a
// replayed idempotent initialize request resolve the same executionId
// the original request received (§8: "identical executionId and
// eventId returned").
func (s *ExecutionStore) GetByEventID(ctx context.Context, eventID string) (*models.Execution, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT execution_id, project_id, event_id, status, created_at, updated_at
		FROM executions WHERE event_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`), eventID)
	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return exec, nil
}

// UpdateStatus transitions an execution to newStatus, stamping updated_at.
func (s *ExecutionStore) UpdateStatus(ctx context.Context, executionID string, newStatus models.ExecutionStatus) error {
	res, err := s.db.SQL().ExecContext(ctx, rebind(`
		UPDATE executions SET status = ?, updated_at = now() WHERE execution_id = ?
	`), string(newStatus), executionID)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution %s not found", executionID)
	}
	return nil
}

func scanExecution(row *sql.Row) (*models.Execution, error) {
	var e models.Execution
	var status string
	if err := row.Scan(&e.ExecutionID, &e.ProjectID, &e.EventID, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = models.ExecutionStatus(status)
	return &e, nil
}
