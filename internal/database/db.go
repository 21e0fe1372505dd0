// Package database persists the Event Store (§4.C) and the Task
// Execution State Machine's durable state (§4.F, §6.3 persisted
// layout): events, executions, task_context snapshots, and task-list
// completion marks. Grounded on the donor's internal/database
// (PostgreSQL connection setup, ?→$N rebind helper) and stripped of
// every chat-product table (providers, agents, org charts, comments,
// conversations, credentials) that has no place in this domain.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the runner's PostgreSQL connection.
type DB struct {
	db *sql.DB
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Open connects to Postgres via dsn and ensures the schema exists.
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.initSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return d, nil
}

// initSchema creates the persisted layout from §6.3/SPEC_FULL's
// addendum: events, executions (one partial-unique-index live
// execution per project), task_contexts (snapshot replace), and
// task_list_state (completion marks separate from the task list file).
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		correlation_id TEXT,
		idempotency_key TEXT,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idempotency
		ON events(project_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id);

	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		event_id TEXT NOT NULL REFERENCES events(id),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_one_live_per_project
		ON executions(project_id)
		WHERE status IN ('queued', 'initializing', 'running', 'paused');
	CREATE INDEX IF NOT EXISTS idx_executions_project_id ON executions(project_id);

	CREATE TABLE IF NOT EXISTS task_contexts (
		execution_id TEXT PRIMARY KEY REFERENCES executions(execution_id),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		data JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_list_state (
		project_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (project_id, task_id)
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL returns the underlying *sql.DB for components that need direct access.
func (d *DB) SQL() *sql.DB {
	return d.db
}
