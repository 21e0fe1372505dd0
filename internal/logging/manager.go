// Package logging is the ambient structured logger every other
// package writes through (§7's redaction rule applies here, centrally,
// rather than at each call site) plus a thin persistence layer so a
// node's failure can be correlated back to the execution, project, and
// correlation ID that produced it. It is deliberately not a second
// streaming surface: §4.K's ≤500ms execution-log frames are the WS
// Fabric's job (internal/wsfabric.PublishLog, fed directly from
// internal/temporal/activities), so this package carries no ring
// buffer or subscriber list of its own.
package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry is one persisted, redacted log line.
type LogEntry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Level         string                 `json:"level"`
	Source        string                 `json:"source"`
	Message       string                 `json:"message"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ExecutionID   string                 `json:"executionId,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	ProjectID     string                 `json:"projectId,omitempty"`
	NodeName      string                 `json:"nodeName,omitempty"`
}

// Manager redacts and persists every log line the service emits. A nil
// db degrades it to console-only logging, which is what unit tests
// construct (no audit trail, same redaction and interceptor behavior).
type Manager struct {
	db *sql.DB
}

// NewManager creates a Manager backed by db (the same Postgres pool
// internal/database uses for events and task contexts).
func NewManager(db *sql.DB) *Manager {
	m := &Manager{db: db}
	if err := m.initSchema(); err != nil {
		log.Printf("Warning: Failed to initialize logging schema: %v", err)
	}
	return m
}

// rebindQuery converts ? placeholders to $N for PostgreSQL.
func rebindQuery(query string) string {
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

func (m *Manager) initSchema() error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT,
			execution_id TEXT,
			correlation_id TEXT,
			project_id TEXT,
			node_name TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create logs table: %w", err)
	}
	for _, indexSQL := range []string{
		"CREATE INDEX IF NOT EXISTS idx_logs_execution_id ON logs(execution_id)",
		"CREATE INDEX IF NOT EXISTS idx_logs_project_id ON logs(project_id)",
		"CREATE INDEX IF NOT EXISTS idx_logs_correlation_id ON logs(correlation_id)",
	} {
		if _, err := m.db.Exec(indexSQL); err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	return nil
}

// Log redacts message and metadata (§7) and persists the result
// asynchronously, so a slow or unavailable database never blocks the
// caller's goroutine.
func (m *Manager) Log(level, source, message string, metadata map[string]interface{}) {
	entry := LogEntry{
		ID:        fmt.Sprintf("log-%d", time.Now().UnixNano()),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   Redact(message),
		Metadata:  redactMetadata(metadata),
	}
	entry.ExecutionID = getMetaString(entry.Metadata, "execution_id", "executionId")
	entry.CorrelationID = getMetaString(entry.Metadata, "correlation_id", "correlationId")
	entry.ProjectID = getMetaString(entry.Metadata, "project_id", "projectId")
	entry.NodeName = getMetaString(entry.Metadata, "node_name", "nodeName")

	go m.persistLog(entry)
}

func (m *Manager) persistLog(entry LogEntry) {
	if m.db == nil {
		return
	}

	var metadataJSON *string
	if len(entry.Metadata) > 0 {
		if data, err := json.Marshal(entry.Metadata); err == nil {
			jsonStr := string(data)
			metadataJSON = &jsonStr
		}
	}

	_, err := m.db.Exec(rebindQuery(`
		INSERT INTO logs (id, timestamp, level, source, message, metadata_json, execution_id, correlation_id, project_id, node_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.Timestamp, entry.Level, entry.Source, entry.Message, metadataJSON,
		nullable(entry.ExecutionID), nullable(entry.CorrelationID), nullable(entry.ProjectID), nullable(entry.NodeName))
	if err != nil {
		log.Printf("Failed to persist log entry: %v", err)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// getMetaString looks a string value up under any of keys, so callers
// may pass metadata built with either the API's camelCase or a
// worker's snake_case fields (§6.1's documented dual acceptance).
func getMetaString(meta map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if val, ok := meta[k].(string); ok && val != "" {
			return val
		}
	}
	return ""
}

// Debug logs a debug-level message.
func (m *Manager) Debug(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelDebug, source, message, metadata)
}

// Info logs an info-level message.
func (m *Manager) Info(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelInfo, source, message, metadata)
}

// Warn logs a warning-level message.
func (m *Manager) Warn(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelWarn, source, message, metadata)
}

// Error logs an error-level message.
func (m *Manager) Error(source, message string, metadata map[string]interface{}) {
	m.Log(LogLevelError, source, message, metadata)
}

// logInterceptWriter implements io.Writer so output from the standard
// log package — used by internal/messagebus, internal/telemetry,
// internal/config, and cmd/runner itself — is redacted and persisted
// through this manager instead of going straight to stderr unredacted.
type logInterceptWriter struct {
	manager *Manager
}

// Write parses the "[Component] message" convention this repo's own
// log.Printf call sites use (e.g. "[Config] reload %s failed") into a
// source tag, falling back to level sniffing on the remaining text.
func (w *logInterceptWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if len(msg) > 20 && msg[4] == '/' && msg[7] == '/' && msg[10] == ' ' {
		msg = strings.TrimSpace(msg[20:])
	}

	level := LogLevelInfo
	source := "system"

	lowerMsg := strings.ToLower(msg)
	switch {
	case strings.Contains(lowerMsg, "error") || strings.Contains(lowerMsg, "fail"):
		level = LogLevelError
	case strings.Contains(lowerMsg, "warn"):
		level = LogLevelWarn
	}

	if len(msg) > 2 && msg[0] == '[' {
		if end := strings.Index(msg, "]"); end > 1 {
			source = strings.ToLower(msg[1:end])
			msg = strings.TrimSpace(msg[end+1:])
		}
	}

	w.manager.Log(level, source, msg, nil)
	return len(p), nil
}

// InstallLogInterceptor redirects the standard log package through m.
// Call once at startup, after constructing m.
func (m *Manager) InstallLogInterceptor() {
	log.SetOutput(&logInterceptWriter{manager: m})
	log.SetFlags(0)
}
