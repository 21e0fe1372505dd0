// Package client wraps go.temporal.io/sdk/client with connection-retry
// logic and the operations the Automation API and runnerctl need to
// start, signal, query, and cancel a RunnerWorkflow. Grounded on the
// donor's internal/temporal/client/client.go shape almost unchanged:
// the exponential-backoff dial loop, the thin wrapper over
// ExecuteWorkflow/SignalWorkflow/QueryWorkflow/CancelWorkflow, and the
// Temporal Logger adapter — retargeted at this repo's
// internal/logging.Manager instead of a bare log.Printf.
package client

import (
	"context"
	"fmt"
	"time"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/jordanhubbard/devteam-runner/internal/logging"
)

// Config is the subset of configuration the Temporal client needs
// (§6.5 TEMPORAL_HOST_PORT / task queue, surfaced via internal/config.WorkflowConfig).
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Client wraps the Temporal SDK client with this repo's logging.
type Client struct {
	temporal temporalclient.Client
	config   Config
}

const (
	dialMaxAttempts = 5
	dialBaseDelay   = 2 * time.Second
	dialTimeout     = 15 * time.Second
)

// New dials the Temporal frontend, retrying with exponential backoff
// (2s, 4s, 8s, 16s) since the server and the runner commonly start
// concurrently in development and in compose-style deployments.
func New(cfg Config, logs *logging.Manager) (*Client, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}

	var lastErr error
	for attempt := 0; attempt < dialMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := dialBaseDelay * time.Duration(1<<uint(attempt-1))
			logs.Info("temporal", fmt.Sprintf("retrying connection in %s (attempt %d/%d)", delay, attempt+1, dialMaxAttempts), nil)
			time.Sleep(delay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := temporalclient.DialContext(ctx, temporalclient.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    &managerLogger{logs: logs},
		})
		cancel()

		if err == nil {
			logs.Info("temporal", fmt.Sprintf("connected to %s (namespace: %s)", cfg.HostPort, cfg.Namespace), nil)
			return &Client{temporal: c, config: cfg}, nil
		}
		lastErr = err
		logs.Warn("temporal", fmt.Sprintf("connection attempt %d failed: %v", attempt+1, err), nil)
	}

	return nil, fmt.Errorf("connect to temporal at %s after %d attempts: %w", cfg.HostPort, dialMaxAttempts, lastErr)
}

func (c *Client) Close() {
	if c.temporal != nil {
		c.temporal.Close()
	}
}

func (c *Client) Raw() temporalclient.Client { return c.temporal }

func (c *Client) TaskQueue() string { return c.config.TaskQueue }

// ExecuteWorkflow starts a new RunnerWorkflow execution.
func (c *Client) ExecuteWorkflow(ctx context.Context, options temporalclient.StartWorkflowOptions, workflowFunc interface{}, args ...interface{}) (temporalclient.WorkflowRun, error) {
	return c.temporal.ExecuteWorkflow(ctx, options, workflowFunc, args...)
}

// SignalWorkflow sends pause/resume/stop to a running execution.
func (c *Client) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error {
	return c.temporal.SignalWorkflow(ctx, workflowID, runID, signalName, arg)
}

// QueryWorkflow answers the status query for a running execution.
func (c *Client) QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (temporalclient.EncodedValue, error) {
	return c.temporal.QueryWorkflow(ctx, workflowID, runID, queryType, args...)
}

// CancelWorkflow requests cooperative cancellation (distinct from the
// stop signal: used when an execution must be abandoned outright).
func (c *Client) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	return c.temporal.CancelWorkflow(ctx, workflowID, runID)
}

func (c *Client) GetWorkflow(ctx context.Context, workflowID, runID string) temporalclient.WorkflowRun {
	return c.temporal.GetWorkflow(ctx, workflowID, runID)
}

// managerLogger adapts internal/logging.Manager to Temporal's Logger
// interface so workflow/activity log lines land in the same store and
// redaction path as the rest of the runner's logs.
type managerLogger struct {
	logs *logging.Manager
}

func (l *managerLogger) Debug(msg string, keyvals ...interface{}) {
	l.logs.Debug("temporal-sdk", msg, kvMap(keyvals))
}

func (l *managerLogger) Info(msg string, keyvals ...interface{}) {
	l.logs.Info("temporal-sdk", msg, kvMap(keyvals))
}

func (l *managerLogger) Warn(msg string, keyvals ...interface{}) {
	l.logs.Warn("temporal-sdk", msg, kvMap(keyvals))
}

func (l *managerLogger) Error(msg string, keyvals ...interface{}) {
	l.logs.Error("temporal-sdk", msg, kvMap(keyvals))
}

func kvMap(keyvals []interface{}) map[string]interface{} {
	if len(keyvals) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		m[key] = keyvals[i+1]
	}
	return m
}
