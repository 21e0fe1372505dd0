package workflow

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Store is the durability contract the engine needs: a snapshot-replace
// write of TaskContext after every node (§3, §4.E(b)). Satisfied by
// *database.TaskContextStore.
type Store interface {
	Save(ctx context.Context, executionID string, tc *models.TaskContext) error
}

// Engine runs one node at a time for a single execution. It never
// holds a goroutine across node calls: each call to RunNode is a
// complete, synchronous unit of work, which is what lets a Temporal
// activity (internal/temporal) wrap it directly without smuggling
// non-deterministic state across the workflow/activity boundary.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// StepResult is what one RunNode call produces: the updated context,
// the tagged outcome of the node that ran, and the name of the next
// node to run ("" if the graph has terminated from this node).
type StepResult struct {
	TaskContext *models.TaskContext
	Result      runnerrors.NodeResult
	NextNode    string
}

// RunNode resolves workflowName/nodeName from the compile-time
// registry, runs it once against tc, persists the resulting context,
// and resolves the next node via the node's edge function (§4.E(d)).
// A single-threaded per-execution scheduler (§4.E(a)) is the caller's
// responsibility: callers must never invoke RunNode twice concurrently
// for the same executionID.
func (e *Engine) RunNode(ctx context.Context, workflowName, nodeName, executionID string, tc *models.TaskContext) (*StepResult, error) {
	def, ok := Lookup(workflowName)
	if !ok {
		return nil, fmt.Errorf("workflow: unknown workflow %q", workflowName)
	}
	spec, ok := def.Nodes[nodeName]
	if !ok {
		return nil, fmt.Errorf("workflow: unknown node %q in workflow %q", nodeName, workflowName)
	}

	newTC, result := spec.Node.Run(ctx, tc)

	if err := e.store.Save(ctx, executionID, newTC); err != nil {
		return nil, fmt.Errorf("persist task context after node %s: %w", nodeName, err)
	}

	next := ""
	if spec.Next != nil {
		next = spec.Next(newTC, result)
	}

	return &StepResult{TaskContext: newTC, Result: result, NextNode: next}, nil
}

// Start returns the entry node name for a registered workflow.
func Start(workflowName string) (string, error) {
	def, ok := Lookup(workflowName)
	if !ok {
		return "", fmt.Errorf("workflow: unknown workflow %q", workflowName)
	}
	return def.Start, nil
}
