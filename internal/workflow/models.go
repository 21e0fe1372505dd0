// Package workflow implements the Workflow Engine (§4.E): a
// compile-time registry of named node graphs, replacing the donor's
// reflection-driven, database-persisted workflow definitions (§9:
// "Dynamic registration of workflows... → a compile-time registry
// keyed by a string discriminant, with a tagged variant for node
// kinds"). Lookup by name is a pure function; the registry is filled
// once at process startup, before any execution runs.
package workflow

import (
	"context"

	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// NodeKind tags how a node behaves in the graph (§9 "tagged variant
// for node kinds"). Compute nodes transform TaskContext; their edge
// function picks the next node from the node's result alone (success
// edge, recovery edge, or end of graph). Route nodes transform nothing (or
// little) and pick the next node by inspecting TaskContext and the
// prior result. Concurrent nodes fan out sub-work internally but still
// present a single-threaded Run to the engine — no node call is ever
// invoked concurrently with another for the same execution.
type NodeKind string

const (
	NodeKindCompute    NodeKind = "compute"
	NodeKindRoute      NodeKind = "route"
	NodeKindConcurrent NodeKind = "concurrent"
)

// Node is the unit the engine drives. Implementations receive a value
// and return a value (§9 "Nodes receive a value and return a value;
// the engine is the only writer") — the input TaskContext is never
// mutated by a well-behaved Node; a fresh one (or the same one, copied
// by convention at the call site) is returned.
type Node interface {
	Run(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult)
}

// NodeFunc adapts a plain function to Node.
type NodeFunc func(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult)

func (f NodeFunc) Run(ctx context.Context, tc *models.TaskContext) (*models.TaskContext, runnerrors.NodeResult) {
	return f(ctx, tc)
}

// NextFunc picks the next node name given the TaskContext the current
// node produced and the tagged result it returned. Returning "" ends
// the graph. This is the routing-node edge from §4.E(d): "conditional
// edges driven by routing nodes that inspect context," expressed as
// data (a function result) rather than an object-graph cycle (§9).
type NextFunc func(tc *models.TaskContext, result runnerrors.NodeResult) string

// NodeSpec binds a Node to its name, kind, and outgoing edge logic.
type NodeSpec struct {
	Name string
	Kind NodeKind
	Node Node
	Next NextFunc
}

// Definition is one named, registered DAG: a start node and every node
// reachable from it by name.
type Definition struct {
	Name  string
	Start string
	Nodes map[string]NodeSpec
}

// registry is the compile-time set of known workflows. Populated by
// Register at process startup (internal/statemachine.Register, called
// from cmd/runner's wiring), before any execution runs.
var registry = map[string]*Definition{}

// Register adds def to the compile-time registry. Called once per
// workflow during process startup; panics on a duplicate name since
// that indicates a programming error, not a runtime condition.
func Register(def *Definition) {
	if _, exists := registry[def.Name]; exists {
		panic("workflow: duplicate registration for " + def.Name)
	}
	registry[def.Name] = def
}

// Lookup returns the named workflow definition. Pure function over the
// compile-time registry (§4.E: "unknown names fail the event fast").
func Lookup(name string) (*Definition, bool) {
	def, ok := registry[name]
	return def, ok
}
