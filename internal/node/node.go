package node

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Executor is the interface that all node types must implement. Built-in
// types live in package builtin; the surrounding system registers its own
// (language-model calls, queries, etc.) through a Registry.
type Executor interface {
	// Execute produces the node's outputs from its configuration and a read
	// view of the run's shared context. The context carries the run deadline,
	// the tracing span and the NodeContext of the node being executed.
	Execute(ctx context.Context, config map[string]any, vars Vars) (Result, error)

	// Capabilities describes the node type this executor implements.
	Capabilities() Capabilities
}

// Vars is a read-only view of the shared context of a run. Keys are node ids
// (mapping to that node's outputs) plus the run's initial inputs. Values
// handed out are copies, so changing them never reaches the run.
type Vars interface {
	Get(key string) (any, bool)

	// Lookup resolves a dotted reference such as "llm.text": the first
	// segment is a context key, the rest walk nested maps.
	Lookup(path string) (any, bool)

	Snapshot() map[string]any
}

// Result is what an executor hands back to the engine.
type Result struct {
	Outputs map[string]any `json:"outputs,omitempty"`

	// SelectedHandle names the single outgoing path activated by a branching
	// node. Empty means every outgoing edge is active.
	SelectedHandle string `json:"selected_handle,omitempty"`

	Success bool `json:"success"`
}

// Capabilities describes a node type.
type Capabilities struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Handles     []string `json:"handles,omitempty"`

	// ConfigSchema, when set, is used to validate node configs before a run
	// starts.
	ConfigSchema *jsonschema.Schema `json:"config_schema,omitempty"`
}

// noopExecutor stands in for node types nothing is registered for.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, map[string]any, Vars) (Result, error) {
	return Result{Outputs: map[string]any{}, Success: true}, nil
}

func (noopExecutor) Capabilities() Capabilities {
	return Capabilities{Type: "noop", Description: "Fallback for unknown node types; succeeds with no outputs."}
}
