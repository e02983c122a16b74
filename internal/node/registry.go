package node

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Info pairs a registered type tag with its executor's capabilities.
type Info struct {
	Type         string       `json:"type"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered executors and resolves which one runs a node
// of a given type.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	schemas   map[string]*jsonschema.Resolved
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		schemas:   make(map[string]*jsonschema.Resolved),
	}
}

// Register adds an executor under the given type tag, replacing any previous
// registration. The executor's config schema, if any, is resolved here so
// that a broken schema is reported at startup rather than per run.
func (r *Registry) Register(nodeType string, e Executor) error {
	if nodeType == "" {
		return fmt.Errorf("register executor: empty node type")
	}

	var resolved *jsonschema.Resolved
	if schema := e.Capabilities().ConfigSchema; schema != nil {
		var err error
		resolved, err = schema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolve config schema for %q: %w", nodeType, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = e
	if resolved != nil {
		r.schemas[nodeType] = resolved
	} else {
		delete(r.schemas, nodeType)
	}
	return nil
}

// Resolve returns the executor registered for nodeType. For unknown types it
// returns a no-op executor that succeeds with empty outputs, and false.
func (r *Registry) Resolve(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[nodeType]
	if !ok {
		return noopExecutor{}, false
	}
	return e, true
}

// ValidateConfig checks config against the schema declared by the executor
// registered for nodeType. Unknown types and types without a schema pass.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// Round-trip through JSON so that values decoded from YAML or built in Go
	// (ints, typed slices) are presented to the validator as JSON values.
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("config for %q: %w", nodeType, err)
	}
	return nil
}

// List returns information about all registered executors, sorted by type
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for t, e := range r.executors {
		infos = append(infos, Info{
			Type:         t,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}
