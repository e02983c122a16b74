package model

import (
	"fmt"
	"strings"
)

// Conventional node types understood by the engine itself. Every other type
// tag is opaque and resolved through the node executor registry.
const (
	NodeTypeStart = "start"
	NodeTypeEnd   = "end"
)

// Node is a unit of work in a graph.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge is a directed connection from Source to Target. SourceHandle, when
// set, names the output path of Source that activates this edge.
type Edge struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
}

// Graph is an immutable graph definition.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// DefinitionError reports a malformed graph definition.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	return "invalid graph definition: " + strings.Join(e.Problems, "; ")
}

// Validate checks structural invariants: at least one node, unique non-empty
// node ids, and edges whose endpoints reference existing nodes. Acyclicity is
// not checked here.
func (g Graph) Validate() error {
	var problems []string
	if len(g.Nodes) == 0 {
		problems = append(problems, "graph has no nodes")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			problems = append(problems, fmt.Sprintf("node[%d] has an empty id", i))
			continue
		}
		if seen[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	for i, e := range g.Edges {
		if e.Source == "" || e.Target == "" {
			problems = append(problems, fmt.Sprintf("edge[%d] has an empty endpoint", i))
			continue
		}
		if !seen[e.Source] {
			problems = append(problems, fmt.Sprintf("edge[%d] references unknown source %q", i, e.Source))
		}
		if !seen[e.Target] {
			problems = append(problems, fmt.Sprintf("edge[%d] references unknown target %q", i, e.Target))
		}
	}

	if len(problems) > 0 {
		return &DefinitionError{Problems: problems}
	}
	return nil
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
