package model

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidNodeTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{NodeStatusPending, NodeStatusRunning, true},
		{NodeStatusPending, NodeStatusSkipped, true},
		{NodeStatusPending, NodeStatusFailed, true},
		{NodeStatusRunning, NodeStatusCompleted, true},
		{NodeStatusRunning, NodeStatusFailed, true},
		{NodeStatusPending, NodeStatusCompleted, false},
		{NodeStatusRunning, NodeStatusSkipped, false},
		{NodeStatusCompleted, NodeStatusRunning, false},
		{NodeStatusSkipped, NodeStatusPending, false},
		{NodeStatusFailed, NodeStatusRunning, false},
	}
	for _, tt := range tests {
		if got := ValidNodeTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidNodeTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	if !ValidTransition(StatusPending, StatusRunning) {
		t.Error("pending -> running should be allowed")
	}
	if !ValidTransition(StatusRunning, StatusCanceled) {
		t.Error("running -> canceled should be allowed")
	}
	if ValidTransition(StatusCompleted, StatusRunning) {
		t.Error("completed -> running should be rejected")
	}
	if ValidTransition("bogus", StatusRunning) {
		t.Error("unknown status should be rejected")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{NodeStatusCompleted, NodeStatusSkipped, NodeStatusFailed} {
		if !IsTerminalNodeStatus(s) {
			t.Errorf("IsTerminalNodeStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{NodeStatusPending, NodeStatusRunning} {
		if IsTerminalNodeStatus(s) {
			t.Errorf("IsTerminalNodeStatus(%q) = true, want false", s)
		}
	}
}

func TestGraphValidate(t *testing.T) {
	valid := Graph{
		Nodes: []Node{{ID: "start", Type: NodeTypeStart}, {ID: "end", Type: NodeTypeEnd}},
		Edges: []Edge{{Source: "start", Target: "end"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name  string
		graph Graph
		want  string
	}{
		{"empty", Graph{}, "no nodes"},
		{"empty id", Graph{Nodes: []Node{{Type: "x"}}}, "empty id"},
		{"duplicate", Graph{Nodes: []Node{{ID: "a"}, {ID: "a"}}}, "duplicate node id"},
		{"dangling source", Graph{Nodes: []Node{{ID: "a"}}, Edges: []Edge{{Source: "x", Target: "a"}}}, "unknown source"},
		{"dangling target", Graph{Nodes: []Node{{ID: "a"}}, Edges: []Edge{{Source: "a", Target: "x"}}}, "unknown target"},
		{"empty endpoint", Graph{Nodes: []Node{{ID: "a"}}, Edges: []Edge{{Source: "a"}}}, "empty endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			var defErr *DefinitionError
			if !errors.As(err, &defErr) {
				t.Fatalf("Validate() error = %v, want *DefinitionError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestGraphNodeLookup(t *testing.T) {
	g := Graph{Nodes: []Node{{ID: "a", Type: "start"}}}
	n, ok := g.Node("a")
	if !ok || n.Type != "start" {
		t.Errorf("Node(a) = %+v, %v", n, ok)
	}
	if _, ok := g.Node("missing"); ok {
		t.Error("Node(missing) should not be found")
	}
}
