package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const triageDefinition = `
nodes:
  - id: start
    type: start
  - id: check
    type: if_else
    config:
      condition: "[start.score] > 10"
  - id: high
    type: assign
    config:
      values:
        tier: "'high'"
  - id: low
    type: assign
    config:
      values:
        tier: "'low'"
  - id: end_high
    type: end
    config:
      outputs:
        tier: high.tier
  - id: end_low
    type: end
    config:
      outputs:
        tier: low.tier
edges:
  - {source: start, target: check}
  - {source: check, target: high, source_handle: "true"}
  - {source: check, target: low, source_handle: "false"}
  - {source: high, target: end_high}
  - {source: low, target: end_low}
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	path := writeDefinition(t, triageDefinition)

	tests := []struct {
		score string
		want  string
	}{
		{"42", "high"},
		{"7", "low"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run([]string{"run", "-f", path, "-input", "score=" + tt.score}, &stdout, &stderr)
			if err != nil {
				t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
			}

			var out map[string]any
			if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
				t.Fatalf("decode output: %v\n%s", err, stdout.String())
			}
			if out["success"] != true {
				t.Errorf("success = %v, want true", out["success"])
			}
			if out["tier"] != tt.want {
				t.Errorf("tier = %v, want %s", out["tier"], tt.want)
			}
		})
	}
}

func TestRunCommandErrors(t *testing.T) {
	valid := writeDefinition(t, triageDefinition)
	invalid := writeDefinition(t, "nodes: []\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"missing file flag", []string{"run"}, "-f is required"},
		{"bad input", []string{"run", "-f", valid, "-input", "novalue"}, "key=value"},
		{"invalid graph", []string{"run", "-f", invalid}, "no nodes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(tt.args, &stdout, &stderr)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error()+stderr.String(), tt.want) {
				t.Errorf("error = %v (stderr %q), want mention of %q", err, stderr.String(), tt.want)
			}
		})
	}
}

func TestInputFlags(t *testing.T) {
	f := inputFlags{}
	for _, s := range []string{"n=3", "name=ada", `tags=["a","b"]`, "empty="} {
		if err := f.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
	}
	if f["n"] != float64(3) {
		t.Errorf("n = %#v, want 3", f["n"])
	}
	if f["name"] != "ada" {
		t.Errorf("name = %#v, want ada", f["name"])
	}
	if tags, ok := f["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v, want a two element list", f["tags"])
	}
	if f["empty"] != "" {
		t.Errorf("empty = %#v, want empty string", f["empty"])
	}
}
