package definition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/seantiz/weft/internal/model"
)

func TestLoadFileFormats(t *testing.T) {
	for _, name := range []string{"triage.yaml", "triage.json", "triage.hcl"} {
		t.Run(name, func(t *testing.T) {
			g, err := LoadFile(filepath.Join("testdata", name))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if len(g.Nodes) != 5 || len(g.Edges) != 5 {
				t.Fatalf("graph = %d nodes / %d edges, want 5 / 5", len(g.Nodes), len(g.Edges))
			}

			check, ok := g.Node("check")
			if !ok || check.Type != "if_else" {
				t.Fatalf("check node = %+v", check)
			}
			if check.Config["condition"] != "[start.score] > 10" {
				t.Errorf("condition = %v", check.Config["condition"])
			}

			start, _ := g.Node("start")
			inputs, ok := start.Config["inputs"].([]any)
			if !ok || len(inputs) != 1 || inputs[0] != "score" {
				t.Errorf("start inputs = %#v, want [score]", start.Config["inputs"])
			}

			end, _ := g.Node("end")
			outputs, ok := end.Config["outputs"].(map[string]any)
			if !ok || outputs["tier"] != "high.tier" {
				t.Errorf("end outputs = %#v", end.Config["outputs"])
			}

			if g.Edges[1].SourceHandle != "true" || g.Edges[1].Target != "high" {
				t.Errorf("edge[1] = %+v, want check -true-> high", g.Edges[1])
			}
		})
	}
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	if _, err := LoadFile("graph.toml"); err == nil {
		t.Error("LoadFile(.toml) succeeded, want an error")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func TestParseValidates(t *testing.T) {
	data := []byte(`
nodes:
  - {id: a, type: start}
edges:
  - {source: a, target: ghost}
`)
	_, err := Parse(data, "bad.yaml", FormatYAML)
	var defErr *model.DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("error = %v, want *DefinitionError", err)
	}
}

func TestParseHCLErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":       `node "a" {`,
		"missing type": `node "a" {}`,
		"config string": `
node "a" {
  type   = "start"
  config = "nope"
}
`,
		"missing edge endpoint": `
node "a" { type = "start" }
edge { from = "a" }
`,
	}

	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(src), "bad.hcl", FormatHCL); err == nil {
				t.Error("Parse succeeded, want an error")
			}
		})
	}
}

func TestParseHCLWithoutConfig(t *testing.T) {
	g, err := Parse([]byte(`node "only" { type = "start" }`), "min.hcl", FormatHCL)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Nodes[0].Config != nil {
		t.Errorf("Config = %v, want nil", g.Nodes[0].Config)
	}
}
