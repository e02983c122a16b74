package definition

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/seantiz/weft/internal/model"
)

// hclFile is the HCL layout of a graph:
//
//	node "check" {
//	  type   = "if_else"
//	  config = { condition = "[start.score] > 10" }
//	}
//
//	edge {
//	  from          = "check"
//	  to            = "high"
//	  source_handle = "true"
//	}
type hclFile struct {
	Nodes []hclNode `hcl:"node,block"`
	Edges []hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID     string         `hcl:"id,label"`
	Type   string         `hcl:"type"`
	Config hcl.Expression `hcl:"config,optional"`
}

type hclEdge struct {
	From         string `hcl:"from"`
	To           string `hcl:"to"`
	SourceHandle string `hcl:"source_handle,optional"`
	TargetHandle string `hcl:"target_handle,optional"`
}

func parseHCL(data []byte, name string) (model.Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return model.Graph{}, diags
	}

	var doc hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return model.Graph{}, diags
	}

	g := model.Graph{
		Nodes: make([]model.Node, 0, len(doc.Nodes)),
		Edges: make([]model.Edge, 0, len(doc.Edges)),
	}
	for _, n := range doc.Nodes {
		cfg, err := configValue(n.Config)
		if err != nil {
			return model.Graph{}, fmt.Errorf("node %q config: %w", n.ID, err)
		}
		g.Nodes = append(g.Nodes, model.Node{ID: n.ID, Type: n.Type, Config: cfg})
	}
	for _, e := range doc.Edges {
		g.Edges = append(g.Edges, model.Edge{
			Source:       e.From,
			Target:       e.To,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return g, nil
}

// configValue evaluates a config expression and converts it to plain Go
// values through its JSON form.
func configValue(expr hcl.Expression) (map[string]any, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("must be an object, got %s", val.Type().FriendlyName())
	}

	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
