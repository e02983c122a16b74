package builtin

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/node"
)

// Start exposes run inputs as its outputs, so downstream nodes can refer to
// them as "start.<name>". With config.inputs set, only the named inputs are
// exposed and each must be present.
type Start struct{}

type startConfig struct {
	Inputs []string `json:"inputs"`
}

func (Start) Execute(_ context.Context, config map[string]any, vars node.Vars) (node.Result, error) {
	var cfg startConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return node.Result{}, err
	}

	outputs := make(map[string]any)
	if len(cfg.Inputs) == 0 {
		for k, v := range vars.Snapshot() {
			outputs[k] = v
		}
		return node.Result{Outputs: outputs, Success: true}, nil
	}

	for _, name := range cfg.Inputs {
		v, ok := vars.Get(name)
		if !ok {
			return node.Result{}, fmt.Errorf("missing required input %q", name)
		}
		outputs[name] = v
	}
	return node.Result{Outputs: outputs, Success: true}, nil
}

func (Start) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeStart,
		Description: "Entry point; outputs the run inputs.",
		ConfigSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"inputs": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
		},
	}
}
