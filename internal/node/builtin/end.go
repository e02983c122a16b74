package builtin

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/node"
)

// End collects the results of a run. Each entry of config.outputs maps an
// output name to a dotted reference into the shared context. The engine
// merges the outputs of completed end nodes into the run result.
type End struct{}

type endConfig struct {
	Outputs map[string]string `json:"outputs"`
}

func (End) Execute(_ context.Context, config map[string]any, vars node.Vars) (node.Result, error) {
	var cfg endConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return node.Result{}, err
	}

	outputs := make(map[string]any, len(cfg.Outputs))
	for name, ref := range cfg.Outputs {
		v, ok := vars.Lookup(ref)
		if !ok {
			return node.Result{}, fmt.Errorf("output %q: unresolved reference %q", name, ref)
		}
		outputs[name] = v
	}
	return node.Result{Outputs: outputs, Success: true}, nil
}

func (End) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeEnd,
		Description: "Exit point; its outputs become the run outputs.",
		ConfigSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"outputs": {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}},
			},
		},
	}
}
