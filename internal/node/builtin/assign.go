package builtin

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/node"
)

// Assign computes named values from expressions over the shared context.
type Assign struct{}

type assignConfig struct {
	Values map[string]string `json:"values"`
}

func (Assign) Execute(_ context.Context, config map[string]any, vars node.Vars) (node.Result, error) {
	var cfg assignConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return node.Result{}, err
	}

	outputs := make(map[string]any, len(cfg.Values))
	for name, expr := range cfg.Values {
		v, err := evaluate(expr, vars)
		if err != nil {
			return node.Result{}, fmt.Errorf("value %q: %w", name, err)
		}
		outputs[name] = v
	}
	return node.Result{Outputs: outputs, Success: true}, nil
}

func (Assign) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeAssign,
		Description: "Computes named values from expressions.",
		ConfigSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"values"},
			Properties: map[string]*jsonschema.Schema{
				"values": {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}},
			},
		},
	}
}
