package builtin

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/node"
)

// Handles selected by IfElse.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// IfElse evaluates config.condition and activates the "true" or "false"
// outgoing edges.
type IfElse struct{}

type ifElseConfig struct {
	Condition string `json:"condition"`
}

func (IfElse) Execute(_ context.Context, config map[string]any, vars node.Vars) (node.Result, error) {
	var cfg ifElseConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return node.Result{}, err
	}

	v, err := evaluate(cfg.Condition, vars)
	if err != nil {
		return node.Result{}, err
	}

	result := truthy(v)
	handle := HandleFalse
	if result {
		handle = HandleTrue
	}
	return node.Result{
		Outputs:        map[string]any{"result": result},
		SelectedHandle: handle,
		Success:        true,
	}, nil
}

func (IfElse) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeIfElse,
		Description: "Branches on a boolean expression.",
		Handles:     []string{HandleTrue, HandleFalse},
		ConfigSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"condition"},
			Properties: map[string]*jsonschema.Schema{
				"condition": {Type: "string", MinLength: &minNonEmpty},
			},
		},
	}
}
