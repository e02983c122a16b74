package builtin

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/node"
)

// HandleDefault is selected by Switch when no case matches and no default
// handle is configured.
const HandleDefault = "default"

// Switch evaluates config.cases in order and activates the handle of the
// first case whose condition holds.
type Switch struct{}

type switchCase struct {
	Handle    string `json:"handle"`
	Condition string `json:"condition"`
}

type switchConfig struct {
	Cases   []switchCase `json:"cases"`
	Default string       `json:"default"`
}

func (Switch) Execute(_ context.Context, config map[string]any, vars node.Vars) (node.Result, error) {
	var cfg switchConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return node.Result{}, err
	}

	for i, c := range cfg.Cases {
		v, err := evaluate(c.Condition, vars)
		if err != nil {
			return node.Result{}, err
		}
		if truthy(v) {
			return node.Result{
				Outputs:        map[string]any{"handle": c.Handle, "case": i},
				SelectedHandle: c.Handle,
				Success:        true,
			}, nil
		}
	}

	handle := cfg.Default
	if handle == "" {
		handle = HandleDefault
	}
	return node.Result{
		Outputs:        map[string]any{"handle": handle, "case": -1},
		SelectedHandle: handle,
		Success:        true,
	}, nil
}

func (Switch) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeSwitch,
		Description: "Activates the handle of the first matching case.",
		Handles:     []string{HandleDefault},
		ConfigSchema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"cases"},
			Properties: map[string]*jsonschema.Schema{
				"cases": {
					Type: "array",
					Items: &jsonschema.Schema{
						Type:     "object",
						Required: []string{"handle", "condition"},
						Properties: map[string]*jsonschema.Schema{
							"handle":    {Type: "string", MinLength: &minNonEmpty},
							"condition": {Type: "string", MinLength: &minNonEmpty},
						},
					},
				},
				"default": {Type: "string"},
			},
		},
	}
}
