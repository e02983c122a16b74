// Package builtin provides the node executors every weft server registers:
// graph entry and exit points, conditional branching and value assignment.
// Conditions and values are govaluate expressions over the shared context,
// with dotted references written in brackets, for example
// "[start.score] > 10 && [classify.label] == 'spam'".
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
)

// Node type tags registered by Register.
const (
	TypeStart  = model.NodeTypeStart
	TypeEnd    = model.NodeTypeEnd
	TypeIfElse = "if_else"
	TypeSwitch = "switch"
	TypeAssign = "assign"
)

// Register adds every built-in executor to reg.
func Register(reg *node.Registry) error {
	executors := []node.Executor{
		Start{},
		End{},
		IfElse{},
		Switch{},
		Assign{},
	}
	for _, e := range executors {
		if err := reg.Register(e.Capabilities().Type, e); err != nil {
			return err
		}
	}
	return nil
}

// decodeConfig copies a node config into a typed struct.
func decodeConfig(config map[string]any, v any) error {
	if config == nil {
		return nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// minNonEmpty is the MinLength of string fields that must not be empty.
var minNonEmpty = 1
