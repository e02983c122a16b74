package builtin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/seantiz/weft/internal/node"
)

var functions = map[string]govaluate.ExpressionFunction{
	"len": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len: want 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		}
		return nil, fmt.Errorf("len: unsupported type %T", args[0])
	},
	"contains": func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains: want 2 arguments, got %d", len(args))
		}
		s, ok1 := args[0].(string)
		sub, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("contains: arguments must be strings")
		}
		return strings.Contains(s, sub), nil
	},
	"lower": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower: want 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("lower: argument must be a string")
		}
		return strings.ToLower(s), nil
	},
}

// compile parses expr once so that syntax errors surface before evaluation.
func compile(expr string) (*govaluate.EvaluableExpression, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, functions)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", expr, err)
	}
	return e, nil
}

func evaluate(expr string, vars node.Vars) (any, error) {
	e, err := compile(expr)
	if err != nil {
		return nil, err
	}
	v, err := e.Eval(params{vars})
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expr, err)
	}
	return v, nil
}

// params exposes the shared context to govaluate. Variable names are dotted
// references resolved with Vars.Lookup.
type params struct {
	vars node.Vars
}

func (p params) Get(name string) (any, error) {
	v, ok := p.vars.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown reference %q", name)
	}
	return normalize(v), nil
}

// normalize converts numbers to float64, the only numeric type govaluate
// compares and does arithmetic on.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

// truthy reports whether an expression result selects a branch.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != ""
	case nil:
		return false
	}
	return true
}
