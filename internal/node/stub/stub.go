// Package stub provides canned executors for local development and
// end-to-end tests: a node that waits before echoing fixed outputs and a
// node that always fails.
package stub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/seantiz/weft/internal/ctxlog"
	"github.com/seantiz/weft/internal/node"
)

// Node type tags registered by Register.
const (
	TypeDelay = "delay"
	TypeFail  = "fail"
)

// Register adds the stub executors to reg.
func Register(reg *node.Registry) error {
	if err := reg.Register(TypeDelay, Delay{}); err != nil {
		return err
	}
	return reg.Register(TypeFail, Fail{})
}

// Delay waits config.ms milliseconds, then succeeds with config.outputs.
// The wait is abandoned when ctx is done.
type Delay struct{}

func (Delay) Execute(ctx context.Context, config map[string]any, _ node.Vars) (node.Result, error) {
	d, err := millis(config["ms"])
	if err != nil {
		return node.Result{}, err
	}

	ctxlog.FromContext(ctx).Debug("stub delay", "duration", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return node.Result{}, ctx.Err()
	}

	outputs, _ := config["outputs"].(map[string]any)
	if outputs == nil {
		outputs = map[string]any{}
	}
	return node.Result{Outputs: outputs, Success: true}, nil
}

func (Delay) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeDelay,
		Description: "Waits, then echoes configured outputs.",
		ConfigSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"ms":      {Type: "number"},
				"outputs": {Type: "object"},
			},
		},
	}
}

// Fail returns an error carrying config.message.
type Fail struct{}

func (Fail) Execute(_ context.Context, config map[string]any, _ node.Vars) (node.Result, error) {
	msg, _ := config["message"].(string)
	if msg == "" {
		msg = "stub failure"
	}
	return node.Result{}, errors.New(msg)
}

func (Fail) Capabilities() node.Capabilities {
	return node.Capabilities{
		Type:        TypeFail,
		Description: "Always fails.",
		ConfigSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message": {Type: "string"},
			},
		},
	}
}

func millis(v any) (time.Duration, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case int64:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("ms: expected a number, got %T", v)
}
