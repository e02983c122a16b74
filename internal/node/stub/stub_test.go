package stub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/weft/internal/node"
)

func TestDelayEchoesOutputs(t *testing.T) {
	start := time.Now()
	res, err := Delay{}.Execute(context.Background(), map[string]any{
		"ms":      float64(20),
		"outputs": map[string]any{"text": "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, want >= 20ms", elapsed)
	}
	if !res.Success || res.Outputs["text"] != "hi" {
		t.Errorf("result = %+v", res)
	}
}

func TestDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Delay{}.Execute(ctx, map[string]any{"ms": 5000}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestDelayRejectsBadDuration(t *testing.T) {
	if _, err := (Delay{}).Execute(context.Background(), map[string]any{"ms": "soon"}, nil); err == nil {
		t.Error("expected error for non-numeric ms")
	}
}

func TestFail(t *testing.T) {
	_, err := Fail{}.Execute(context.Background(), map[string]any{"message": "nope"}, nil)
	if err == nil || err.Error() != "nope" {
		t.Errorf("err = %v, want nope", err)
	}
	_, err = Fail{}.Execute(context.Background(), nil, nil)
	if err == nil || err.Error() != "stub failure" {
		t.Errorf("err = %v, want default message", err)
	}
}

func TestRegister(t *testing.T) {
	reg := node.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, typ := range []string{TypeDelay, TypeFail} {
		if _, ok := reg.Resolve(typ); !ok {
			t.Errorf("%s not registered", typ)
		}
	}
	if err := reg.ValidateConfig(TypeDelay, map[string]any{"ms": "x"}); err == nil {
		t.Error("expected schema error for string ms")
	}
}
