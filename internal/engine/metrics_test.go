package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
)

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := nodesTotal.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestUnknownNodeTypesShareOneMetricLabel(t *testing.T) {
	before := counterValue(t, unknownType, model.NodeStatusCompleted)

	g := NewGraphExecutor(node.NewRegistry(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	def := model.Graph{Nodes: []model.Node{
		{ID: "a", Type: "mystery_a"},
		{ID: "b", Type: "mystery_b"},
	}}
	if _, err := g.Execute(context.Background(), "", def, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := counterValue(t, unknownType, model.NodeStatusCompleted) - before; got != 2 {
		t.Errorf("unknown completed counter grew by %v, want 2", got)
	}
}
