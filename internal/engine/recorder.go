package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/store"
)

// eventRecorder turns lifecycle notifications into model.Events. Each event
// is dual-written: persisted for history, then published to the broker for
// live subscribers.
type eventRecorder struct {
	ctx    context.Context
	store  store.Store
	broker *EventBroker
	logger *slog.Logger
	types  map[string]string
	seq    atomic.Int64
}

func newEventRecorder(ctx context.Context, s store.Store, b *EventBroker, logger *slog.Logger, g model.Graph) *eventRecorder {
	types := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		types[n.ID] = n.Type
	}
	return &eventRecorder{ctx: ctx, store: s, broker: b, logger: logger, types: types}
}

func (r *eventRecorder) emit(ev model.Event) {
	ev.ID = uuid.NewString()
	ev.Seq = int(r.seq.Add(1) - 1)
	ev.CreatedAt = time.Now().UTC()
	if ev.NodeID != "" && ev.NodeType == "" {
		ev.NodeType = r.types[ev.NodeID]
	}
	if err := r.store.InsertEvent(r.ctx, &ev); err != nil {
		r.logger.Error("failed to persist event", "run_id", ev.RunID, "kind", ev.Kind, "seq", ev.Seq, "error", err)
	}
	r.broker.Publish(ev)
}

func (r *eventRecorder) saveNode(ns model.NodeState) {
	ns.Type = r.types[ns.NodeID]
	if err := r.store.UpsertNodeState(r.ctx, &ns); err != nil {
		r.logger.Error("failed to persist node state", "run_id", ns.RunID, "node_id", ns.NodeID, "status", ns.Status, "error", err)
	}
}

func (r *eventRecorder) RunStarted(runID string) {
	r.emit(model.Event{RunID: runID, Kind: model.EventRunStarted})
}

func (r *eventRecorder) NodeStarted(runID, nodeID, nodeType string) {
	now := time.Now().UTC()
	r.saveNode(model.NodeState{RunID: runID, NodeID: nodeID, Status: model.NodeStatusRunning, StartedAt: &now})
	r.emit(model.Event{RunID: runID, Kind: model.EventNodeStarted, NodeID: nodeID, NodeType: nodeType})
}

func (r *eventRecorder) NodeCompleted(runID, nodeID string, outputs map[string]any) {
	now := time.Now().UTC()
	r.saveNode(model.NodeState{RunID: runID, NodeID: nodeID, Status: model.NodeStatusCompleted, Outputs: outputs, FinishedAt: &now})
	r.emit(model.Event{RunID: runID, Kind: model.EventNodeCompleted, NodeID: nodeID, Outputs: outputs})
}

func (r *eventRecorder) NodeSkipped(runID, nodeID string) {
	now := time.Now().UTC()
	r.saveNode(model.NodeState{RunID: runID, NodeID: nodeID, Status: model.NodeStatusSkipped, FinishedAt: &now})
	r.emit(model.Event{RunID: runID, Kind: model.EventNodeSkipped, NodeID: nodeID})
}

func (r *eventRecorder) NodeFailed(runID, nodeID string, err error) {
	now := time.Now().UTC()
	r.saveNode(model.NodeState{RunID: runID, NodeID: nodeID, Status: model.NodeStatusFailed, Error: err.Error(), FinishedAt: &now})
	r.emit(model.Event{RunID: runID, Kind: model.EventNodeFailed, NodeID: nodeID, Error: err.Error()})
}

func (r *eventRecorder) RunCompleted(runID string) {
	r.emit(model.Event{RunID: runID, Kind: model.EventRunCompleted})
}

func (r *eventRecorder) RunFailed(runID string, err error) {
	r.emit(model.Event{RunID: runID, Kind: model.EventRunFailed, Error: err.Error()})
}
