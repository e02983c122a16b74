package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
	"github.com/seantiz/weft/internal/store"
)

// Engine runs persisted graph runs, synchronously or in the background, and
// records their lifecycle in the store.
type Engine struct {
	store    store.Store
	registry *node.Registry
	graph    *GraphExecutor
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *EventBroker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates a new execution engine. opts configure the underlying
// GraphExecutor.
func NewEngine(s store.Store, reg *node.Registry, logger *slog.Logger, opts ...Option) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		graph:    NewGraphExecutor(reg, logger, opts...),
		logger:   logger,
		broker:   NewEventBroker(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Registry returns the executor registry runs are resolved against.
func (e *Engine) Registry() *node.Registry {
	return e.registry
}

// Validate reports definition errors in g without running it.
func (e *Engine) Validate(g model.Graph) error {
	return e.graph.Validate(g)
}

// Submit validates the graph, stores the run as pending and launches its
// execution in a goroutine. The goroutine operates on a copy of the run to
// avoid data races with the caller.
func (e *Engine) Submit(ctx context.Context, r *model.Run) error {
	if err := e.graph.Validate(r.Graph); err != nil {
		return err
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.track(r.ID, cancel)

	rCopy := *r
	e.wg.Go(func() {
		defer e.untrack(rCopy.ID)
		defer cancel()
		e.execute(runCtx, &rCopy)
	})

	return nil
}

// Execute validates, stores and runs r to completion, then returns the
// stored run with its node states. Canceling ctx cancels the run.
func (e *Engine) Execute(ctx context.Context, r *model.Run) (*model.Run, error) {
	if err := e.graph.Validate(r.Graph); err != nil {
		return nil, err
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(r.ID, cancel)
	defer e.untrack(r.ID)

	e.execute(runCtx, r)
	return e.Get(context.WithoutCancel(ctx), r.ID)
}

// Get returns a stored run together with its node states.
func (e *Engine) Get(ctx context.Context, id string) (*model.Run, error) {
	r, err := e.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.GetNodeStates(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Nodes = nodes
	return r, nil
}

// Cancel stops a run. An in-flight run is interrupted and recorded as
// canceled once it unwinds; a stored pending run is marked canceled
// directly.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	return e.store.UpdateRunStatus(ctx, id, model.StatusCanceled)
}

// Active returns the number of runs currently in flight.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cancels)
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}

// execute runs the lifecycle of one run: pending→running→completed, failed
// or canceled.
func (e *Engine) execute(ctx context.Context, r *model.Run) {
	// Close the event stream when execution finishes, regardless of outcome.
	defer e.broker.Close(r.ID)

	logger := e.logger.With("run_id", r.ID)
	bg := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		if err := e.store.UpdateRunStatus(bg, r.ID, model.StatusCanceled); err != nil {
			logger.Error("failed to cancel pending run", "error", err)
		}
		runsTotal.WithLabelValues(model.StatusCanceled).Inc()
		return
	}

	if err := e.store.UpdateRunStatus(bg, r.ID, model.StatusRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
		e.finishFailed(bg, r.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	// Capture start time immediately after the running transition so that
	// started_at and duration agree on every path.
	start := time.Now().UTC()
	activeRuns.Inc()
	defer activeRuns.Dec()

	opts := []RunOption{
		WithPublisher(newEventRecorder(bg, e.store, e.broker, logger, r.Graph)),
	}
	if r.TimeoutS != nil && *r.TimeoutS > 0 {
		opts = append(opts, WithRunTimeout(time.Duration(*r.TimeoutS)*time.Second))
	}

	res, err := e.graph.Execute(ctx, r.ID, r.Graph, r.Inputs, opts...)
	elapsed := time.Since(start)
	durationMS := int(elapsed.Milliseconds())
	now := time.Now().UTC()

	final := &model.Run{
		ID:         r.ID,
		Status:     model.StatusCompleted,
		Outputs:    res.Outputs,
		Context:    res.Context,
		DurationMS: &durationMS,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if err != nil {
		final.Status = model.StatusFailed
		final.Error = err.Error()
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			final.FailedNode = nodeErr.NodeID
		}
		if errors.Is(err, context.Canceled) {
			final.Status = model.StatusCanceled
		}
	}

	e.saveNodes(bg, logger, r.ID, res.Nodes)
	if err := e.store.UpdateRun(bg, final); err != nil {
		logger.Error("failed to update finished run", "status", final.Status, "error", err)
	}
	runsTotal.WithLabelValues(final.Status).Inc()
	runDuration.Observe(elapsed.Seconds())
}

// saveNodes writes the final state of every node, including nodes that
// never left pending because the run aborted first.
func (e *Engine) saveNodes(ctx context.Context, logger *slog.Logger, runID string, nodes map[string]NodeRecord) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ns := nodeState(runID, nodes[id])
		if err := e.store.UpsertNodeState(ctx, &ns); err != nil {
			logger.Error("failed to persist node state", "node_id", id, "error", err)
		}
	}
}

func nodeState(runID string, rec NodeRecord) model.NodeState {
	ns := model.NodeState{
		RunID:          runID,
		NodeID:         rec.NodeID,
		Type:           rec.Type,
		Status:         rec.Status,
		Outputs:        rec.Result.Outputs,
		SelectedHandle: rec.Result.SelectedHandle,
		Error:          rec.Error,
	}
	if !rec.StartedAt.IsZero() {
		t := rec.StartedAt.UTC()
		ns.StartedAt = &t
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt.UTC()
		ns.FinishedAt = &t
	}
	return ns
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(ctx context.Context, id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	if err := e.store.UpdateRun(ctx, r); err != nil {
		e.logger.Error("failed to update failed run", "run_id", id, "error", err)
	}
	runsTotal.WithLabelValues(model.StatusFailed).Inc()
}
