package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/weft/internal/ctxlog"
	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
)

// DefaultRunTimeout bounds a run when no other timeout is configured.
const DefaultRunTimeout = 5 * time.Minute

const tracerName = "github.com/seantiz/weft/internal/engine"

// GraphExecutor runs graph definitions. A single executor is safe for
// concurrent use; every call to Execute gets its own state store, shared
// context and worker pool.
type GraphExecutor struct {
	registry   *node.Registry
	logger     *slog.Logger
	tracer     trace.Tracer
	maxWorkers int
	timeout    time.Duration
}

// Option configures a GraphExecutor.
type Option func(*GraphExecutor)

// WithMaxWorkers bounds the number of executors running at once per run.
func WithMaxWorkers(n int) Option {
	return func(g *GraphExecutor) {
		if n > 0 {
			g.maxWorkers = n
		}
	}
}

// WithTimeout sets the default maximum duration of a run.
func WithTimeout(d time.Duration) Option {
	return func(g *GraphExecutor) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTracerProvider sets the provider used for run and node spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *GraphExecutor) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewGraphExecutor creates an executor that resolves node types through reg.
func NewGraphExecutor(reg *node.Registry, logger *slog.Logger, opts ...Option) *GraphExecutor {
	g := &GraphExecutor{
		registry:   reg,
		logger:     logger,
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		maxWorkers: runtime.GOMAXPROCS(0) * 4,
		timeout:    DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RunOption configures a single call to Execute.
type RunOption func(*runConfig)

type runConfig struct {
	timeout   time.Duration
	publisher Publisher
}

// WithRunTimeout overrides the executor's default timeout for one run.
func WithRunTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPublisher sets the lifecycle event publisher for one run.
func WithPublisher(p Publisher) RunOption {
	return func(c *runConfig) {
		if p != nil {
			c.publisher = p
		}
	}
}

// Result is the outcome of a run. On failure it still carries the partial
// context and node states for inspection.
type Result struct {
	RunID   string                `json:"run_id"`
	Success bool                  `json:"success"`
	Context map[string]any        `json:"context"`
	Outputs map[string]any        `json:"outputs,omitempty"`
	Nodes   map[string]NodeRecord `json:"nodes"`
}

// Flatten returns the result in its wire shape: success and context next
// to the merged end-node outputs.
func (r *Result) Flatten() map[string]any {
	out := make(map[string]any, len(r.Outputs)+2)
	maps.Copy(out, r.Outputs)
	out["success"] = r.Success
	out["context"] = r.Context
	return out
}

// Validate checks def for structural problems, cycles and node configs that
// their executor's schema rejects.
func (g *GraphExecutor) Validate(def model.Graph) error {
	if err := def.Validate(); err != nil {
		return err
	}
	var problems []string
	for _, n := range def.Nodes {
		if err := g.registry.ValidateConfig(n.Type, n.Config); err != nil {
			problems = append(problems, fmt.Sprintf("node %q: %v", n.ID, err))
		}
	}
	if id, ok := findCycle(def); ok {
		problems = append(problems, fmt.Sprintf("cycle detected through node %q", id))
	}
	if len(problems) > 0 {
		return &model.DefinitionError{Problems: problems}
	}
	return nil
}

// findCycle reports a node that lies on a cycle, if any.
func findCycle(def model.Graph) (string, bool) {
	const (
		unvisited = iota
		visiting
		visited
	)
	out := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}
	state := make(map[string]int, len(def.Nodes))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		state[id] = visiting
		for _, next := range out[id] {
			switch state[next] {
			case visiting:
				return next, true
			case unvisited:
				if c, ok := visit(next); ok {
					return c, true
				}
			}
		}
		state[id] = visited
		return "", false
	}
	for _, n := range def.Nodes {
		if state[n.ID] == unvisited {
			if id, ok := visit(n.ID); ok {
				return id, true
			}
		}
	}
	return "", false
}

// Execute runs def to completion with inputs as the initial shared context.
// An empty runID is replaced with a generated one. The returned Result is
// non-nil even when err is not.
func (g *GraphExecutor) Execute(ctx context.Context, runID string, def model.Graph, inputs map[string]any, opts ...RunOption) (*Result, error) {
	cfg := runConfig{timeout: g.timeout, publisher: NopPublisher{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := g.Validate(def); err != nil {
		return &Result{RunID: runID}, err
	}

	logger := g.logger.With("run_id", runID)
	ctx, span := g.tracer.Start(ctx, "weft.run",
		trace.WithAttributes(
			attribute.String("weft.run_id", runID),
			attribute.Int("weft.nodes", len(def.Nodes)),
			attribute.Int("weft.edges", len(def.Edges)),
		))
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	abortCtx, abort := context.WithCancelCause(execCtx)
	defer abort(nil)

	r := &run{
		id:         runID,
		nodes:      make(map[string]model.Node, len(def.Nodes)),
		edges:      resolveEdges(def.Edges),
		registry:   g.registry,
		logger:     logger,
		tracer:     g.tracer,
		pub:        safePublisher{next: cfg.publisher, logger: logger},
		states:     newStateStore(def.Nodes),
		vars:       NewVars(inputs),
		workers:    pool.New().WithMaxGoroutines(max(g.maxWorkers, 1)),
		timeout:    cfg.timeout,
		execCtx:    execCtx,
		abortCtx:   abortCtx,
		abort:      abort,
		futures:    make(map[string]*future, len(def.Nodes)),
		building:   make(map[string]bool),
		allSettled: make(chan struct{}),
	}
	for _, n := range def.Nodes {
		r.nodes[n.ID] = n
	}

	// Every future exists before any of them starts.
	for _, n := range def.Nodes {
		if _, err := r.schedule(n.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return &Result{RunID: runID, Context: r.vars.Snapshot(), Nodes: r.states.Snapshot()}, err
		}
	}

	logger.Info("run started", "nodes", len(def.Nodes), "edges", len(def.Edges), "timeout", cfg.timeout)
	r.pub.RunStarted(runID)
	r.start()

	err := r.wait()
	r.close()
	res := r.result(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", "error", err)
		r.pub.RunFailed(runID, err)
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("run completed")
	r.pub.RunCompleted(runID)
	return res, nil
}

// future is the settle-once handle for one node. err is written before done
// is closed and read only after.
type future struct {
	node model.Node
	deps []*future
	ctx  context.Context
	done chan struct{}
	err  error
}

type run struct {
	id       string
	nodes    map[string]model.Node
	edges    edgeIndex
	registry *node.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	pub      Publisher
	states   *StateStore
	vars     *Vars
	workers  *pool.Pool
	timeout  time.Duration

	execCtx  context.Context
	abortCtx context.Context
	abort    context.CancelCauseFunc

	mu       sync.Mutex
	futures  map[string]*future
	building map[string]bool
	order    []*future

	settled    sync.WaitGroup
	allSettled chan struct{}

	// gate orders node state changes against the run returning. Once
	// closed is set, late executors no longer touch state or publish.
	gate   sync.RWMutex
	closed bool
}

// errRunClosed is returned by nodes that finish after their run has
// already returned to its caller.
var errRunClosed = errors.New("run already finished")

// schedule returns the future for id, constructing it and every upstream
// future first if needed.
func (r *run) schedule(id string) (*future, error) {
	r.mu.Lock()
	if f, ok := r.futures[id]; ok {
		r.mu.Unlock()
		return f, nil
	}
	if r.building[id] {
		r.mu.Unlock()
		return nil, &model.DefinitionError{Problems: []string{fmt.Sprintf("cycle detected through node %q", id)}}
	}
	r.building[id] = true
	r.mu.Unlock()

	var deps []*future
	seen := make(map[*future]struct{}, len(r.edges.reverse[id]))
	for _, e := range r.edges.reverse[id] {
		dep, err := r.schedule(e.Source)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[dep]; !dup {
			seen[dep] = struct{}{}
			deps = append(deps, dep)
		}
	}

	n := r.nodes[id]
	ctx := node.NewContext(r.execCtx, &node.NodeContext{RunID: r.id, NodeID: id, Type: n.Type})
	ctx = ctxlog.WithLogger(ctx, r.logger.With("node_id", id, "node_type", n.Type))
	f := &future{node: n, deps: deps, ctx: ctx, done: make(chan struct{})}

	r.mu.Lock()
	delete(r.building, id)
	r.futures[id] = f
	r.order = append(r.order, f)
	r.mu.Unlock()
	return f, nil
}

func (r *run) start() {
	r.settled.Add(len(r.order))
	for _, f := range r.order {
		go r.await(f)
	}
	go func() {
		r.settled.Wait()
		close(r.allSettled)
		// No waiter submits work once all of them have returned.
		r.workers.Wait()
	}()
}

func (r *run) await(f *future) {
	defer r.settled.Done()
	defer close(f.done)

	for _, dep := range f.deps {
		select {
		case <-dep.done:
			if dep.err != nil {
				f.err = dep.err
				return
			}
		case <-r.abortCtx.Done():
			f.err = context.Cause(r.abortCtx)
			return
		}
	}
	if r.abortCtx.Err() != nil {
		f.err = context.Cause(r.abortCtx)
		return
	}

	skip, reason, err := r.decide(f.node.ID)
	if err != nil {
		f.err = r.fail(f.node, err)
		return
	}
	if skip {
		f.err = r.skip(f.node, reason)
		return
	}

	done := make(chan struct{})
	r.workers.Go(func() {
		defer close(done)
		f.err = r.execute(f)
	})
	<-done
}

// decide reports whether the node should be skipped. Every upstream source
// must already be terminal.
func (r *run) decide(id string) (bool, string, error) {
	incoming := r.edges.reverse[id]
	if len(incoming) == 0 {
		return false, "", nil
	}

	var inert, active int
	for _, e := range incoming {
		src, ok := r.states.Get(e.Source)
		if !ok {
			return false, "", fmt.Errorf("edge %s -> %s: unknown source", e.Source, e.Target)
		}
		if !model.IsTerminalNodeStatus(src.Status) {
			return false, "", fmt.Errorf("source %q is %s at decision time", e.Source, src.Status)
		}
		switch src.Status {
		case model.NodeStatusSkipped:
			inert++
		case model.NodeStatusCompleted:
			if e.SourceHandle == "" || e.SourceHandle == src.Result.SelectedHandle {
				active++
			}
		}
	}

	switch {
	case inert == len(incoming):
		return true, "all upstream nodes skipped", nil
	case active == 0:
		return true, "no active incoming edge", nil
	}
	return false, "", nil
}

func (r *run) skip(n model.Node, reason string) error {
	if !r.enter() {
		return r.dropped(n, model.NodeStatusSkipped)
	}
	defer r.leave()
	if err := r.states.markSkipped(n.ID, time.Now()); err != nil {
		return r.failLocked(n, err)
	}
	nodesTotal.WithLabelValues(r.metricType(n.Type), model.NodeStatusSkipped).Inc()
	r.logger.Debug("node skipped", "node_id", n.ID, "reason", reason)
	r.pub.NodeSkipped(r.id, n.ID)
	return nil
}

func (r *run) execute(f *future) error {
	n := f.node
	if r.abortCtx.Err() != nil {
		return context.Cause(r.abortCtx)
	}

	logger := ctxlog.FromContext(f.ctx)
	exec, known := r.registry.Resolve(n.Type)
	if !known {
		logger.Warn("no executor registered for node type, treating as no-op")
	}

	ctx, span := r.tracer.Start(f.ctx, "weft.node",
		trace.WithAttributes(
			attribute.String("weft.node_id", n.ID),
			attribute.String("weft.node_type", n.Type),
		))
	defer span.End()

	if !r.enter() {
		return r.dropped(n, model.NodeStatusRunning)
	}
	started := time.Now()
	if err := r.states.markRunning(n.ID, started); err != nil {
		defer r.leave()
		return r.failLocked(n, err)
	}
	r.pub.NodeStarted(r.id, n.ID, n.Type)
	r.leave()

	res, err := invoke(ctx, exec, n.Config, r.vars)
	elapsed := time.Since(started)
	nodeDuration.WithLabelValues(r.metricType(n.Type)).Observe(elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(n, err)
	}

	if !r.enter() {
		return r.dropped(n, model.NodeStatusCompleted)
	}
	defer r.leave()
	if res.Success {
		outputs := res.Outputs
		if outputs == nil {
			outputs = map[string]any{}
		}
		r.vars.Set(n.ID, outputs)
	}
	if err := r.states.markCompleted(n.ID, res, time.Now()); err != nil {
		return r.failLocked(n, err)
	}
	if res.SelectedHandle != "" {
		span.SetAttributes(attribute.String("weft.selected_handle", res.SelectedHandle))
	}
	span.SetStatus(codes.Ok, "")
	nodesTotal.WithLabelValues(r.metricType(n.Type), model.NodeStatusCompleted).Inc()
	logger.Debug("node completed", "duration_ms", elapsed.Milliseconds(), "selected_handle", res.SelectedHandle)
	r.pub.NodeCompleted(r.id, n.ID, res.Outputs)
	return nil
}

// fail marks n failed and aborts the run. Only the first failure becomes
// the abort cause.
func (r *run) fail(n model.Node, cause error) error {
	if !r.enter() {
		r.dropped(n, model.NodeStatusFailed)
		return &NodeError{NodeID: n.ID, NodeType: n.Type, Err: cause}
	}
	defer r.leave()
	return r.failLocked(n, cause)
}

func (r *run) failLocked(n model.Node, cause error) error {
	nodeErr := &NodeError{NodeID: n.ID, NodeType: n.Type, Err: cause}
	if err := r.states.markFailed(n.ID, cause, time.Now()); err != nil {
		r.logger.Error("record node failure", "node_id", n.ID, "error", err)
	}
	nodesTotal.WithLabelValues(r.metricType(n.Type), model.NodeStatusFailed).Inc()
	r.logger.Error("node failed", "node_id", n.ID, "node_type", n.Type, "error", cause)
	r.pub.NodeFailed(r.id, n.ID, cause)
	r.abort(nodeErr)
	return nodeErr
}

// enter admits a node state change. It reports false once the run has
// closed; otherwise the caller must call leave.
func (r *run) enter() bool {
	r.gate.RLock()
	if r.closed {
		r.gate.RUnlock()
		return false
	}
	return true
}

func (r *run) leave() {
	r.gate.RUnlock()
}

// close waits for in-flight state changes and rejects later ones, so the
// returned result and the published history stay final.
func (r *run) close() {
	r.gate.Lock()
	r.closed = true
	r.gate.Unlock()
}

func (r *run) dropped(n model.Node, status string) error {
	lateNodesTotal.WithLabelValues(r.metricType(n.Type)).Inc()
	r.logger.Warn("dropping late node transition", "node_id", n.ID, "node_type", n.Type, "status", status)
	return errRunClosed
}

func (r *run) metricType(nodeType string) string {
	if _, ok := r.registry.Resolve(nodeType); ok {
		return nodeType
	}
	return unknownType
}

func (r *run) wait() error {
	select {
	case <-r.allSettled:
		for _, f := range r.order {
			if f.err != nil {
				return r.classify()
			}
		}
		return nil
	case <-r.abortCtx.Done():
		return r.classify()
	}
}

// classify names the reason a run stopped early. A timeout or caller
// cancellation wins over node errors it provoked.
func (r *run) classify() error {
	if err := r.execCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Timeout: r.timeout}
		}
		return fmt.Errorf("run canceled: %w", context.Cause(r.execCtx))
	}
	var nodeErr *NodeError
	if errors.As(context.Cause(r.abortCtx), &nodeErr) {
		return nodeErr
	}
	return errors.New("run ended without settling every node")
}

func (r *run) result(success bool) *Result {
	res := &Result{
		RunID:   r.id,
		Success: success,
		Context: r.vars.Snapshot(),
		Nodes:   r.states.Snapshot(),
	}
	if !success {
		return res
	}

	var ends []string
	for id, n := range r.nodes {
		if n.Type == model.NodeTypeEnd {
			ends = append(ends, id)
		}
	}
	slices.Sort(ends)
	for _, id := range ends {
		rec := res.Nodes[id]
		if rec.Status != model.NodeStatusCompleted {
			continue
		}
		if res.Outputs == nil {
			res.Outputs = make(map[string]any)
		}
		maps.Copy(res.Outputs, rec.Result.Outputs)
	}
	return res
}

func invoke(ctx context.Context, e node.Executor, config map[string]any, vars node.Vars) (res node.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return e.Execute(ctx, config, vars)
}
