package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/weft/internal/api"
	"github.com/seantiz/weft/internal/engine"
	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
	"github.com/seantiz/weft/internal/node/builtin"
	"github.com/seantiz/weft/internal/node/stub"
	"github.com/seantiz/weft/internal/store"
)

// stack is a full in-process server: file-backed store, engine with the
// built-in and stub executors, and the HTTP API.
type stack struct {
	ts    *httptest.Server
	eng   *engine.Engine
	store *store.SQLiteStore
}

func newStack(t *testing.T) *stack {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "weft.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := node.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		t.Fatalf("builtin.Register: %v", err)
	}
	if err := stub.Register(reg); err != nil {
		t.Fatalf("stub.Register: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, reg, logger)
	srv := api.NewServer(":0", s, eng, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Wait()
	})

	return &stack{ts: ts, eng: eng, store: s}
}

func (st *stack) post(t *testing.T, path string, body any) *model.Run {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	resp, err := http.Post(st.ts.URL+path, "application/json", strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %s status = %d\nbody: %s", path, resp.StatusCode, b)
	}
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &run
}

func (st *stack) run(t *testing.T, g model.Graph, inputs map[string]any) *model.Run {
	t.Helper()
	return st.post(t, "/v1/runs", map[string]any{"graph": g, "inputs": inputs})
}

func nodeStatuses(r *model.Run) map[string]string {
	out := make(map[string]string, len(r.Nodes))
	for _, ns := range r.Nodes {
		out[ns.NodeID] = ns.Status
	}
	return out
}

func assertNodes(t *testing.T, r *model.Run, want map[string]string) {
	t.Helper()
	got := nodeStatuses(r)
	for id, status := range want {
		if got[id] != status {
			t.Errorf("node %s status = %q, want %q", id, got[id], status)
		}
	}
}

func nd(id, typ string, config map[string]any) model.Node {
	return model.Node{ID: id, Type: typ, Config: config}
}

func edge(source, target string) model.Edge {
	return model.Edge{Source: source, Target: target}
}

func branch(source, target, handle string) model.Edge {
	return model.Edge{Source: source, Target: target, SourceHandle: handle}
}

func values(kv ...string) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return map[string]any{"values": m}
}

func outputs(kv ...string) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return map[string]any{"outputs": m}
}

func TestLinearRun(t *testing.T) {
	st := newStack(t)

	r := st.run(t, model.Graph{
		Nodes: []model.Node{
			nd("start", "start", nil),
			nd("greet", "assign", values("text", "'hello ' + [start.name]")),
			nd("end", "end", outputs("greeting", "greet.text")),
		},
		Edges: []model.Edge{edge("start", "greet"), edge("greet", "end")},
	}, map[string]any{"name": "ada"})

	if r.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", r.Status, r.Error)
	}
	if r.Outputs["greeting"] != "hello ada" {
		t.Errorf("outputs = %v, want greeting=hello ada", r.Outputs)
	}
	if r.Context["greet"] == nil {
		t.Errorf("context = %v, want greet outputs recorded", r.Context)
	}
}

func TestIfElseWithFanInEnd(t *testing.T) {
	st := newStack(t)

	g := model.Graph{
		Nodes: []model.Node{
			nd("start", "start", nil),
			nd("check", "if_else", map[string]any{"condition": "[start.score] > 10"}),
			nd("high", "assign", values("tier", "'high'")),
			nd("low", "assign", values("tier", "'low'")),
			nd("end", "end", outputs("passed", "check.result")),
		},
		Edges: []model.Edge{
			edge("start", "check"),
			branch("check", "high", "true"),
			branch("check", "low", "false"),
			edge("high", "end"),
			edge("low", "end"),
		},
	}

	r := st.run(t, g, map[string]any{"score": 15})
	if r.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", r.Status, r.Error)
	}
	assertNodes(t, r, map[string]string{
		"high": model.NodeStatusCompleted,
		"low":  model.NodeStatusSkipped,
		"end":  model.NodeStatusCompleted,
	})
	if r.Outputs["passed"] != true {
		t.Errorf("outputs = %v, want passed=true", r.Outputs)
	}
}

func TestEndOnlyOnUntakenBranch(t *testing.T) {
	st := newStack(t)

	r := st.run(t, model.Graph{
		Nodes: []model.Node{
			nd("start", "start", nil),
			nd("check", "if_else", map[string]any{"condition": "[start.score] > 10"}),
			nd("low", "assign", values("tier", "'low'")),
			nd("end", "end", nil),
		},
		Edges: []model.Edge{
			edge("start", "check"),
			branch("check", "end", "true"),
			branch("check", "low", "false"),
		},
	}, map[string]any{"score": 1})

	if r.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", r.Status, r.Error)
	}
	assertNodes(t, r, map[string]string{
		"low": model.NodeStatusCompleted,
		"end": model.NodeStatusSkipped,
	})
	if len(r.Outputs) != 0 {
		t.Errorf("outputs = %v, want none", r.Outputs)
	}
}

func TestFailingNodeStopsRun(t *testing.T) {
	st := newStack(t)

	r := st.run(t, model.Graph{
		Nodes: []model.Node{
			nd("start", "start", nil),
			nd("call", "fail", map[string]any{"message": "upstream 503"}),
			nd("end", "end", nil),
		},
		Edges: []model.Edge{edge("start", "call"), edge("call", "end")},
	}, nil)

	if r.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", r.Status)
	}
	if r.FailedNode != "call" || !strings.Contains(r.Error, "upstream 503") {
		t.Errorf("failed_node = %q, error = %q", r.FailedNode, r.Error)
	}
	assertNodes(t, r, map[string]string{
		"start": model.NodeStatusCompleted,
		"call":  model.NodeStatusFailed,
		"end":   model.NodeStatusPending,
	})
}

func TestDiamondRunsBranchesConcurrently(t *testing.T) {
	st := newStack(t)

	const branchMS = 300
	r := st.run(t, model.Graph{
		Nodes: []model.Node{
			nd("start", "start", nil),
			nd("left", "delay", map[string]any{"ms": branchMS, "outputs": map[string]any{"v": "l"}}),
			nd("right", "delay", map[string]any{"ms": branchMS, "outputs": map[string]any{"v": "r"}}),
			nd("join", "end", outputs("left", "left.v", "right", "right.v")),
		},
		Edges: []model.Edge{
			edge("start", "left"),
			edge("start", "right"),
			edge("left", "join"),
			edge("right", "join"),
		},
	}, nil)

	if r.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", r.Status, r.Error)
	}
	if r.Outputs["left"] != "l" || r.Outputs["right"] != "r" {
		t.Errorf("outputs = %v, want both branches", r.Outputs)
	}
	if r.DurationMS == nil || *r.DurationMS >= 2*branchMS {
		t.Errorf("duration_ms = %v, want < %d for concurrent branches", r.DurationMS, 2*branchMS)
	}
}

func TestAsyncRunStreamsEvents(t *testing.T) {
	st := newStack(t)

	created := st.post(t, "/v1/runs/async", map[string]any{
		"graph": model.Graph{
			Nodes: []model.Node{
				nd("start", "start", nil),
				nd("wait", "delay", map[string]any{"ms": 200}),
			},
			Edges: []model.Edge{edge("start", "wait")},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, st.ts.URL+"/v1/runs/"+created.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if kind, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			kinds = append(kinds, kind)
		}
	}

	want := []string{
		model.EventRunStarted,
		model.EventNodeStarted, model.EventNodeCompleted,
		model.EventNodeStarted, model.EventNodeCompleted,
		model.EventRunCompleted,
		"done",
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", kinds, want)
	}

	// The stream closes only after the run is persisted as finished.
	r, err := st.eng.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed", r.Status)
	}
}
