package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func requestCount(t *testing.T, method, route, status string) float64 {
	t.Helper()
	var m dto.Metric
	if err := httpRequestsTotal.WithLabelValues(method, route, status).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func streamCount(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	if err := sseStreamDuration.Write(&m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsRouteLabels(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	listBefore := requestCount(t, http.MethodGet, "/v1/runs", "200")
	streamsBefore := streamCount(t)

	_, run := postRun(t, ts.URL, "/v1/runs", fmt.Sprintf(`{"graph": %s}`, delayGraph(0)))

	resp, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := openStream(t, ctx, ts.URL, run.ID)
	readSSE(t, stream)
	stream.Body.Close()

	if got := requestCount(t, http.MethodGet, "/v1/runs", "200") - listBefore; got != 1 {
		t.Errorf("GET /v1/runs counter grew by %v, want 1", got)
	}

	// The middleware records after the handler returns, which may trail
	// the client reading the final event.
	deadline := time.Now().Add(2 * time.Second)
	for streamCount(t) == streamsBefore && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if streamCount(t) != streamsBefore+1 {
		t.Errorf("stream histogram count = %d, want %d", streamCount(t), streamsBefore+1)
	}
	if got := requestCount(t, http.MethodGet, streamRoute, "200"); got < 1 {
		t.Errorf("stream requests counter = %v, want at least 1", got)
	}
}

func TestMetricsUnmatchedRoute(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	before := requestCount(t, http.MethodGet, unmatched, "404")
	resp, err := http.Get(ts.URL + "/no/such/path")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if got := requestCount(t, http.MethodGet, unmatched, "404") - before; got != 1 {
		t.Errorf("unmatched counter grew by %v, want 1", got)
	}
}
