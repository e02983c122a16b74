package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/weft/internal/model"
)

// unknownType labels node metrics for types with no registered executor, so
// arbitrary type tags cannot blow up label cardinality.
const unknownType = "unknown"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_runs_total",
			Help: "Total number of graph runs by final status.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weft_run_duration_seconds",
			Help:    "Wall-clock duration of graph runs, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weft_active_runs",
			Help: "Number of graph runs currently executing.",
		},
	)

	nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_nodes_total",
			Help: "Total number of nodes settled, by node type and final status.",
		},
		[]string{"type", "status"},
	)

	nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_node_duration_seconds",
			Help:    "Executor duration of completed and failed nodes, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	lateNodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_late_node_transitions_total",
			Help: "Node transitions dropped because their run had already finished.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(activeRuns)
	prometheus.MustRegister(nodesTotal)
	prometheus.MustRegister(nodeDuration)
	prometheus.MustRegister(lateNodesTotal)

	// Pre-initialize run counters so they appear in /metrics with value 0
	// from startup, rather than only after the first run.
	for _, s := range []string{model.StatusCompleted, model.StatusFailed, model.StatusCanceled} {
		runsTotal.WithLabelValues(s)
	}
}
