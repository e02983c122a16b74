package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weft_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weft_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	sseStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weft_sse_streams",
			Help: "Number of open run event streams.",
		},
	)

	sseStreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weft_sse_stream_duration_seconds",
			Help:    "Lifetime of run event streams, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)
)

// streamRoute is the one route whose requests last as long as a run.
const streamRoute = "/v1/runs/{id}/events"

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(sseStreams)
	prometheus.MustRegister(sseStreamDuration)
}

// metricsMiddleware counts every request by its chi route pattern. Event
// stream lifetimes go to their own histogram so they do not skew request
// latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start).Seconds()

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if route == streamRoute && status == http.StatusOK {
			sseStreamDuration.Observe(elapsed)
			return
		}
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed)
	})
}

// routeLabel is the matched chi pattern without a trailing slash, so
// "/v1/runs/" from the route group reports as "/v1/runs". Paths no route
// matched share one label.
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return unmatched
	}
	if p := strings.TrimSuffix(rctx.RoutePattern(), "/"); p != "" {
		return p
	}
	return "/"
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
