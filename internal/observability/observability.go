package observability

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts processed bridge commands by final outcome
	// (answered, degraded, unauthorized, invalid).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Total voice commands processed by outcome.",
		},
		[]string{"outcome"},
	)

	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "End-to-end command processing time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_tool_executions_total",
			Help: "Tool invocations dispatched to Home Assistant by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_llm_calls_total",
			Help: "Model API calls by outcome.",
		},
		[]string{"outcome"},
	)

	ToolLoopIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_tool_loop_iterations",
			Help:    "Model round-trips needed per command.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, RequestDuration, ToolExecutions, LLMCalls, ToolLoopIterations)
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// NewLogger builds the process-wide JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
