package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records framework-level measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	RecordAgentRun(ctx context.Context, agent string, duration time.Duration, steps int, err error)
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordSearch(ctx context.Context, mode string, duration time.Duration, results int)
	RecordIngest(ctx context.Context, added, updated, deleted int)
}

// PrometheusMetrics implements Metrics with Prometheus collectors registered
// on a caller-supplied registerer.
type PrometheusMetrics struct {
	agentDuration *prometheus.HistogramVec
	agentSteps    *prometheus.HistogramVec
	agentErrors   *prometheus.CounterVec

	llmDuration     *prometheus.HistogramVec
	llmInputTokens  *prometheus.CounterVec
	llmOutputTokens *prometheus.CounterVec
	llmErrors       *prometheus.CounterVec

	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec

	ingestDocs *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_agent_run_duration_seconds",
			Help:    "Duration of complete agent runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
		agentSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_agent_run_steps",
			Help:    "Steps taken per agent run.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}, []string{"agent"}),
		agentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_agent_run_errors_total",
			Help: "Failed agent runs.",
		}, []string{"agent"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_llm_call_duration_seconds",
			Help:    "Duration of provider completion calls.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model"}),
		llmInputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_input_tokens_total",
			Help: "Prompt tokens sent to providers.",
		}, []string{"provider", "model"}),
		llmOutputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_output_tokens_total",
			Help: "Completion tokens received from providers.",
		}, []string{"provider", "model"}),
		llmErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_call_errors_total",
			Help: "Failed provider calls.",
		}, []string{"provider", "model"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_tool_execution_duration_seconds",
			Help:    "Duration of tool handler invocations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"tool"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_execution_errors_total",
			Help: "Failed tool handler invocations.",
		}, []string{"tool"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_search_duration_seconds",
			Help:    "Duration of retrieval searches.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_search_results",
			Help:    "Result counts per retrieval search.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}, []string{"mode"}),
		ingestDocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_ingest_documents_total",
			Help: "Documents processed by ingestion, by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		m.agentDuration, m.agentSteps, m.agentErrors,
		m.llmDuration, m.llmInputTokens, m.llmOutputTokens, m.llmErrors,
		m.toolDuration, m.toolErrors,
		m.searchDuration, m.searchResults,
		m.ingestDocs,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordAgentRun(_ context.Context, agent string, duration time.Duration, steps int, err error) {
	m.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
	m.agentSteps.WithLabelValues(agent).Observe(float64(steps))
	if err != nil {
		m.agentErrors.WithLabelValues(agent).Inc()
	}
}

func (m *PrometheusMetrics) RecordLLMCall(_ context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	m.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.llmInputTokens.WithLabelValues(provider, model).Add(float64(inputTokens))
	m.llmOutputTokens.WithLabelValues(provider, model).Add(float64(outputTokens))
	if err != nil {
		m.llmErrors.WithLabelValues(provider, model).Inc()
	}
}

func (m *PrometheusMetrics) RecordToolExecution(_ context.Context, tool string, duration time.Duration, err error) {
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if err != nil {
		m.toolErrors.WithLabelValues(tool).Inc()
	}
}

func (m *PrometheusMetrics) RecordSearch(_ context.Context, mode string, duration time.Duration, results int) {
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.searchResults.WithLabelValues(mode).Observe(float64(results))
}

func (m *PrometheusMetrics) RecordIngest(_ context.Context, added, updated, deleted int) {
	m.ingestDocs.WithLabelValues("added").Add(float64(added))
	m.ingestDocs.WithLabelValues("updated").Add(float64(updated))
	m.ingestDocs.WithLabelValues("deleted").Add(float64(deleted))
}

// SetGlobalMetrics installs the process-wide recorder. Passing nil disables
// recording.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, or nil. Callers must
// nil-check.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
