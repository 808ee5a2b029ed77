package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics implements Metrics on the global OpenTelemetry meter provider,
// for deployments that ship measurements through an OTLP collector instead of
// scraping Prometheus.
type OTelMetrics struct {
	agentDuration metric.Float64Histogram
	agentSteps    metric.Int64Histogram
	agentErrors   metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmTokens   metric.Int64Counter
	llmErrors   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolErrors   metric.Int64Counter

	searchDuration metric.Float64Histogram
	searchResults  metric.Int64Histogram

	ingestDocs metric.Int64Counter
}

func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("loom")
	m := &OTelMetrics{}

	var err error
	if m.agentDuration, err = meter.Float64Histogram("loom.agent.run.duration",
		metric.WithUnit("s"), metric.WithDescription("Duration of complete agent runs.")); err != nil {
		return nil, err
	}
	if m.agentSteps, err = meter.Int64Histogram("loom.agent.run.steps",
		metric.WithDescription("Steps taken per agent run.")); err != nil {
		return nil, err
	}
	if m.agentErrors, err = meter.Int64Counter("loom.agent.run.errors",
		metric.WithDescription("Failed agent runs.")); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram("loom.llm.call.duration",
		metric.WithUnit("s"), metric.WithDescription("Duration of provider completion calls.")); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter("loom.llm.tokens",
		metric.WithDescription("Tokens exchanged with providers, by direction.")); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter("loom.llm.call.errors",
		metric.WithDescription("Failed provider calls.")); err != nil {
		return nil, err
	}
	if m.toolDuration, err = meter.Float64Histogram("loom.tool.execution.duration",
		metric.WithUnit("s"), metric.WithDescription("Duration of tool handler invocations.")); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter("loom.tool.execution.errors",
		metric.WithDescription("Failed tool handler invocations.")); err != nil {
		return nil, err
	}
	if m.searchDuration, err = meter.Float64Histogram("loom.search.duration",
		metric.WithUnit("s"), metric.WithDescription("Duration of retrieval searches.")); err != nil {
		return nil, err
	}
	if m.searchResults, err = meter.Int64Histogram("loom.search.results",
		metric.WithDescription("Result counts per retrieval search.")); err != nil {
		return nil, err
	}
	if m.ingestDocs, err = meter.Int64Counter("loom.ingest.documents",
		metric.WithDescription("Documents processed by ingestion, by outcome.")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OTelMetrics) RecordAgentRun(ctx context.Context, agent string, duration time.Duration, steps int, err error) {
	attrs := metric.WithAttributes(attribute.String(AttrAgentName, agent))
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentSteps.Record(ctx, int64(steps), attrs)
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

func (m *OTelMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	base := []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	}
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(base...))
	m.llmTokens.Add(ctx, int64(inputTokens),
		metric.WithAttributes(append(base, attribute.String("direction", "input"))...))
	m.llmTokens.Add(ctx, int64(outputTokens),
		metric.WithAttributes(append(base, attribute.String("direction", "output"))...))
	if err != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(base...))
	}
}

func (m *OTelMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String(AttrToolName, tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *OTelMetrics) RecordSearch(ctx context.Context, mode string, duration time.Duration, results int) {
	attrs := metric.WithAttributes(attribute.String("search.mode", mode))
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	m.searchResults.Record(ctx, int64(results), attrs)
}

func (m *OTelMetrics) RecordIngest(ctx context.Context, added, updated, deleted int) {
	outcome := func(name string) metric.AddOption {
		return metric.WithAttributes(attribute.String("outcome", name))
	}
	m.ingestDocs.Add(ctx, int64(added), outcome("added"))
	m.ingestDocs.Add(ctx, int64(updated), outcome("updated"))
	m.ingestDocs.Add(ctx, int64(deleted), outcome("deleted"))
}

var _ Metrics = (*OTelMetrics)(nil)
