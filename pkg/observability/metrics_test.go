package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAgentRun(ctx, "support", 2*time.Second, 3, nil)
	m.RecordAgentRun(ctx, "support", time.Second, 1, errors.New("boom"))
	m.RecordLLMCall(ctx, "openai", "gpt-4o-mini", 300*time.Millisecond, 100, 40, nil)
	m.RecordToolExecution(ctx, "get_weather", 10*time.Millisecond, errors.New("down"))
	m.RecordSearch(ctx, "rrf", 5*time.Millisecond, 7)
	m.RecordIngest(ctx, 3, 1, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentErrors.WithLabelValues("support")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.llmInputTokens.WithLabelValues("openai", "gpt-4o-mini")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.llmOutputTokens.WithLabelValues("openai", "gpt-4o-mini")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolErrors.WithLabelValues("get_weather")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ingestDocs.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestDocs.WithLabelValues("updated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestDocs.WithLabelValues("deleted")))
}

func TestPrometheusMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)
	_, err = NewPrometheusMetrics(reg)
	assert.Error(t, err)
}

func TestOTelMetricsRecordWithoutProvider(t *testing.T) {
	// Without an installed meter provider the instruments are no-ops;
	// recording must still be safe.
	m, err := NewOTelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAgentRun(ctx, "support", time.Second, 2, nil)
	m.RecordLLMCall(ctx, "anthropic", "claude", time.Second, 10, 5, errors.New("x"))
	m.RecordToolExecution(ctx, "echo", time.Millisecond, nil)
	m.RecordSearch(ctx, "weighted", time.Millisecond, 0)
	m.RecordIngest(ctx, 0, 0, 0)
}

func TestGlobalMetricsInstall(t *testing.T) {
	require.Nil(t, GetGlobalMetrics())

	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	SetGlobalMetrics(m)
	t.Cleanup(func() { SetGlobalMetrics(nil) })
	assert.Same(t, Metrics(m), GetGlobalMetrics())
}
