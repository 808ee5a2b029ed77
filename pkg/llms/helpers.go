package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/httpclient"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/protocol"
)

const streamBufferSize = 100

func newHTTPClient(cfg Config, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}

// postJSON marshals the payload and executes it through the retrying client.
// The returned body is fully read and the response closed.
func postJSON(ctx context.Context, client *httpclient.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "llms.request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "llms.request", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "llms.response", err)
	}
	return body, nil
}

// postStream executes a streaming request and hands the open body to the
// caller, which must close it.
func postStream(ctx context.Context, client *httpclient.Client, url string, payload any, headers map[string]string) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "llms.request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "llms.request", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// startSpan opens the shared llm.request span.
func startSpan(ctx context.Context, provider, model string, streaming bool) (context.Context, trace.Span) {
	tracer := observability.GetTracer("loom.llms")
	return tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, provider),
			attribute.String(observability.AttrLLMModel, model),
			attribute.Bool("llm.streaming", streaming),
		),
	)
}

// finishSpan records the outcome on the span and the global metrics recorder.
func finishSpan(ctx context.Context, span trace.Span, provider, model string, started time.Time, usage Usage, err error) {
	duration := time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int(observability.AttrLLMTokensInput, usage.PromptTokens),
			attribute.Int(observability.AttrLLMTokensOutput, usage.CompletionTokens),
		)
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, provider, model, duration, usage.PromptTokens, usage.CompletionTokens, err)
	}
}

// fragmentBuffer accumulates streamed tool-call argument fragments per call
// id and assembles complete calls once the arguments form valid JSON.
type fragmentBuffer struct {
	order []string
	names map[string]string
	args  map[string]*bytes.Buffer
	index map[int]string
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{
		names: make(map[string]string),
		args:  make(map[string]*bytes.Buffer),
		index: make(map[int]string),
	}
}

// add records one fragment. An empty id refers to the call previously seen at
// the same stream index, matching the OpenAI delta format.
func (b *fragmentBuffer) add(index int, id, name, argsFragment string) ToolCallFragment {
	if id == "" {
		id = b.index[index]
	}
	if _, seen := b.args[id]; !seen {
		b.order = append(b.order, id)
		b.args[id] = &bytes.Buffer{}
	}
	b.index[index] = id
	if name != "" {
		b.names[id] += name
	}
	if argsFragment != "" {
		b.args[id].WriteString(argsFragment)
	}
	return ToolCallFragment{ID: id, Name: b.names[id], ArgsFragment: argsFragment}
}

// complete assembles the buffered calls in declaration order. Arguments that
// do not form valid JSON fail the stream.
func (b *fragmentBuffer) complete() ([]protocol.ToolCall, error) {
	calls := make([]protocol.ToolCall, 0, len(b.order))
	for _, id := range b.order {
		args, err := protocol.ParseArguments(b.args[id].String())
		if err != nil {
			return nil, err
		}
		calls = append(calls, protocol.ToolCall{ID: id, Name: b.names[id], Arguments: args})
	}
	return calls, nil
}
