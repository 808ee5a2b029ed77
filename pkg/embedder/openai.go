package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/httpclient"
	"github.com/loomlabs/loom/pkg/observability"
)

// OpenAIEmbedder calls the /v1/embeddings endpoint. Batches above the
// configured size are split into sequential sub-requests; the API may return
// vectors out of order, so results are re-seated by index.
type OpenAIEmbedder struct {
	cfg    Config
	client *httpclient.Client
}

func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	cfg.SetDefaults()
	return &OpenAIEmbedder{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Name() string   { return "openai" }
func (e *OpenAIEmbedder) Model() string  { return e.cfg.Model }
func (e *OpenAIEmbedder) Dimension() int { return e.cfg.Dimension }
func (e *OpenAIEmbedder) Close() error   { return nil }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := startEmbedSpan(ctx, e.Name(), e.cfg.Model, len(texts))

	results := make([][]float32, 0, len(texts))
	var err error
	for i := 0; i < len(texts); i += e.cfg.BatchSize {
		end := min(i+e.cfg.BatchSize, len(texts))
		var batch [][]float32
		batch, err = e.embedBatch(ctx, texts[i:end])
		if err != nil {
			break
		}
		results = append(results, batch...)
	}

	finishEmbedSpan(span, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := json.Marshal(openaiEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "embedder.openai", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/embeddings", bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "embedder.openai", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fault.Wrap(fault.KindService, "embedder.openai", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fault.New(fault.KindService, "embedder.openai", "embedding count does not match input count")
	}

	vectors := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fault.New(fault.KindService, "embedder.openai", "embedding index out of range")
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func startEmbedSpan(ctx context.Context, provider, model string, batch int) (context.Context, trace.Span) {
	tracer := observability.GetTracer("loom.embedder")
	return tracer.Start(ctx, observability.SpanEmbed,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, provider),
			attribute.String(observability.AttrLLMModel, model),
			attribute.Int("embed.batch_size", batch),
		),
	)
}

func finishEmbedSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
