package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/httpclient"
)

// Ollama's llama runner crashes on concurrent embedding requests, so all
// requests through this process are serialized.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder calls the local /api/embeddings endpoint. The API takes one
// prompt per request; batches iterate.
type OllamaEmbedder struct {
	cfg    Config
	client *httpclient.Client
}

func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	cfg.SetDefaults()
	return &OllamaEmbedder{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		),
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

func (e *OllamaEmbedder) Name() string   { return "ollama" }
func (e *OllamaEmbedder) Model() string  { return e.cfg.Model }
func (e *OllamaEmbedder) Dimension() int { return e.cfg.Dimension }
func (e *OllamaEmbedder) Close() error   { return nil }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := startEmbedSpan(ctx, e.Name(), e.cfg.Model, len(texts))

	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	results := make([][]float32, 0, len(texts))
	var err error
	for _, text := range texts {
		var vector []float32
		vector, err = e.embedOne(ctx, text)
		if err != nil {
			break
		}
		results = append(results, vector)
	}

	finishEmbedSpan(span, err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	raw, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "embedder.ollama", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embeddings", bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindNetwork, "embedder.ollama", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fault.Wrap(fault.KindService, "embedder.ollama", err)
	}
	if response.Error != "" {
		return nil, fault.New(fault.KindService, "embedder.ollama", response.Error)
	}
	if len(response.Embedding) == 0 {
		return nil, fault.New(fault.KindService, "embedder.ollama", "received empty embedding")
	}
	return response.Embedding, nil
}
