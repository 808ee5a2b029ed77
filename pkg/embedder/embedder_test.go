package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
)

func TestOpenAIEmbedBatchOrder(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}

		// Answer out of order; the client must re-seat by index.
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		items := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			items = append(items, item{Embedding: []float32{float32(i), float32(i)}, Index: i})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(Config{
		Type:      "openai",
		APIKey:    "sk-test",
		Host:      server.URL,
		BatchSize: 2,
	})

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	// Batch size 2 over 5 inputs makes 3 requests.
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want 3", requests.Load())
	}
	// Each sub-batch is indexed from zero, so the first element is the
	// position within its batch of two.
	for i, v := range vectors {
		if want := float32(i % 2); v[0] != want {
			t.Errorf("vectors[%d] = %v, want first element %v", i, v, want)
		}
	}
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(Config{Type: "openai", APIKey: "sk-test", Host: server.URL})
	_, err := e.Embed(context.Background(), []string{"a"})
	if fault.KindOf(err) != fault.KindService {
		t.Fatalf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestEmptyBatchSkipsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached for an empty batch")
	}))
	defer server.Close()

	for _, e := range []Embedder{
		NewOpenAIEmbedder(Config{Type: "openai", APIKey: "sk-test", Host: server.URL}),
		NewOllamaEmbedder(Config{Type: "ollama", Host: server.URL}),
	} {
		vectors, err := e.Embed(context.Background(), nil)
		if err != nil {
			t.Errorf("%s: %v", e.Name(), err)
		}
		if len(vectors) != 0 {
			t.Errorf("%s returned %d vectors for empty input", e.Name(), len(vectors))
		}
	}
}

func TestOllamaEmbedPerText(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprintf(w, `{"embedding": [%d]}`, n)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(Config{Type: "ollama", Host: server.URL})
	vectors, err := e.Embed(context.Background(), []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	if requests.Load() != 3 {
		t.Errorf("requests = %d, want one per text", requests.Load())
	}
	for i, v := range vectors {
		if v[0] != float32(i+1) {
			t.Errorf("vectors[%d] = %v, out of order", i, v)
		}
	}
}

func TestOllamaEmbedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "model not found"}`)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(Config{Type: "ollama", Host: server.URL})
	_, err := e.Embed(context.Background(), []string{"x"})
	if fault.KindOf(err) != fault.KindService {
		t.Fatalf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestNewEmbedderFactory(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    string
	}{
		{"openai", Config{Type: "openai", APIKey: "sk-test"}, false, "openai"},
		{"ollama defaults", Config{Type: "ollama"}, false, "ollama"},
		{"openai without key", Config{Type: "openai"}, true, ""},
		{"unknown type", Config{Type: "cohere"}, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEmbedder(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if e.Name() != tc.want {
				t.Errorf("name = %q, want %q", e.Name(), tc.want)
			}
			if e.Dimension() == 0 {
				t.Error("dimension defaulted to 0")
			}
		})
	}
}

func TestConfigRedactsAPIKey(t *testing.T) {
	cfg := Config{Type: "openai", Model: "text-embedding-3-small", APIKey: "sk-embed-secret"}

	for verb, out := range map[string]string{
		"%+v": fmt.Sprintf("%+v", cfg),
		"%#v": fmt.Sprintf("%#v", cfg),
	} {
		if strings.Contains(out, "sk-embed-secret") {
			t.Errorf("%s rendering leaks the api key: %s", verb, out)
		}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-embed-secret") {
		t.Errorf("json rendering leaks the api key: %s", raw)
	}
}
