package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomlabs/loom/pkg/protocol"
)

func ollamaTestProvider(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOllamaProvider(Config{
		Type:  "ollama",
		Model: "llama3.2",
		Host:  server.URL,
	})
}

func TestOllamaComplete(t *testing.T) {
	provider := ollamaTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream flag set on blocking call")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "local answer"},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 9,
			"eval_count":        3,
		})
	})

	conv := protocol.NewConversation(protocol.User("hi"))
	result, err := provider.Complete(context.Background(), conv, CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.Text != "local answer" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 12 || result.Usage.Estimated {
		t.Errorf("unexpected usage %+v", result.Usage)
	}
}

func TestOllamaCompleteToolCalls(t *testing.T) {
	provider := ollamaTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"function": map[string]any{
						"name":      "get_time",
						"arguments": map[string]any{"zone": "UTC"},
					},
				}},
			},
			"done":        true,
			"done_reason": "stop",
		})
	})

	conv := protocol.NewConversation(protocol.User("time?"))
	result, err := provider.Complete(context.Background(), conv, CompletionOptions{
		Tools: []ToolDefinition{{Name: "get_time", Description: "clock"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.ID == "" {
		t.Error("expected minted call id")
	}
	args, ok := call.Arguments.(map[string]any)
	if !ok || args["zone"] != "UTC" {
		t.Errorf("unexpected arguments %+v", call.Arguments)
	}
	if result.FinishReason != FinishToolCalls {
		t.Errorf("unexpected finish reason %q", result.FinishReason)
	}
}

func TestOllamaStreamNDJSON(t *testing.T) {
	provider := ollamaTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(
			`{"message":{"role":"assistant","content":"a"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":"b"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}` + "\n",
		))
	})

	conv := protocol.NewConversation(protocol.User("stream"))
	ch, err := provider.Stream(context.Background(), conv, CompletionOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	events := collectEvents(t, ch)

	var text string
	var usage *Usage
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventUsage:
			usage = ev.Usage
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if text != "ab" {
		t.Errorf("unexpected text %q", text)
	}
	if usage == nil || usage.TotalTokens != 6 {
		t.Errorf("unexpected usage %+v", usage)
	}
	if events[len(events)-1].Type != EventFinish {
		t.Error("finish is not the last event")
	}
}

func TestProviderFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"openai", Config{Type: "openai", Model: "gpt-4o", APIKey: "k"}, false},
		{"anthropic", Config{Type: "anthropic", Model: "claude-sonnet-4-5", APIKey: "k"}, false},
		{"gemini", Config{Type: "gemini", Model: "gemini-2.0-flash", APIKey: "k"}, false},
		{"ollama no key", Config{Type: "ollama", Model: "llama3.2"}, false},
		{"missing model", Config{Type: "openai", APIKey: "k"}, true},
		{"missing key", Config{Type: "openai", Model: "gpt-4o"}, true},
		{"unknown type", Config{Type: "mystery", Model: "m"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider failed: %v", err)
			}
			if provider.Name() != tt.cfg.Type {
				t.Errorf("unexpected name %q", provider.Name())
			}
		})
	}
}

func TestCountTokensFallback(t *testing.T) {
	n := CountTokens("totally-unknown-model", "hello world, this is a test")
	if n <= 0 {
		t.Errorf("expected positive estimate, got %d", n)
	}
}
