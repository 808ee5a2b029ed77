package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomlabs/loom/pkg/protocol"
)

func geminiTestProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewGeminiProvider(Config{
		Type:   "gemini",
		Model:  "gemini-2.0-flash",
		APIKey: "test-key",
		Host:   server.URL,
	})
}

func TestGeminiComplete(t *testing.T) {
	provider := geminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("missing key query parameter")
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be helpful" {
			t.Error("system instruction not set")
		}
		for _, c := range req.Contents {
			if c.Role != "user" && c.Role != "model" {
				t.Errorf("unexpected role %q", c.Role)
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "hi there"}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 6, "candidatesTokenCount": 2, "totalTokenCount": 8},
		})
	})

	conv := protocol.NewConversation(
		protocol.System("be helpful"),
		protocol.User("hello"),
		protocol.Assistant("earlier reply"),
		protocol.User("hello again"),
	)
	result, err := provider.Complete(context.Background(), conv, CompletionOptions{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.Text != "hi there" {
		t.Errorf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 8 {
		t.Errorf("unexpected usage %+v", result.Usage)
	}
}

func TestGeminiCompleteFunctionCallMintsID(t *testing.T) {
	provider := geminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role": "model",
					"parts": []map[string]any{{
						"functionCall": map[string]any{"name": "lookup", "args": map[string]any{"id": float64(7)}},
					}},
				},
				"finishReason": "STOP",
			}},
		})
	})

	conv := protocol.NewConversation(protocol.User("lookup 7"))
	result, err := provider.Complete(context.Background(), conv, CompletionOptions{
		Tools: []ToolDefinition{{Name: "lookup", Description: "id lookup"}},
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
	if call.Name != "lookup" {
		t.Errorf("unexpected name %q", call.Name)
	}
	if result.FinishReason != FinishToolCalls {
		t.Errorf("unexpected finish reason %q", result.FinishReason)
	}
}

func TestGeminiStream(t *testing.T) {
	provider := geminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"par\"}]}}]}\n\n" +
				"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"tial\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":2,\"totalTokenCount\":5}}\n\n",
		))
	})

	conv := protocol.NewConversation(protocol.User("stream"))
	ch, err := provider.Stream(context.Background(), conv, CompletionOptions{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	events := collectEvents(t, ch)

	var text string
	for _, ev := range events {
		if ev.Type == EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
	}
	if text != "partial" {
		t.Errorf("unexpected text %q", text)
	}
	if events[len(events)-1].Type != EventFinish {
		t.Error("finish is not the last event")
	}
}
