// Package llms normalizes chat-completion providers behind one contract.
// Adapters translate request and response shapes for their upstream and never
// leak provider field names above this boundary.
package llms

import (
	"context"

	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/schema"
)

// FinishReason explains why the model stopped emitting.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"

	// ToolChoiceNamed forces the tool named in CompletionOptions.NamedTool.
	ToolChoiceNamed ToolChoice = "named"
)

// ReasoningEffort sets the reasoning depth for models that support it.
type ReasoningEffort string

const (
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// ToolDefinition declares a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *schema.Schema
}

// ParametersJSON renders the parameter schema as a JSON-Schema document.
// A nil schema renders as an empty object schema.
func (d ToolDefinition) ParametersJSON() map[string]any {
	if d.Parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return d.Parameters.ToJSON()
}

// Usage reports token consumption. Estimated is set when the upstream did
// not return usage and the counts come from the local tokenizer.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// CompletionOptions tune a single completion request. The zero value asks
// for a plain completion with provider defaults.
type CompletionOptions struct {
	MaxTokens       int
	Temperature     *float64
	TopP            *float64
	StopSequences   []string
	Tools           []ToolDefinition
	ToolChoice      ToolChoice
	NamedTool       string
	ReasoningEffort ReasoningEffort

	// ResponseSchema, when set, requests strict JSON output conforming to
	// the schema on providers that support it.
	ResponseSchema *schema.Schema
}

// CompletionResult is the normalized non-streaming response.
type CompletionResult struct {
	Text         string
	ToolCalls    []protocol.ToolCall
	Model        string
	Usage        Usage
	FinishReason FinishReason
}

// EventType discriminates StreamEvent variants.
type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolCallPartial  EventType = "tool_call_partial"
	EventToolCallComplete EventType = "tool_call_complete"
	EventUsage            EventType = "usage"
	EventFinish           EventType = "finish"
	EventError            EventType = "error"
)

// ToolCallFragment is a partial tool call observed mid-stream. ArgsFragment
// is a raw JSON fragment; fragments for one call id concatenate into the
// full arguments document.
type ToolCallFragment struct {
	ID           string
	Name         string
	ArgsFragment string
}

// StreamEvent is one element of a completion stream. For any tool call its
// complete event precedes the finish event, and the usage event precedes the
// finish event. An error event is terminal.
type StreamEvent struct {
	Type     EventType
	Text     string
	Partial  *ToolCallFragment
	ToolCall *protocol.ToolCall
	Usage    *Usage
	Finish   FinishReason
	Err      error
}

// Provider is the uniform completion contract. Implementations are safe for
// concurrent use; retry state is per-call.
type Provider interface {
	// Name returns the provider type ("openai", "anthropic", ...).
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Complete performs a blocking completion.
	Complete(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (*CompletionResult, error)

	// Stream performs a streaming completion. The channel is closed after
	// the finish or error event.
	Stream(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (<-chan StreamEvent, error)

	Close() error
}
