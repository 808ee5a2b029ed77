package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/httpclient"
	"github.com/loomlabs/loom/pkg/protocol"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the messages API. The system message is lifted
// out of the transcript, and tool results travel as tool_result blocks
// inside user messages.
type AnthropicProvider struct {
	cfg    Config
	client *httpclient.Client
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	cfg.SetDefaults()
	return &AnthropicProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg, httpclient.ParseAnthropicRateLimitHeaders),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	ToolChoice    *anthropicChoice   `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	// text block
	Text string `json:"text,omitempty"`

	// tool_use block
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result block
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *anthropicUsage  `json:"usage"`
	Error      *anthropicError  `json:"error"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the SSE event payloads the adapter consumes.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *anthropicBlock `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *anthropicUsage `json:"usage"`

	Message *struct {
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`

	Error *anthropicError `json:"error"`
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.cfg.Model }
func (p *AnthropicProvider) Close() error  { return nil }

func (p *AnthropicProvider) Complete(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (*CompletionResult, error) {
	started := time.Now()
	ctx, span := startSpan(ctx, p.Name(), p.cfg.Model, false)

	request := p.buildRequest(conv, opts, false)
	body, err := postJSON(ctx, p.client, p.cfg.Host+"/v1/messages", request, p.headers())
	if err != nil {
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		err = fault.Wrap(fault.KindService, "anthropic.complete", err)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if response.Error != nil {
		err = fault.New(fault.KindService, "anthropic.complete", response.Error.Message)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	var text bytes.Buffer
	var calls []protocol.ToolCall
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, protocol.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	result := &CompletionResult{
		Text:         text.String(),
		ToolCalls:    calls,
		Model:        p.cfg.Model,
		Usage:        p.usageFrom(response.Usage, conv, text.String()),
		FinishReason: anthropicFinishReason(response.StopReason),
	}
	finishSpan(ctx, span, p.Name(), p.cfg.Model, started, result.Usage, nil)
	return result, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (<-chan StreamEvent, error) {
	request := p.buildRequest(conv, opts, true)

	events := make(chan StreamEvent, streamBufferSize)
	go func() {
		defer close(events)
		started := time.Now()
		ctx, span := startSpan(ctx, p.Name(), p.cfg.Model, true)

		usage, err := p.streamOnce(ctx, request, conv, events)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, usage, err)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
		}
	}()
	return events, nil
}

func (p *AnthropicProvider) streamOnce(ctx context.Context, request anthropicRequest, conv protocol.Conversation, events chan<- StreamEvent) (Usage, error) {
	body, err := postStream(ctx, p.client, p.cfg.Host+"/v1/messages", request, p.headers())
	if err != nil {
		return Usage{}, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	fragments := newFragmentBuffer()
	var text bytes.Buffer
	var usage anthropicUsage
	haveUsage := false
	finish := FinishStop

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return Usage{}, fault.Wrap(fault.KindNetwork, "anthropic.stream", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal(line[len("data: "):], &event); err != nil {
			return Usage{}, &fault.Error{Kind: fault.KindStreamProtocol, Op: "anthropic.stream", Message: "malformed stream payload", Err: err}
		}

		switch event.Type {
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return Usage{}, fault.New(fault.KindService, "anthropic.stream", msg)

		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				haveUsage = true
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				frag := fragments.add(event.Index, event.ContentBlock.ID, event.ContentBlock.Name, "")
				events <- StreamEvent{Type: EventToolCallPartial, Partial: &frag}
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				events <- StreamEvent{Type: EventTextDelta, Text: event.Delta.Text}
			case "input_json_delta":
				frag := fragments.add(event.Index, "", "", event.Delta.PartialJSON)
				events <- StreamEvent{Type: EventToolCallPartial, Partial: &frag}
			}

		case "message_delta":
			if event.Delta.StopReason != "" {
				finish = anthropicFinishReason(event.Delta.StopReason)
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
				haveUsage = true
			}

		case "message_stop":
			// Trailing events after message_stop are ignored.
		}
	}

	calls, err := fragments.complete()
	if err != nil {
		return Usage{}, err
	}
	for i := range calls {
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]any{}
		}
		events <- StreamEvent{Type: EventToolCallComplete, ToolCall: &calls[i]}
	}

	var final Usage
	if haveUsage {
		final = Usage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		}
	} else {
		final = EstimateUsage(p.cfg.Model, conv, text.String())
	}
	events <- StreamEvent{Type: EventUsage, Usage: &final}
	events <- StreamEvent{Type: EventFinish, Finish: finish}
	return final, nil
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

func (p *AnthropicProvider) buildRequest(conv protocol.Conversation, opts CompletionOptions, stream bool) anthropicRequest {
	var system string
	var messages []anthropicMessage

	for _, m := range conv.Messages() {
		switch m.Role {
		case protocol.RoleSystem:
			system = m.Content

		case protocol.RoleUser:
			messages = append(messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})

		case protocol.RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: blocks})

		case protocol.RoleTool:
			messages = append(messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	request := anthropicRequest{
		Model:         p.cfg.Model,
		System:        system,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   coalesceTemperature(opts.Temperature, p.cfg.Temperature),
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
		Stream:        stream,
	}

	for _, tool := range opts.Tools {
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.ParametersJSON(),
		})
	}
	if len(opts.Tools) > 0 {
		switch opts.ToolChoice {
		case ToolChoiceRequired:
			request.ToolChoice = &anthropicChoice{Type: "any"}
		case ToolChoiceNamed:
			request.ToolChoice = &anthropicChoice{Type: "tool", Name: opts.NamedTool}
		case ToolChoiceNone:
			request.Tools = nil
		default:
			request.ToolChoice = &anthropicChoice{Type: "auto"}
		}
	}
	return request
}

func (p *AnthropicProvider) usageFrom(u *anthropicUsage, conv protocol.Conversation, completion string) Usage {
	if u == nil {
		return EstimateUsage(p.cfg.Model, conv, completion)
	}
	return Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

func anthropicFinishReason(reason string) FinishReason {
	switch reason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "refusal":
		return FinishContentFilter
	default:
		return FinishStop
	}
}
