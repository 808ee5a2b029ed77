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

// OpenAIProvider speaks the chat-completions API. It also serves any
// OpenAI-compatible endpoint via Config.Host.
type OpenAIProvider struct {
	cfg    Config
	client *httpclient.Client
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	cfg.SetDefaults()
	return &OpenAIProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg, httpclient.ParseOpenAIRateLimitHeaders),
	}
}

type openaiRequest struct {
	Model           string                `json:"model"`
	Messages        []openaiMessage       `json:"messages"`
	MaxTokens       *int                  `json:"max_completion_tokens,omitempty"`
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"top_p,omitempty"`
	Stop            []string              `json:"stop,omitempty"`
	Stream          bool                  `json:"stream"`
	StreamOptions   *openaiStreamOptions  `json:"stream_options,omitempty"`
	Tools           []openaiTool          `json:"tools,omitempty"`
	ToolChoice      any                   `json:"tool_choice,omitempty"`
	ResponseFormat  *openaiResponseFormat `json:"response_format,omitempty"`
	ReasoningEffort string                `json:"reasoning_effort,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openaiJSONSchema `json:"json_schema,omitempty"`
}

type openaiJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *openaiError `json:"error"`
}

type openaiStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *openaiError `json:"error"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.cfg.Model }
func (p *OpenAIProvider) Close() error  { return nil }

func (p *OpenAIProvider) Complete(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (*CompletionResult, error) {
	started := time.Now()
	ctx, span := startSpan(ctx, p.Name(), p.cfg.Model, false)

	request := p.buildRequest(conv, opts, false)
	body, err := postJSON(ctx, p.client, p.cfg.Host+"/chat/completions", request, p.headers())
	if err != nil {
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	var response openaiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		err = fault.Wrap(fault.KindService, "openai.complete", err)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if response.Error != nil {
		err = fault.New(fault.KindService, "openai.complete", response.Error.Message)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if len(response.Choices) == 0 {
		err = fault.New(fault.KindService, "openai.complete", "no choices returned")
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	choice := response.Choices[0]
	calls, err := parseOpenAIToolCalls(choice.Message.ToolCalls)
	if err != nil {
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	result := &CompletionResult{
		Text:         choice.Message.Content,
		ToolCalls:    calls,
		Model:        p.cfg.Model,
		Usage:        p.usageFrom(response.Usage, conv, choice.Message.Content),
		FinishReason: openAIFinishReason(choice.FinishReason, len(calls)),
	}
	finishSpan(ctx, span, p.Name(), p.cfg.Model, started, result.Usage, nil)
	return result, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (<-chan StreamEvent, error) {
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

// streamOnce reads one SSE stream and emits normalized events. Tool-call
// completes, then usage, then finish, per the stream contract.
func (p *OpenAIProvider) streamOnce(ctx context.Context, request openaiRequest, conv protocol.Conversation, events chan<- StreamEvent) (Usage, error) {
	body, err := postStream(ctx, p.client, p.cfg.Host+"/chat/completions", request, p.headers())
	if err != nil {
		return Usage{}, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	fragments := newFragmentBuffer()
	var text bytes.Buffer
	var usage *openaiUsage
	finish := FinishStop

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return Usage{}, fault.Wrap(fault.KindNetwork, "openai.stream", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[len("data: "):]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk openaiStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Usage{}, &fault.Error{Kind: fault.KindStreamProtocol, Op: "openai.stream", Message: "malformed stream payload", Err: err}
		}
		if chunk.Error != nil {
			return Usage{}, fault.New(fault.KindService, "openai.stream", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			events <- StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}
		}
		for _, delta := range choice.Delta.ToolCalls {
			index := 0
			if delta.Index != nil {
				index = *delta.Index
			}
			frag := fragments.add(index, delta.ID, delta.Function.Name, delta.Function.Arguments)
			events <- StreamEvent{Type: EventToolCallPartial, Partial: &frag}
		}
		if choice.FinishReason != "" {
			finish = openAIFinishReason(choice.FinishReason, len(fragments.order))
		}
	}

	calls, err := fragments.complete()
	if err != nil {
		return Usage{}, err
	}
	for i := range calls {
		events <- StreamEvent{Type: EventToolCallComplete, ToolCall: &calls[i]}
	}

	final := p.usageFrom(usage, conv, text.String())
	events <- StreamEvent{Type: EventUsage, Usage: &final}
	events <- StreamEvent{Type: EventFinish, Finish: finish}
	return final, nil
}

func (p *OpenAIProvider) headers() map[string]string {
	h := map[string]string{}
	if p.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + p.cfg.APIKey
	}
	if p.cfg.OrganizationID != "" {
		h["OpenAI-Organization"] = p.cfg.OrganizationID
	}
	return h
}

func (p *OpenAIProvider) buildRequest(conv protocol.Conversation, opts CompletionOptions, stream bool) openaiRequest {
	messages := make([]openaiMessage, 0, conv.Len())
	for _, m := range conv.Messages() {
		msg := openaiMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openaiFunctionCall{
					Name:      call.Name,
					Arguments: call.ArgumentsJSON(),
				},
			})
		}
		messages = append(messages, msg)
	}

	request := openaiRequest{
		Model:           p.cfg.Model,
		Messages:        messages,
		Temperature:     coalesceTemperature(opts.Temperature, p.cfg.Temperature),
		TopP:            opts.TopP,
		Stop:            opts.StopSequences,
		Stream:          stream,
		ReasoningEffort: string(opts.ReasoningEffort),
	}
	if stream {
		request.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		request.MaxTokens = &maxTokens
	}

	for _, tool := range opts.Tools {
		request.Tools = append(request.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.ParametersJSON(),
			},
		})
	}
	if len(opts.Tools) > 0 {
		request.ToolChoice = openAIToolChoice(opts.ToolChoice, opts.NamedTool)
	}

	if opts.ResponseSchema != nil {
		request.ResponseFormat = &openaiResponseFormat{
			Type: "json_schema",
			JSONSchema: &openaiJSONSchema{
				Name:   "response",
				Schema: opts.ResponseSchema.ToStrictJSON(),
				Strict: true,
			},
		}
	}
	return request
}

func (p *OpenAIProvider) usageFrom(u *openaiUsage, conv protocol.Conversation, completion string) Usage {
	if u == nil {
		return EstimateUsage(p.cfg.Model, conv, completion)
	}
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func parseOpenAIToolCalls(raw []openaiToolCall) ([]protocol.ToolCall, error) {
	var calls []protocol.ToolCall
	for _, tc := range raw {
		args, err := protocol.ParseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		id := tc.ID
		if id == "" {
			id = protocol.NewToolCallID()
		}
		calls = append(calls, protocol.ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return calls, nil
}

func openAIFinishReason(reason string, toolCalls int) FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		if toolCalls > 0 {
			return FinishToolCalls
		}
		return FinishStop
	}
}

func openAIToolChoice(choice ToolChoice, named string) any {
	switch choice {
	case ToolChoiceNone:
		return "none"
	case ToolChoiceRequired:
		return "required"
	case ToolChoiceNamed:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": named},
		}
	default:
		return "auto"
	}
}

func coalesceTemperature(override, fallback *float64) *float64 {
	if override != nil {
		return override
	}
	return fallback
}
