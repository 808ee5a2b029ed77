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

// OllamaProvider speaks the local /api/chat endpoint. Ollama streams
// newline-delimited JSON rather than SSE and sends tool-call arguments as
// complete objects.
type OllamaProvider struct {
	cfg    Config
	client *httpclient.Client
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	cfg.SetDefaults()
	return &OllamaProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg, nil),
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openaiTool    `json:"tools,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.cfg.Model }
func (p *OllamaProvider) Close() error  { return nil }

func (p *OllamaProvider) Complete(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (*CompletionResult, error) {
	started := time.Now()
	ctx, span := startSpan(ctx, p.Name(), p.cfg.Model, false)

	request := p.buildRequest(conv, opts, false)
	body, err := postJSON(ctx, p.client, p.cfg.Host+"/api/chat", request, nil)
	if err != nil {
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		err = fault.Wrap(fault.KindService, "ollama.complete", err)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if response.Error != "" {
		err = fault.New(fault.KindService, "ollama.complete", response.Error)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	calls := parseOllamaToolCalls(response.Message.ToolCalls)
	result := &CompletionResult{
		Text:         response.Message.Content,
		ToolCalls:    calls,
		Model:        p.cfg.Model,
		Usage:        p.usageFrom(&response, conv, response.Message.Content),
		FinishReason: ollamaFinishReason(response.DoneReason, len(calls)),
	}
	finishSpan(ctx, span, p.Name(), p.cfg.Model, started, result.Usage, nil)
	return result, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (<-chan StreamEvent, error) {
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

func (p *OllamaProvider) streamOnce(ctx context.Context, request ollamaRequest, conv protocol.Conversation, events chan<- StreamEvent) (Usage, error) {
	body, err := postStream(ctx, p.client, p.cfg.Host+"/api/chat", request, nil)
	if err != nil {
		return Usage{}, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	var text bytes.Buffer
	var calls []protocol.ToolCall
	var last ollamaResponse

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return Usage{}, fault.Wrap(fault.KindNetwork, "ollama.stream", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Usage{}, &fault.Error{Kind: fault.KindStreamProtocol, Op: "ollama.stream", Message: "malformed stream payload", Err: err}
		}
		if chunk.Error != "" {
			return Usage{}, fault.New(fault.KindService, "ollama.stream", chunk.Error)
		}

		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			events <- StreamEvent{Type: EventTextDelta, Text: chunk.Message.Content}
		}
		calls = append(calls, parseOllamaToolCalls(chunk.Message.ToolCalls)...)

		if chunk.Done {
			last = chunk
			break
		}
	}

	for i := range calls {
		events <- StreamEvent{Type: EventToolCallComplete, ToolCall: &calls[i]}
	}

	final := p.usageFrom(&last, conv, text.String())
	events <- StreamEvent{Type: EventUsage, Usage: &final}
	events <- StreamEvent{Type: EventFinish, Finish: ollamaFinishReason(last.DoneReason, len(calls))}
	return final, nil
}

func (p *OllamaProvider) buildRequest(conv protocol.Conversation, opts CompletionOptions, stream bool) ollamaRequest {
	messages := make([]ollamaMessage, 0, conv.Len())
	for _, m := range conv.Messages() {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, call := range m.ToolCalls {
			args := call.Arguments
			if args == nil {
				args = map[string]any{}
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
				Function: ollamaFunction{Name: call.Name, Arguments: args},
			})
		}
		messages = append(messages, msg)
	}

	request := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}

	options := &ollamaOptions{
		Temperature: coalesceTemperature(opts.Temperature, p.cfg.Temperature),
		TopP:        opts.TopP,
		Stop:        opts.StopSequences,
	}
	if opts.MaxTokens > 0 {
		options.NumPredict = opts.MaxTokens
	} else if p.cfg.MaxTokens > 0 {
		options.NumPredict = p.cfg.MaxTokens
	}
	request.Options = options

	if len(opts.Tools) > 0 && opts.ToolChoice != ToolChoiceNone {
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
	}

	if opts.ResponseSchema != nil {
		if raw, err := json.Marshal(opts.ResponseSchema.ToJSON()); err == nil {
			request.Format = raw
		}
	}
	return request
}

func (p *OllamaProvider) usageFrom(r *ollamaResponse, conv protocol.Conversation, completion string) Usage {
	if r == nil || (r.PromptEvalCount == 0 && r.EvalCount == 0) {
		return EstimateUsage(p.cfg.Model, conv, completion)
	}
	return Usage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

func parseOllamaToolCalls(raw []ollamaToolCall) []protocol.ToolCall {
	var calls []protocol.ToolCall
	for _, tc := range raw {
		calls = append(calls, protocol.ToolCall{
			ID:        protocol.NewToolCallID(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return calls
}

func ollamaFinishReason(reason string, toolCalls int) FinishReason {
	switch reason {
	case "length":
		return FinishLength
	default:
		if toolCalls > 0 {
			return FinishToolCalls
		}
		return FinishStop
	}
}
