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

// GeminiProvider speaks the generateContent API. Gemini transmits complete
// functionCall objects, so streams never carry argument fragments; calls are
// surfaced directly as complete events. Gemini does not assign call ids, so
// the adapter mints them.
type GeminiProvider struct {
	cfg    Config
	client *httpclient.Client
}

func NewGeminiProvider(cfg Config) *GeminiProvider {
	cfg.SetDefaults()
	return &GeminiProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg, nil),
	}
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []geminiTools    `json:"tools,omitempty"`
	ToolConfig        *geminiToolCfg   `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTools struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiFuncDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolCfg struct {
	FunctionCallingConfig geminiFuncCallCfg `json:"functionCallingConfig"`
}

type geminiFuncCallCfg struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiGenConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"topP,omitempty"`
	StopSequences    []string       `json:"stopSequences,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
	Error         *geminiError `json:"error"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.cfg.Model }
func (p *GeminiProvider) Close() error  { return nil }

func (p *GeminiProvider) Complete(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (*CompletionResult, error) {
	started := time.Now()
	ctx, span := startSpan(ctx, p.Name(), p.cfg.Model, false)

	url := p.cfg.Host + "/v1beta/models/" + p.cfg.Model + ":generateContent?key=" + p.cfg.APIKey
	body, err := postJSON(ctx, p.client, url, p.buildRequest(conv, opts), nil)
	if err != nil {
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	var response geminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		err = fault.Wrap(fault.KindService, "gemini.complete", err)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if response.Error != nil {
		err = fault.Service("gemini.complete", response.Error.Code, response.Error.Message)
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}
	if len(response.Candidates) == 0 {
		err = fault.New(fault.KindService, "gemini.complete", "no candidates returned")
		finishSpan(ctx, span, p.Name(), p.cfg.Model, started, Usage{}, err)
		return nil, err
	}

	candidate := response.Candidates[0]
	var text bytes.Buffer
	var calls []protocol.ToolCall
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			calls = append(calls, protocol.ToolCall{
				ID:        protocol.NewToolCallID(),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	result := &CompletionResult{
		Text:         text.String(),
		ToolCalls:    calls,
		Model:        p.cfg.Model,
		Usage:        p.usageFrom(response.UsageMetadata, conv, text.String()),
		FinishReason: geminiFinishReason(candidate.FinishReason, len(calls)),
	}
	finishSpan(ctx, span, p.Name(), p.cfg.Model, started, result.Usage, nil)
	return result, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, conv protocol.Conversation, opts CompletionOptions) (<-chan StreamEvent, error) {
	request := p.buildRequest(conv, opts)

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

func (p *GeminiProvider) streamOnce(ctx context.Context, request geminiRequest, conv protocol.Conversation, events chan<- StreamEvent) (Usage, error) {
	url := p.cfg.Host + "/v1beta/models/" + p.cfg.Model + ":streamGenerateContent?alt=sse&key=" + p.cfg.APIKey
	body, err := postStream(ctx, p.client, url, request, nil)
	if err != nil {
		return Usage{}, err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	var text bytes.Buffer
	var calls []protocol.ToolCall
	var usage *geminiUsage
	finish := FinishStop

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return Usage{}, fault.Wrap(fault.KindNetwork, "gemini.stream", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal(line[len("data: "):], &chunk); err != nil {
			return Usage{}, &fault.Error{Kind: fault.KindStreamProtocol, Op: "gemini.stream", Message: "malformed stream payload", Err: err}
		}
		if chunk.Error != nil {
			return Usage{}, fault.Service("gemini.stream", chunk.Error.Code, chunk.Error.Message)
		}
		if chunk.UsageMetadata != nil {
			usage = chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				events <- StreamEvent{Type: EventTextDelta, Text: part.Text}
			}
			if part.FunctionCall != nil {
				calls = append(calls, protocol.ToolCall{
					ID:        protocol.NewToolCallID(),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
		if candidate.FinishReason != "" {
			finish = geminiFinishReason(candidate.FinishReason, len(calls))
		}
	}

	for i := range calls {
		events <- StreamEvent{Type: EventToolCallComplete, ToolCall: &calls[i]}
	}

	final := p.usageFrom(usage, conv, text.String())
	events <- StreamEvent{Type: EventUsage, Usage: &final}
	events <- StreamEvent{Type: EventFinish, Finish: finish}
	return final, nil
}

func (p *GeminiProvider) buildRequest(conv protocol.Conversation, opts CompletionOptions) geminiRequest {
	request := geminiRequest{}

	for _, m := range conv.Messages() {
		switch m.Role {
		case protocol.RoleSystem:
			request.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content}},
			}

		case protocol.RoleUser:
			request.Contents = append(request.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})

		case protocol.RoleAssistant:
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFuncCall{Name: call.Name, Args: args},
				})
			}
			request.Contents = append(request.Contents, geminiContent{Role: "model", Parts: parts})

		case protocol.RoleTool:
			request.Contents = append(request.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFuncResp{
						Name:     m.Name,
						Response: map[string]any{"content": m.Content},
					},
				}},
			})
		}
	}

	gen := &geminiGenConfig{
		Temperature:   coalesceTemperature(opts.Temperature, p.cfg.Temperature),
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
	}
	if opts.MaxTokens > 0 {
		gen.MaxOutputTokens = opts.MaxTokens
	} else if p.cfg.MaxTokens > 0 {
		gen.MaxOutputTokens = p.cfg.MaxTokens
	}
	if opts.ResponseSchema != nil {
		gen.ResponseMimeType = "application/json"
		gen.ResponseSchema = opts.ResponseSchema.ToJSON()
	}
	request.GenerationConfig = gen

	if len(opts.Tools) > 0 && opts.ToolChoice != ToolChoiceNone {
		decls := make([]geminiFuncDecl, 0, len(opts.Tools))
		for _, tool := range opts.Tools {
			decls = append(decls, geminiFuncDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.ParametersJSON(),
			})
		}
		request.Tools = []geminiTools{{FunctionDeclarations: decls}}

		cfg := geminiFuncCallCfg{Mode: "AUTO"}
		switch opts.ToolChoice {
		case ToolChoiceRequired:
			cfg.Mode = "ANY"
		case ToolChoiceNamed:
			cfg.Mode = "ANY"
			cfg.AllowedFunctionNames = []string{opts.NamedTool}
		}
		request.ToolConfig = &geminiToolCfg{FunctionCallingConfig: cfg}
	}
	return request
}

func (p *GeminiProvider) usageFrom(u *geminiUsage, conv protocol.Conversation, completion string) Usage {
	if u == nil {
		return EstimateUsage(p.cfg.Model, conv, completion)
	}
	return Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func geminiFinishReason(reason string, toolCalls int) FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return FinishContentFilter
	default:
		if toolCalls > 0 {
			return FinishToolCalls
		}
		return FinishStop
	}
}
