package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/guardrails"
	"github.com/loomlabs/loom/pkg/llms"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/tools"
)

const defaultMaxSteps = 10

// Engine drives one agent: a provider, a tool registry and the policies
// around them. Engines are safe for concurrent runs; all run state lives in
// State snapshots.
type Engine struct {
	name       string
	provider   llms.Provider
	tools      *tools.Registry
	maxSteps   int
	system     string
	completion llms.CompletionOptions
	strategy   tools.Strategy

	inputGuardrails  []guardrails.Guardrail
	outputGuardrails []guardrails.Guardrail

	handoffs      []Handoff
	chainHandoffs bool
	resolve       func(target string) (*Engine, bool)
}

type Option func(*Engine)

func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

func WithSystemMessage(s string) Option {
	return func(e *Engine) { e.system = s }
}

func WithCompletionOptions(opts llms.CompletionOptions) Option {
	return func(e *Engine) { e.completion = opts }
}

func WithToolStrategy(s tools.Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

func WithInputGuardrails(gs ...guardrails.Guardrail) Option {
	return func(e *Engine) { e.inputGuardrails = gs }
}

func WithOutputGuardrails(gs ...guardrails.Guardrail) Option {
	return func(e *Engine) { e.outputGuardrails = gs }
}

func WithHandoffs(hs ...Handoff) Option {
	return func(e *Engine) { e.handoffs = hs }
}

// WithChainedHandoffs makes Run execute handoff targets to completion
// instead of returning the handed-off state. The resolver maps target names
// to engines.
func WithChainedHandoffs(resolve func(target string) (*Engine, bool)) Option {
	return func(e *Engine) {
		e.chainHandoffs = true
		e.resolve = resolve
	}
}

func New(name string, provider llms.Provider, registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		name:     name,
		provider: provider,
		tools:    registry,
		maxSteps: defaultMaxSteps,
		strategy: tools.Sequential(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string {
	return e.name
}

// Initialize builds the starting state for a query.
func (e *Engine) Initialize(query string) (*State, error) {
	if query == "" {
		return nil, fault.Validation("agent.initialize", "query", "query cannot be empty")
	}

	var messages []protocol.Message
	if e.system != "" {
		messages = append(messages, protocol.System(e.system))
	}
	messages = append(messages, protocol.User(query))

	var toolNames []string
	if e.tools != nil {
		toolNames = e.tools.Names()
	}

	return &State{
		conversation:  protocol.NewConversation(messages...),
		initialQuery:  query,
		systemMessage: e.system,
		status:        InProgress(),
		toolNames:     toolNames,
	}, nil
}

// RunStep advances the state by exactly one transition. Terminal states are
// returned unchanged.
func (e *Engine) RunStep(ctx context.Context, state *State) (*State, error) {
	return e.runStep(ctx, state, nil)
}

func (e *Engine) runStep(ctx context.Context, state *State, sink eventSink) (*State, error) {
	if state.status.Terminal() {
		return state, nil
	}
	if err := ctx.Err(); err != nil {
		return state.withStatus(Failed(ReasonCancelled)), nil
	}

	tracer := observability.GetTracer("loom.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentStep,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, e.name),
			attribute.Int(observability.AttrAgentStep, state.stepCount+1),
		),
	)
	defer span.End()

	var next *State
	var err error
	switch state.status.Phase {
	case PhaseInProgress:
		next, err = e.stepComplete(ctx, state, sink)
	case PhaseWaitingForTools:
		next, err = e.stepTools(ctx, state, sink)
	default:
		return state.withStatus(Failed(ReasonInvalidState)),
			fault.New(fault.KindValidation, "agent.run_step", "unknown phase "+string(state.status.Phase))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return next, err
	}
	span.SetAttributes(attribute.String("agent.phase", string(next.status.Phase)))
	span.SetStatus(codes.Ok, "")
	return next, nil
}

// stepComplete handles the InProgress transition: guardrails, one provider
// completion, then routing on the assistant message.
func (e *Engine) stepComplete(ctx context.Context, state *State, sink eventSink) (*State, error) {
	conv := state.conversation

	// Input guardrails see the latest user message. A transform only
	// affects the text handed to the provider, never the transcript.
	if last, ok := conv.Last(); ok && last.Role == protocol.RoleUser && len(e.inputGuardrails) > 0 {
		text, rejection, err := e.applyGuardrails(ctx, e.inputGuardrails, last.Content, sink, EventInputGuardrailStarted, EventInputGuardrailCompleted)
		if err != nil {
			return state.withStatus(Failed(ReasonGuardrailRejected)), err
		}
		if rejection != "" {
			slog.Debug("Input guardrail rejected run", "agent", e.name, "reason", rejection)
			next := state.withStep("input guardrail rejected: " + rejection)
			return next.withStatus(Failed(ReasonGuardrailRejected)), nil
		}
		if text != last.Content {
			msgs := append([]protocol.Message(nil), conv.Messages()...)
			msgs[len(msgs)-1].Content = text
			conv = protocol.NewConversation(msgs...)
		}
	}

	opts := e.completion
	if e.tools != nil && e.tools.Count() > 0 {
		opts.Tools = e.tools.ToolDefinitions()
	}

	result, err := e.complete(ctx, conv, opts, sink)
	if err != nil {
		if fault.KindOf(err) == fault.KindCancelled {
			return state.withStatus(Failed(ReasonCancelled)), err
		}
		return state.withStatus(Failed(ReasonProviderError)), err
	}

	assistant := protocol.AssistantWithCalls(result.Text, result.ToolCalls...)
	next := state.withMessages(assistant).withStep(fmt.Sprintf("completion: %d tool calls", len(result.ToolCalls)))

	if len(result.ToolCalls) > 0 {
		return next.withStatus(WaitingForTools()), nil
	}

	if len(e.outputGuardrails) > 0 {
		_, rejection, err := e.applyGuardrails(ctx, e.outputGuardrails, result.Text, sink, EventOutputGuardrailStarted, EventOutputGuardrailCompleted)
		if err != nil {
			return next.withStatus(Failed(ReasonGuardrailRejected)), err
		}
		if rejection != "" {
			slog.Debug("Output guardrail rejected run", "agent", e.name, "reason", rejection)
			return next.withStatus(Failed(ReasonGuardrailRejected)), nil
		}
	}

	for _, handoff := range e.handoffs {
		if handoff.fires(result.Text) {
			emit(sink, Event{Type: EventHandoffStarted, Target: handoff.Target})
			return next.withStatus(HandedOff(handoff.Target)), nil
		}
	}
	return next.withStatus(Completed()), nil
}

// stepTools handles the WaitingForTools transition: invoke every pending
// call and append the results in declaration order. Handler failures are
// reified into the tool message body so the model can react.
func (e *Engine) stepTools(ctx context.Context, state *State, sink eventSink) (*State, error) {
	pending := state.conversation.PendingToolCalls()
	if len(pending) == 0 {
		return state.withStatus(InProgress()), nil
	}

	for i := range pending {
		emit(sink, Event{Type: EventToolCallStarted, ToolCall: &pending[i]})
	}

	results := e.tools.InvokeBatch(ctx, pending, e.strategy)
	if err := ctx.Err(); err != nil {
		return state.withStatus(Failed(ReasonCancelled)), nil
	}

	messages := make([]protocol.Message, 0, len(results))
	for i := range results {
		r := results[i]
		var body string
		if r.Err != nil {
			body = fmt.Sprintf("error: %v", r.Err)
			emit(sink, Event{Type: EventToolCallFailed, ToolCall: &results[i].Call, Err: r.Err})
		} else {
			body = tools.ResultJSON(r.Result)
			emit(sink, Event{Type: EventToolCallCompleted, ToolCall: &results[i].Call, Text: body})
		}
		messages = append(messages, protocol.ToolResult(r.Call.ID, r.Call.Name, body))
	}

	next := state.withMessages(messages...).withStep(fmt.Sprintf("tools: %d executed", len(results)))
	return next.withStatus(InProgress()), nil
}

// complete issues the provider call, streaming deltas to the sink when one
// is attached.
func (e *Engine) complete(ctx context.Context, conv protocol.Conversation, opts llms.CompletionOptions, sink eventSink) (*llms.CompletionResult, error) {
	if sink == nil {
		return e.provider.Complete(ctx, conv, opts)
	}

	events, err := e.provider.Stream(ctx, conv, opts)
	if err != nil {
		return nil, err
	}

	result := &llms.CompletionResult{Model: e.provider.Model(), FinishReason: llms.FinishStop}
	var text string
	for ev := range events {
		switch ev.Type {
		case llms.EventTextDelta:
			text += ev.Text
			emit(sink, Event{Type: EventTextDelta, Text: ev.Text})
		case llms.EventToolCallComplete:
			result.ToolCalls = append(result.ToolCalls, *ev.ToolCall)
		case llms.EventUsage:
			result.Usage = *ev.Usage
		case llms.EventFinish:
			result.FinishReason = ev.Finish
		case llms.EventError:
			return nil, ev.Err
		}
	}
	result.Text = text
	if text != "" {
		emit(sink, Event{Type: EventTextComplete, Text: text})
	}
	return result, nil
}

// applyGuardrails chains the guardrails, feeding each transform into the
// next check. It returns the final text and a rejection reason, if any.
func (e *Engine) applyGuardrails(ctx context.Context, gs []guardrails.Guardrail, text string, sink eventSink, startType, doneType EventType) (string, string, error) {
	current := text
	for _, g := range gs {
		emit(sink, Event{Type: startType, Guardrail: g.Name()})
		result, err := guardrails.Evaluate(ctx, g, current)
		if err != nil {
			return current, "", err
		}
		emit(sink, Event{Type: doneType, Guardrail: g.Name(), Text: string(result.Kind)})
		switch result.Kind {
		case guardrails.KindReject:
			return current, result.Reason, nil
		case guardrails.KindTransform:
			current = result.Text
		}
	}
	return current, "", nil
}

// Run executes a full run for the query: initialize, then step until a
// terminal state or the step limit. With maxSteps zero the initialized state
// is returned untouched.
func (e *Engine) Run(ctx context.Context, query string) (*State, error) {
	state, err := e.Initialize(query)
	if err != nil {
		return nil, err
	}
	return e.runLoop(ctx, state, nil)
}

// ContinueConversation appends a user message to a prior run and re-enters
// the loop with the step budget reset.
func (e *Engine) ContinueConversation(ctx context.Context, prior *State, userMessage string) (*State, error) {
	if prior == nil {
		return nil, fault.Validation("agent.continue", "prior", "prior state cannot be nil")
	}
	if userMessage == "" {
		return nil, fault.Validation("agent.continue", "message", "message cannot be empty")
	}

	state := prior.withMessages(protocol.User(userMessage)).withStatus(InProgress()).withStepCount(0)
	return e.runLoop(ctx, state, nil)
}

func (e *Engine) runLoop(ctx context.Context, state *State, sink eventSink) (*State, error) {
	started := time.Now()
	tracer := observability.GetTracer("loom.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, e.name)),
	)
	defer span.End()

	state, err := e.loopSteps(ctx, state, sink)

	duration := time.Since(started)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordAgentRun(ctx, e.name, duration, state.stepCount, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	span.SetAttributes(attribute.String("agent.status", string(state.status.Phase)))
	span.SetStatus(codes.Ok, "")

	if state.status.Phase == PhaseHandedOff && e.chainHandoffs && e.resolve != nil {
		return e.chainHandoff(ctx, state, sink)
	}
	return state, nil
}

func (e *Engine) loopSteps(ctx context.Context, state *State, sink eventSink) (*State, error) {
	for !state.status.Terminal() {
		if state.stepCount >= e.maxSteps {
			if state.stepCount == 0 {
				// A zero step budget leaves the initialized state
				// untouched.
				return state, nil
			}
			return state.withStatus(Failed(ReasonStepLimitExceeded)), nil
		}

		emit(sink, Event{Type: EventStepStarted, Step: state.stepCount + 1})
		next, err := e.runStep(ctx, state, sink)
		emit(sink, Event{Type: EventStepCompleted, Step: next.stepCount})
		if err != nil {
			return next, err
		}
		state = next
	}
	return state, nil
}

// chainHandoff resolves the handoff target and runs it to completion on the
// transferred conversation.
func (e *Engine) chainHandoff(ctx context.Context, state *State, sink eventSink) (*State, error) {
	target := state.status.Target
	targetEngine, ok := e.resolve(target)
	if !ok {
		return state, fault.New(fault.KindValidation, "agent.handoff", "unknown handoff target "+target)
	}

	var fired Handoff
	for _, h := range e.handoffs {
		if h.Target == target {
			fired = h
			break
		}
	}

	slog.Debug("Chaining handoff", "from", e.name, "to", target)
	next := handoffState(state, fired, targetEngine.system)
	final, err := targetEngine.runLoop(ctx, next, sink)
	emit(sink, Event{Type: EventHandoffCompleted, Target: target})
	return final, err
}
