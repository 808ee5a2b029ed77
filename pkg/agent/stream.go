package agent

import (
	"context"

	"github.com/loomlabs/loom/pkg/protocol"
)

// EventType labels a run event.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentFailed    EventType = "agent_failed"

	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"

	EventTextDelta    EventType = "text_delta"
	EventTextComplete EventType = "text_complete"

	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventToolCallFailed    EventType = "tool_call_failed"

	EventInputGuardrailStarted    EventType = "input_guardrail_started"
	EventInputGuardrailCompleted  EventType = "input_guardrail_completed"
	EventOutputGuardrailStarted   EventType = "output_guardrail_started"
	EventOutputGuardrailCompleted EventType = "output_guardrail_completed"

	EventHandoffStarted   EventType = "handoff_started"
	EventHandoffCompleted EventType = "handoff_completed"
)

// Event is one observation from a streaming run. Fields beyond Type are set
// per event kind: Text for deltas and guardrail verdicts, ToolCall for tool
// events, Target for handoffs, State on the terminal event.
type Event struct {
	Type      EventType
	Agent     string
	Step      int
	Text      string
	ToolCall  *protocol.ToolCall
	Guardrail string
	Target    string
	State     *State
	Err       error
}

type eventSink func(Event)

func emit(sink eventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

// RunStream executes a full run like Run but reports progress on the
// returned channel. The channel is closed after the terminal event; the
// terminal AgentCompleted or AgentFailed event carries the final state.
func (e *Engine) RunStream(ctx context.Context, query string) (<-chan Event, error) {
	state, err := e.Initialize(query)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, streamEventBuffer)
	go func() {
		defer close(events)
		sink := func(ev Event) {
			if ev.Agent == "" {
				ev.Agent = e.name
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		sink(Event{Type: EventAgentStarted})
		final, runErr := e.runLoop(ctx, state, sink)
		if runErr != nil || final.status.Phase == PhaseFailed {
			sink(Event{Type: EventAgentFailed, State: final, Err: runErr})
			return
		}
		sink(Event{Type: EventAgentCompleted, State: final, Text: final.FinalText()})
	}()
	return events, nil
}

// RunWithEvents executes a full run like Run, invoking handler inline for
// every event RunStream would deliver, in the same order. The handler runs on
// the calling goroutine; the terminal event carries the final state, which is
// also returned. A nil handler degrades to Run.
func (e *Engine) RunWithEvents(ctx context.Context, query string, handler func(Event)) (*State, error) {
	if handler == nil {
		return e.Run(ctx, query)
	}
	state, err := e.Initialize(query)
	if err != nil {
		return nil, err
	}

	sink := func(ev Event) {
		if ev.Agent == "" {
			ev.Agent = e.name
		}
		handler(ev)
	}

	sink(Event{Type: EventAgentStarted})
	final, runErr := e.runLoop(ctx, state, sink)
	if runErr != nil || final.status.Phase == PhaseFailed {
		sink(Event{Type: EventAgentFailed, State: final, Err: runErr})
		return final, runErr
	}
	sink(Event{Type: EventAgentCompleted, State: final, Text: final.FinalText()})
	return final, nil
}

const streamEventBuffer = 100
