package agent

import (
	"strings"

	"github.com/loomlabs/loom/pkg/protocol"
)

// Trigger decides whether a handoff fires for a final assistant message.
type Trigger func(assistantText string) bool

// Handoff routes a finished run to another agent.
type Handoff struct {
	// Target names the receiving agent.
	Target string

	// Reason is recorded in the run log when the handoff fires.
	Reason string

	// Trigger fires the handoff. Nil defaults to DefaultTrigger(Target).
	Trigger Trigger

	// PreserveContext carries the full conversation to the target; when
	// false only the latest user message transfers.
	PreserveContext bool

	// TransferSystemMessage carries the source system message to the
	// target instead of the target's own.
	TransferSystemMessage bool
}

// DefaultTrigger matches the conventional transfer marker the model emits
// when instructed to delegate.
func DefaultTrigger(target string) Trigger {
	marker := "transfer_to_" + target
	return func(text string) bool {
		return strings.Contains(strings.ToLower(text), marker)
	}
}

func (h Handoff) fires(text string) bool {
	trigger := h.Trigger
	if trigger == nil {
		trigger = DefaultTrigger(h.Target)
	}
	return trigger(text)
}

// handoffState builds the state the target agent starts from.
func handoffState(prior *State, h Handoff, targetSystem string) *State {
	system := targetSystem
	if h.TransferSystemMessage {
		system = prior.systemMessage
	}

	var conv protocol.Conversation
	if h.PreserveContext {
		// Strip the source system message; the target's own applies.
		var kept []protocol.Message
		for _, m := range prior.conversation.Messages() {
			if m.Role == protocol.RoleSystem {
				continue
			}
			kept = append(kept, m)
		}
		conv = protocol.NewConversation(kept...)
	} else if last, ok := prior.conversation.LastUser(); ok {
		conv = protocol.NewConversation(last)
	}
	if system != "" {
		conv = protocol.NewConversation(append([]protocol.Message{protocol.System(system)}, conv.Messages()...)...)
	}

	return &State{
		conversation:  conv,
		initialQuery:  prior.initialQuery,
		systemMessage: system,
		status:        InProgress(),
	}
}
