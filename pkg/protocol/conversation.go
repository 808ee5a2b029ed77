package protocol

import (
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
)

// Conversation is an ordered, append-only message log. The zero value is an
// empty conversation. Append returns a new Conversation sharing the prefix,
// so snapshots taken at different steps stay valid.
type Conversation struct {
	messages []Message
}

// NewConversation builds a conversation from existing messages.
func NewConversation(messages ...Message) Conversation {
	return Conversation{messages: messages}
}

// Append returns a new conversation with the messages added.
func (c Conversation) Append(messages ...Message) Conversation {
	next := make([]Message, 0, len(c.messages)+len(messages))
	next = append(next, c.messages...)
	next = append(next, messages...)
	return Conversation{messages: next}
}

// Messages returns the message log. Callers must not mutate the slice.
func (c Conversation) Messages() []Message {
	return c.messages
}

// Len returns the message count.
func (c Conversation) Len() int {
	return len(c.messages)
}

// ByRole returns the messages with the given role, in order.
func (c Conversation) ByRole(role Role) []Message {
	var out []Message
	for _, m := range c.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// LastUser returns the most recent user message.
func (c Conversation) LastUser() (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Last returns the final message.
func (c Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// PendingToolCalls returns the tool calls of the last assistant message that
// are not yet answered by a tool message.
func (c Conversation) PendingToolCalls() []ToolCall {
	answered := make(map[string]bool)
	var lastCalls []ToolCall
	for _, m := range c.messages {
		switch m.Role {
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				lastCalls = m.ToolCalls
			}
		case RoleTool:
			answered[m.ToolCallID] = true
		}
	}
	var pending []ToolCall
	for _, call := range lastCalls {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// Validate checks the structural invariants:
//
//   - at most one system message, and only in the leading position
//   - every tool message answers a previously declared tool call id
//   - every declared tool call is answered before the next assistant turn
func (c Conversation) Validate() error {
	declared := make(map[string]bool)
	unanswered := make(map[string]bool)

	for i, m := range c.messages {
		switch m.Role {
		case RoleSystem:
			if i != 0 {
				return fault.Validation("conversation.validate",
					fmt.Sprintf("messages.%d", i), "system message allowed only in leading position")
			}

		case RoleAssistant:
			if len(unanswered) > 0 {
				return fault.Validation("conversation.validate",
					fmt.Sprintf("messages.%d", i), "assistant message before pending tool calls were answered")
			}
			for _, call := range m.ToolCalls {
				if declared[call.ID] {
					return fault.Validation("conversation.validate",
						fmt.Sprintf("messages.%d", i), fmt.Sprintf("duplicate tool call id %q", call.ID))
				}
				declared[call.ID] = true
				unanswered[call.ID] = true
			}

		case RoleTool:
			if m.ToolCallID == "" {
				return fault.Validation("conversation.validate",
					fmt.Sprintf("messages.%d", i), "tool message without toolCallId")
			}
			if !unanswered[m.ToolCallID] {
				return fault.Validation("conversation.validate",
					fmt.Sprintf("messages.%d", i), fmt.Sprintf("tool message for undeclared call %q", m.ToolCallID))
			}
			delete(unanswered, m.ToolCallID)
		}
	}
	return nil
}

// Balanced reports whether every declared tool call has been answered.
func (c Conversation) Balanced() bool {
	return len(c.PendingToolCalls()) == 0
}
