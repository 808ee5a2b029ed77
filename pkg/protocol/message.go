// Package protocol defines the conversation model: messages, roles, tool
// calls and the append-only conversation log the agent engine operates on.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/pkg/fault"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the model's request to invoke a tool. Arguments hold the
// decoded JSON value; adapters parse provider-side stringified JSON before
// constructing a ToolCall.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// NewToolCallID produces an opaque unique call identifier for providers that
// do not supply one.
func NewToolCallID() string {
	return "call_" + uuid.NewString()
}

// Message is one entry in a conversation. Messages are never mutated after
// creation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set only on assistant messages.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolCallID and Name are set only on tool messages; ToolCallID pairs
	// the message with the assistant tool call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`
	Name       string `json:"name,omitempty"`
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message without tool calls.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantWithCalls builds an assistant message carrying tool calls.
func AssistantWithCalls(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult builds a tool message answering the given call.
func ToolResult(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// ArgumentsJSON returns the call arguments re-encoded as JSON text.
func (c ToolCall) ArgumentsJSON() string {
	raw, err := json.Marshal(c.Arguments)
	if err != nil {
		return "null"
	}
	return string(raw)
}

// ParseArguments decodes stringified tool arguments as sent by providers
// that transmit arguments as a JSON-encoded string.
func ParseArguments(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &fault.Error{
			Kind:    fault.KindStreamProtocol,
			Op:      "protocol.parse_arguments",
			Message: "malformed tool arguments",
			Err:     err,
		}
	}
	return v, nil
}
