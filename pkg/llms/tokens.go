package llms

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/loomlabs/loom/pkg/protocol"
)

// CountTokens estimates the token count of text for the given model using
// the model's BPE encoding, falling back to cl100k_base for unknown models
// and to a bytes/4 heuristic if the tokenizer is unavailable.
func CountTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// messageOverheadTokens approximates per-message chat framing.
const messageOverheadTokens = 4

// EstimateUsage produces usage counts from the local tokenizer for providers
// that do not report usage. The result is flagged Estimated.
func EstimateUsage(model string, conv protocol.Conversation, completion string) Usage {
	prompt := 0
	for _, m := range conv.Messages() {
		prompt += messageCost(model, m)
	}
	out := CountTokens(model, completion)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

func messageCost(model string, m protocol.Message) int {
	cost := CountTokens(model, m.Content) + messageOverheadTokens
	for _, call := range m.ToolCalls {
		cost += CountTokens(model, call.Name) + CountTokens(model, call.ArgumentsJSON())
	}
	return cost
}

// TruncateToBudget returns the largest suffix of the conversation whose
// estimated token count fits within maxTokens, always keeping a leading
// system message. The suffix never begins with a tool message, so dropped
// assistant turns take their tool replies with them and the result still
// satisfies Conversation.Validate. A conversation that already fits is
// returned unchanged.
func TruncateToBudget(model string, conv protocol.Conversation, maxTokens int) protocol.Conversation {
	msgs := conv.Messages()
	if len(msgs) == 0 || maxTokens <= 0 {
		return conv
	}

	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		costs[i] = messageCost(model, m)
		total += costs[i]
	}
	if total <= maxTokens {
		return conv
	}

	budget := maxTokens
	first := 0
	if msgs[0].Role == protocol.RoleSystem {
		budget -= costs[0]
		first = 1
	}

	start := len(msgs)
	used := 0
	for i := len(msgs) - 1; i >= first; i-- {
		if used+costs[i] > budget {
			break
		}
		used += costs[i]
		start = i
	}
	for start < len(msgs) && msgs[start].Role == protocol.RoleTool {
		start++
	}
	if start == len(msgs) {
		// Nothing fits; keep the most recent exchange anyway.
		start = len(msgs) - 1
		for start > first && msgs[start].Role == protocol.RoleTool {
			start--
		}
	}

	kept := make([]protocol.Message, 0, len(msgs)-start+1)
	if first == 1 {
		kept = append(kept, msgs[0])
	}
	kept = append(kept, msgs[start:]...)
	return protocol.NewConversation(kept...)
}
