package llms

import (
	"strings"
	"testing"

	"github.com/loomlabs/loom/pkg/protocol"
)

func TestEstimateUsageIsFlagged(t *testing.T) {
	conv := protocol.NewConversation(
		protocol.System("You are terse."),
		protocol.User("weather in Paris"),
	)
	usage := EstimateUsage("gpt-4o-mini", conv, "15C sunny")
	if !usage.Estimated {
		t.Error("usage should be flagged as estimated")
	}
	if usage.PromptTokens <= 0 || usage.CompletionTokens <= 0 {
		t.Errorf("usage = %+v", usage)
	}
	if usage.TotalTokens != usage.PromptTokens+usage.CompletionTokens {
		t.Errorf("total = %d", usage.TotalTokens)
	}
}

func TestTruncateToBudgetKeepsSystemAndSuffix(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	conv := protocol.NewConversation(
		protocol.System("You are terse."),
		protocol.User(filler),
		protocol.Assistant(filler),
		protocol.User("and today?"),
		protocol.Assistant("sunny"),
	)

	got := TruncateToBudget("gpt-4o-mini", conv, 60)
	msgs := got.Messages()
	if len(msgs) >= conv.Len() {
		t.Fatalf("nothing dropped: %d messages", len(msgs))
	}
	if msgs[0].Role != protocol.RoleSystem {
		t.Errorf("leading role = %s", msgs[0].Role)
	}
	if last := msgs[len(msgs)-1]; last.Content != "sunny" {
		t.Errorf("last message = %+v", last)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("truncated conversation invalid: %v", err)
	}
}

func TestTruncateToBudgetFitsUnchanged(t *testing.T) {
	conv := protocol.NewConversation(
		protocol.User("hello"),
		protocol.Assistant("hi"),
	)
	got := TruncateToBudget("gpt-4o-mini", conv, 10_000)
	if got.Len() != conv.Len() {
		t.Errorf("len = %d, want %d", got.Len(), conv.Len())
	}
}

func TestTruncateToBudgetDropsToolRepliesWithTheirCall(t *testing.T) {
	filler := strings.Repeat("forecast data ", 60)
	conv := protocol.NewConversation(
		protocol.User("weather in Paris"),
		protocol.AssistantWithCalls("", protocol.ToolCall{ID: "c1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}),
		protocol.ToolResult("c1", "get_weather", filler),
		protocol.Assistant("15C sunny"),
		protocol.User("thanks"),
	)

	got := TruncateToBudget("gpt-4o-mini", conv, 30)
	for _, m := range got.Messages() {
		if m.Role == protocol.RoleTool {
			t.Fatalf("orphan tool message survived truncation: %+v", m)
		}
	}
	if err := got.Validate(); err != nil {
		t.Errorf("truncated conversation invalid: %v", err)
	}
	if got.Len() == 0 {
		t.Error("truncation emptied the conversation")
	}
}
