package guardrails

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/llms"
	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/schema"
)

const judgePrompt = `You are a strict evaluator. Score the user text against this criteria:

%s

Respond with JSON: {"score": <0.0-1.0>, "reason": "<one sentence>"}.`

type judgeVerdict struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// LLMJudge issues a side completion scoring the input against criteria and
// rejects when the score falls below threshold. The side conversation never
// touches the caller's transcript.
func LLMJudge(provider llms.Provider, criteria string, threshold float64) Guardrail {
	responseSchema := schema.Object().
		WithRequiredProperty("score", schema.Number().WithMinimum(0).WithMaximum(1)).
		WithRequiredProperty("reason", schema.String())

	return New("llm_judge", func(ctx context.Context, input string) (Result, error) {
		conv := protocol.NewConversation(
			protocol.System(fmt.Sprintf(judgePrompt, criteria)),
			protocol.User(input),
		)

		result, err := provider.Complete(ctx, conv, llms.CompletionOptions{
			ResponseSchema: responseSchema,
		})
		if err != nil {
			return Result{}, fmt.Errorf("judge completion failed: %w", err)
		}

		var verdict judgeVerdict
		if err := json.Unmarshal([]byte(result.Text), &verdict); err != nil {
			return Result{}, &fault.Error{
				Kind:    fault.KindGuardrail,
				Op:      "guardrails.llm_judge",
				Message: "judge returned malformed verdict",
				Err:     err,
			}
		}

		if verdict.Score < threshold {
			return Reject(fmt.Sprintf("judge score %.2f below threshold %.2f: %s", verdict.Score, threshold, verdict.Reason)), nil
		}
		return Pass(), nil
	})
}
