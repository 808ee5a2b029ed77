// Package guardrails validates and transforms text entering and leaving an
// agent run. A guardrail inspects one string and passes it, rejects it with
// a reason, or rewrites it for the next stage of the current evaluation.
package guardrails

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/observability"
)

// ResultKind discriminates guardrail outcomes.
type ResultKind string

const (
	KindPass      ResultKind = "pass"
	KindReject    ResultKind = "reject"
	KindTransform ResultKind = "transform"
)

// Result is a guardrail outcome. Text is set for transforms only; Reason for
// rejections only.
type Result struct {
	Kind   ResultKind
	Reason string
	Text   string
}

func Pass() Result {
	return Result{Kind: KindPass}
}

func Reject(reason string) Result {
	return Result{Kind: KindReject, Reason: reason}
}

func Transform(text string) Result {
	return Result{Kind: KindTransform, Text: text}
}

// Guardrail checks one input. An error return means the check itself could
// not run, which is distinct from a rejection.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, input string) (Result, error)
}

type funcGuardrail struct {
	name string
	fn   func(ctx context.Context, input string) (Result, error)
}

// New wraps a function as a named guardrail.
func New(name string, fn func(ctx context.Context, input string) (Result, error)) Guardrail {
	return &funcGuardrail{name: name, fn: fn}
}

func (g *funcGuardrail) Name() string {
	return g.name
}

func (g *funcGuardrail) Check(ctx context.Context, input string) (Result, error) {
	return g.fn(ctx, input)
}

// Evaluate runs one guardrail under a span. The input handed to the caller's
// next stage is Result.Text for transforms and the original input otherwise.
func Evaluate(ctx context.Context, g Guardrail, input string) (Result, error) {
	tracer := observability.GetTracer("loom.guardrails")
	ctx, span := tracer.Start(ctx, observability.SpanGuardrail,
		trace.WithAttributes(attribute.String("guardrail.name", g.Name())),
	)
	defer span.End()

	result, err := g.Check(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.String("guardrail.result", string(result.Kind)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// All passes iff every child passes against the same input; the first
// rejection wins. Child transforms do not propagate.
func All(children ...Guardrail) Guardrail {
	return New("all", func(ctx context.Context, input string) (Result, error) {
		for _, child := range children {
			result, err := child.Check(ctx, input)
			if err != nil {
				return Result{}, err
			}
			if result.Kind == KindReject {
				return result, nil
			}
		}
		return Pass(), nil
	})
}

// Any passes iff at least one child passes or transforms. When every child
// rejects, the rejection reasons are combined.
func Any(children ...Guardrail) Guardrail {
	return New("any", func(ctx context.Context, input string) (Result, error) {
		var reasons []string
		for _, child := range children {
			result, err := child.Check(ctx, input)
			if err != nil {
				return Result{}, err
			}
			if result.Kind != KindReject {
				return Pass(), nil
			}
			reasons = append(reasons, fmt.Sprintf("%s: %s", child.Name(), result.Reason))
		}
		if len(children) == 0 {
			return Pass(), nil
		}
		return Reject(joinReasons(reasons)), nil
	})
}

// Sequence runs children in order, each seeing the previous child's possibly
// transformed output. The final output is reported as a transform when it
// differs from the original input.
func Sequence(children ...Guardrail) Guardrail {
	return New("sequence", func(ctx context.Context, input string) (Result, error) {
		current := input
		for _, child := range children {
			result, err := child.Check(ctx, current)
			if err != nil {
				return Result{}, err
			}
			switch result.Kind {
			case KindReject:
				return result, nil
			case KindTransform:
				current = result.Text
			}
		}
		if current != input {
			return Transform(current), nil
		}
		return Pass(), nil
	})
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
