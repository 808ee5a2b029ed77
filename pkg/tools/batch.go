package tools

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/loomlabs/loom/pkg/protocol"
)

// Strategy controls how a batch of tool calls executes.
type Strategy struct {
	parallel       bool
	maxConcurrency int
}

// Sequential executes calls one at a time, in order.
func Sequential() Strategy {
	return Strategy{}
}

// Parallel executes up to maxConcurrency calls at once. Zero or negative
// means unbounded.
func Parallel(maxConcurrency int) Strategy {
	return Strategy{parallel: true, maxConcurrency: maxConcurrency}
}

// BatchResult pairs one call with its outcome. Exactly one of Result and Err
// is meaningful.
type BatchResult struct {
	Call   protocol.ToolCall
	Result any
	Err    error
}

// InvokeBatch executes the calls with the given strategy. Results are
// returned in call declaration order regardless of completion order, and a
// failing call never aborts its siblings. Context cancellation stops
// unstarted parallel work; already-running handlers observe ctx themselves.
func (r *Registry) InvokeBatch(ctx context.Context, calls []protocol.ToolCall, strategy Strategy) []BatchResult {
	results := make([]BatchResult, len(calls))

	if !strategy.parallel {
		for i, call := range calls {
			results[i] = r.invokeOne(ctx, call)
		}
		return results
	}

	g, ctx := errgroup.WithContext(ctx)
	if strategy.maxConcurrency > 0 {
		g.SetLimit(strategy.maxConcurrency)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.invokeOne(ctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Registry) invokeOne(ctx context.Context, call protocol.ToolCall) BatchResult {
	if err := ctx.Err(); err != nil {
		return BatchResult{Call: call, Err: err}
	}
	result, err := r.InvokeValue(ctx, call.Name, call.Arguments)
	return BatchResult{Call: call, Result: result, Err: err}
}
