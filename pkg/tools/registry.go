package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/llms"
	"github.com/loomlabs/loom/pkg/observability"
	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/registry"
)

// Flavor selects the tool-declaration dialect produced by Definitions.
type Flavor string

const (
	FlavorOpenAI    Flavor = "openai"
	FlavorAnthropic Flavor = "anthropic"
	FlavorGemini    Flavor = "gemini"
)

// Registry holds tools by name. Registration is expected at setup time;
// lookup and invocation are safe for concurrent use.
type Registry struct {
	base *registry.Base[*Tool]
}

func NewRegistry() *Registry {
	return &Registry{base: registry.NewBase[*Tool]()}
}

// Register adds a tool. Registering an existing name fails with
// DuplicateToolError.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fault.Validation("tools.register", "name", "tool name cannot be empty")
	}
	if _, exists := r.base.Get(tool.Name); exists {
		return toolFault("tools.register", &DuplicateToolError{Name: tool.Name})
	}
	return r.base.Register(tool.Name, tool)
}

func (r *Registry) Get(name string) (*Tool, bool) {
	return r.base.Get(name)
}

func (r *Registry) Names() []string {
	return r.base.Names()
}

func (r *Registry) Count() int {
	return r.base.Count()
}

// ToolDefinitions returns the registered tools in the normalized form the
// provider layer consumes.
func (r *Registry) ToolDefinitions() []llms.ToolDefinition {
	tools := r.base.List()
	defs := make([]llms.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, llms.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Schema,
		})
	}
	return defs
}

// Definitions renders the registered tools as declaration JSON in the given
// dialect.
func (r *Registry) Definitions(flavor Flavor) ([]map[string]any, error) {
	defs := r.ToolDefinitions()
	out := make([]map[string]any, 0, len(defs))

	for _, def := range defs {
		params := def.ParametersJSON()
		switch flavor {
		case FlavorOpenAI:
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  params,
				},
			})
		case FlavorAnthropic:
			out = append(out, map[string]any{
				"name":         def.Name,
				"description":  def.Description,
				"input_schema": params,
			})
		case FlavorGemini:
			out = append(out, map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  params,
			})
		default:
			return nil, fault.Validation("tools.definitions", "flavor", "unknown flavor "+string(flavor))
		}
	}
	return out, nil
}

// Invoke parses argsJSON and executes the named tool. The error is one of
// UnknownToolError, NullArgumentsError, InvalidArgumentsError or
// HandlerError, each tagged with the tool-call fault kind.
func (r *Registry) Invoke(ctx context.Context, name, argsJSON string) (any, error) {
	args, err := protocol.ParseArguments(argsJSON)
	if err != nil {
		return nil, err
	}
	return r.InvokeValue(ctx, name, args)
}

// InvokeValue executes the named tool against an already-decoded argument
// value.
func (r *Registry) InvokeValue(ctx context.Context, name string, args any) (any, error) {
	tool, exists := r.base.Get(name)
	if !exists {
		return nil, toolFault("tools.invoke", &UnknownToolError{Name: name})
	}

	args, err := normalizeArguments(tool, args)
	if err != nil {
		return nil, err
	}

	if tool.Schema != nil {
		if verr := tool.Schema.Validate(args); verr != nil {
			path := "$"
			var fe *fault.Error
			if errors.As(verr, &fe) && fe.Field != "" {
				path = fe.Field
			}
			return nil, toolFault("tools.invoke", &InvalidArgumentsError{Tool: name, Path: path, Cause: verr})
		}
	}

	tracer := observability.GetTracer("loom.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	started := time.Now()
	result, err := tool.Handler(ctx, NewArguments(args))
	duration := time.Since(started)

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordToolExecution(ctx, name, duration, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toolFault("tools.invoke", &HandlerError{Tool: name, Cause: err})
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// normalizeArguments applies the null-argument rule: null stands in for an
// empty object only when the tool's top-level object schema has no required
// properties. Non-object schemas are treated as requiring arguments.
func normalizeArguments(tool *Tool, args any) (any, error) {
	if args != nil {
		return args, nil
	}
	if tool.Schema == nil {
		return map[string]any{}, nil
	}
	if tool.Schema.HasRequiredProperties() {
		return nil, toolFault("tools.invoke", &NullArgumentsError{Tool: tool.Name})
	}
	return map[string]any{}, nil
}

// ResultJSON renders a handler result as the JSON text carried in a tool
// message.
func ResultJSON(result any) string {
	if result == nil {
		return "null"
	}
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "null"
	}
	return string(raw)
}
