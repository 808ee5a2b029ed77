package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/schema"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its message argument",
		Schema: schema.Object().
			WithRequiredProperty("message", schema.String()),
		Handler: func(ctx context.Context, args Arguments) (any, error) {
			msg, err := args.GetString("message")
			if err != nil {
				return nil, err
			}
			return msg, nil
		},
	}
}

func pingTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "no arguments needed",
		Schema:      schema.Object(),
		Handler: func(ctx context.Context, args Arguments) (any, error) {
			return "pong", nil
		},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := reg.Register(echoTool("echo"))
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	var dup *DuplicateToolError
	if !errors.As(err, &dup) || dup.Name != "echo" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "missing", `{}`)
	if err == nil {
		t.Fatal("expected error")
	}
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) || unknown.Name != "missing" {
		t.Errorf("unexpected error %v", err)
	}
	if fault.KindOf(err) != fault.KindToolCall {
		t.Errorf("expected tool call kind, got %v", fault.KindOf(err))
	}
}

func TestInvokeNullArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))
	reg.Register(pingTool("ping"))
	reg.Register(&Tool{
		Name:        "raw",
		Description: "top-level string argument",
		Schema:      schema.String(),
		Handler: func(ctx context.Context, args Arguments) (any, error) {
			return args.Value(), nil
		},
	})

	// No required properties: null stands in for {}.
	result, err := reg.Invoke(context.Background(), "ping", "null")
	if err != nil {
		t.Fatalf("null against optional-args tool failed: %v", err)
	}
	if result != "pong" {
		t.Errorf("unexpected result %v", result)
	}

	// Required property present: null is rejected.
	_, err = reg.Invoke(context.Background(), "echo", "null")
	var nullErr *NullArgumentsError
	if !errors.As(err, &nullErr) || nullErr.Tool != "echo" {
		t.Errorf("expected NullArgumentsError, got %v", err)
	}

	// Non-object schema counts as requiring arguments.
	_, err = reg.Invoke(context.Background(), "raw", "null")
	if !errors.As(err, &nullErr) {
		t.Errorf("expected NullArgumentsError for non-object schema, got %v", err)
	}
}

func TestInvokeInvalidArgumentsPath(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name:        "nested",
		Description: "nested object argument",
		Schema: schema.Object().
			WithRequiredProperty("filter", schema.Object().
				WithRequiredProperty("limit", schema.Integer())),
		Handler: func(ctx context.Context, args Arguments) (any, error) {
			return nil, nil
		},
	})

	_, err := reg.Invoke(context.Background(), "nested", `{"filter":{"limit":"ten"}}`)
	if err == nil {
		t.Fatal("expected error")
	}
	var invalid *InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentsError, got %v", err)
	}
	if invalid.Path != "filter.limit" {
		t.Errorf("expected dotted path filter.limit, got %q", invalid.Path)
	}
}

func TestInvokeHandlerError(t *testing.T) {
	boom := errors.New("backend unavailable")
	reg := NewRegistry()
	reg.Register(&Tool{
		Name:        "flaky",
		Description: "always fails",
		Schema:      schema.Object(),
		Handler: func(ctx context.Context, args Arguments) (any, error) {
			return nil, boom
		},
	})

	_, err := reg.Invoke(context.Background(), "flaky", `{}`)
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("cause not preserved in chain")
	}
}

func TestInvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))

	result, err := reg.Invoke(context.Background(), "echo", `{"message":"hi"}`)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result != "hi" {
		t.Errorf("unexpected result %v", result)
	}
}

func TestDefinitionsFlavors(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))

	openai, err := reg.Definitions(FlavorOpenAI)
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if openai[0]["type"] != "function" {
		t.Errorf("openai flavor missing function wrapper: %v", openai[0])
	}
	fn, ok := openai[0]["function"].(map[string]any)
	if !ok || fn["name"] != "echo" {
		t.Errorf("unexpected openai declaration: %v", openai[0])
	}

	anthropic, err := reg.Definitions(FlavorAnthropic)
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if anthropic[0]["name"] != "echo" || anthropic[0]["input_schema"] == nil {
		t.Errorf("unexpected anthropic declaration: %v", anthropic[0])
	}

	if _, err := reg.Definitions(Flavor("surprise")); err == nil {
		t.Error("expected error for unknown flavor")
	}
}

func TestArgumentsAccessors(t *testing.T) {
	args := NewArguments(map[string]any{
		"name":  "loom",
		"count": float64(3),
		"deep":  map[string]any{"flag": true},
		"items": []any{"a", "b"},
	})

	if v, err := args.GetString("name"); err != nil || v != "loom" {
		t.Errorf("GetString: %v %v", v, err)
	}
	if v, err := args.GetInt("count"); err != nil || v != 3 {
		t.Errorf("GetInt: %v %v", v, err)
	}
	if v, err := args.GetBoolean("deep.flag"); err != nil || !v {
		t.Errorf("GetBoolean: %v %v", v, err)
	}
	if v, err := args.GetArray("items"); err != nil || len(v) != 2 {
		t.Errorf("GetArray: %v %v", v, err)
	}
	if _, err := args.GetString("missing"); err == nil {
		t.Error("expected error for missing path")
	}
	if args.StringOr("missing", "fallback") != "fallback" {
		t.Error("StringOr fallback not applied")
	}
}

func TestFromStruct(t *testing.T) {
	type searchArgs struct {
		Query string `json:"query" jsonschema:"required,description=query text"`
		Limit int    `json:"limit,omitempty"`
	}

	tool, err := FromStruct("search", "searches things", &searchArgs{}, func(ctx context.Context, args Arguments) (any, error) {
		return fmt.Sprintf("searched %s", args.StringOr("query", "")), nil
	})
	if err != nil {
		t.Fatalf("FromStruct failed: %v", err)
	}

	reg := NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := reg.Invoke(context.Background(), "search", `{}`); err == nil {
		t.Error("expected validation error for missing required query")
	}

	result, err := reg.Invoke(context.Background(), "search", `{"query":"go"}`)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result != "searched go" {
		t.Errorf("unexpected result %v", result)
	}
}
