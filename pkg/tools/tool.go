// Package tools holds the tool registry: descriptor registration, argument
// normalization and validation, handler invocation and batch execution.
package tools

import (
	"context"

	"github.com/loomlabs/loom/pkg/jsonpath"
	"github.com/loomlabs/loom/pkg/schema"
)

// Handler executes a validated tool call. The returned value must be
// JSON-encodable.
type Handler func(ctx context.Context, args Arguments) (any, error)

// Tool describes one callable tool.
type Tool struct {
	Name        string
	Description string

	// Schema validates arguments. A nil schema accepts any arguments,
	// including null.
	Schema *schema.Schema

	Handler Handler
}

// Arguments wraps the decoded argument value with dotted-path accessors.
type Arguments struct {
	value any
}

func NewArguments(value any) Arguments {
	return Arguments{value: value}
}

// Value returns the raw decoded argument value.
func (a Arguments) Value() any {
	return a.value
}

func (a Arguments) GetString(path string) (string, error) {
	return jsonpath.GetString(a.value, path)
}

func (a Arguments) GetInt(path string) (int64, error) {
	return jsonpath.GetInt(a.value, path)
}

func (a Arguments) GetDouble(path string) (float64, error) {
	return jsonpath.GetDouble(a.value, path)
}

func (a Arguments) GetBoolean(path string) (bool, error) {
	return jsonpath.GetBoolean(a.value, path)
}

func (a Arguments) GetArray(path string) ([]any, error) {
	return jsonpath.GetArray(a.value, path)
}

func (a Arguments) GetObject(path string) (map[string]any, error) {
	return jsonpath.GetObject(a.value, path)
}

// StringOr returns the string at path, or fallback when the path is absent
// or not a string.
func (a Arguments) StringOr(path, fallback string) string {
	v, err := a.GetString(path)
	if err != nil {
		return fallback
	}
	return v
}

// IntOr returns the integer at path, or fallback.
func (a Arguments) IntOr(path string, fallback int64) int64 {
	v, err := a.GetInt(path)
	if err != nil {
		return fallback
	}
	return v
}

// FromStruct builds a tool whose schema is reflected from the args struct.
// The handler still receives generic Arguments; the struct type only shapes
// the schema.
func FromStruct(name, description string, argsPrototype any, handler Handler) (*Tool, error) {
	s, err := schema.FromStruct(argsPrototype)
	if err != nil {
		return nil, err
	}
	return &Tool{
		Name:        name,
		Description: description,
		Schema:      s,
		Handler:     handler,
	}, nil
}
