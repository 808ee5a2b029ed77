package tools

import (
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
)

// UnknownToolError reports an invoke against an unregistered name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// DuplicateToolError reports a second registration under an existing name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// NullArgumentsError reports null arguments against a tool whose schema has
// required properties.
type NullArgumentsError struct {
	Tool string
}

func (e *NullArgumentsError) Error() string {
	return fmt.Sprintf("tool %q requires arguments but received null", e.Tool)
}

// InvalidArgumentsError reports a schema violation. Path is the dotted path
// of the offending field; Cause carries the expected/found detail.
type InvalidArgumentsError struct {
	Tool  string
	Path  string
	Cause error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q at %s: %v", e.Tool, e.Path, e.Cause)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Cause
}

// HandlerError wraps a failure raised by the tool handler itself.
type HandlerError struct {
	Tool  string
	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("tool %q handler failed: %v", e.Tool, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// toolFault tags err with the tool-call kind so fault.KindOf classifies it
// while errors.As still reaches the typed error.
func toolFault(op string, err error) error {
	return &fault.Error{Kind: fault.KindToolCall, Op: op, Err: err}
}
