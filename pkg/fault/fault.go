// Package fault defines the error model shared by every fallible operation
// in the framework. Errors carry a Kind that callers can branch on with
// errors.As, and a retryability classification the HTTP client consults.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota

	// KindConfiguration indicates missing or invalid configuration at the edge.
	KindConfiguration

	// KindAuthentication indicates upstream authentication failed.
	KindAuthentication

	// KindAuthorization indicates the principal lacks permission for a resource.
	KindAuthorization

	// KindValidation indicates a caller-provided argument is invalid.
	KindValidation

	// KindRateLimited indicates the upstream throttled the request.
	KindRateLimited

	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout

	// KindNetwork indicates a transport-level failure.
	KindNetwork

	// KindService indicates an upstream non-2xx response.
	KindService

	// KindStreamProtocol indicates stream corruption; fatal for that call.
	KindStreamProtocol

	// KindToolCall covers UnknownTool, NullArguments, InvalidArguments and
	// HandlerError; see pkg/tools for the concrete sub-errors.
	KindToolCall

	// KindGuardrail indicates a guardrail rejected the run.
	KindGuardrail

	// KindProcessing indicates an embedding, chunking or extraction failure.
	KindProcessing

	// KindCancelled indicates the caller tripped the cancellation token.
	KindCancelled

	// KindCorrupt indicates a snapshot or format failure.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindService:
		return "service"
	case KindStreamProtocol:
		return "stream_protocol"
	case KindToolCall:
		return "tool_call"
	case KindGuardrail:
		return "guardrail"
	case KindProcessing:
		return "processing"
	case KindCancelled:
		return "cancelled"
	case KindCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Error is the tagged error carried by all fallible operations.
//
// String renderings never include secret material; API keys are redacted
// before they reach any Error field.
type Error struct {
	Kind Kind

	// Op names the failing operation ("llms.complete", "rag.ingest", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Field is the offending field or dotted path for validation errors.
	Field string

	// Keys lists missing configuration keys for configuration errors.
	Keys []string

	// Status is the upstream HTTP status for service errors.
	Status int

	// RetryAfter is the upstream-suggested delay for rate-limit errors.
	RetryAfter time.Duration

	// Stage names the pipeline stage for processing errors.
	Stage string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " (stage %s)", e.Stage)
	}
	if len(e.Keys) > 0 {
		fmt.Fprintf(&b, " (keys %s)", strings.Join(e.Keys, ", "))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the provider client may retry this error.
// Rate limits, timeouts, transient network failures and 408/429/5xx service
// responses are retryable; everything else is not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindNetwork:
		return true
	case KindService:
		return e.Status == 408 || e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a validation error for a named field.
func Validation(op, field, reason string) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Message: reason}
}

// Configuration builds a configuration error naming the missing keys.
func Configuration(op string, keys ...string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Keys: keys, Message: "missing or invalid configuration"}
}

// Service builds a service error from an upstream status and body.
func Service(op string, status int, body string) *Error {
	return &Error{Kind: KindService, Op: op, Status: status, Message: body}
}

// Processing builds a processing error for a pipeline stage.
func Processing(stage, message string) *Error {
	return &Error{Kind: KindProcessing, Stage: stage, Message: message}
}

// Cancelled builds a cancellation error for an operation.
func Cancelled(op string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Message: "operation cancelled"}
}

// KindOf extracts the Kind from an error chain. Context errors map to
// KindCancelled / KindTimeout so callers need not special-case them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether any error in the chain is retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
