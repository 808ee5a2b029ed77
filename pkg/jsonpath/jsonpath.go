// Package jsonpath provides dotted-path typed access over decoded JSON
// values, as produced by encoding/json into map[string]any.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loomlabs/loom/pkg/fault"
)

// Get resolves a dotted path ("user.address.city", "items.2.name") against a
// decoded JSON value. Numeric segments index into arrays.
func Get(value any, path string) (any, error) {
	if path == "" {
		return value, nil
	}

	current := value
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, missingSegment(path, segments[:i+1])
			}
			current = next

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, &fault.Error{
					Kind:    fault.KindValidation,
					Op:      "jsonpath.get",
					Field:   strings.Join(segments[:i+1], "."),
					Message: fmt.Sprintf("expected numeric index into array, found %q", seg),
				}
			}
			if idx < 0 || idx >= len(node) {
				return nil, missingSegment(path, segments[:i+1])
			}
			current = node[idx]

		default:
			return nil, &fault.Error{
				Kind:    fault.KindValidation,
				Op:      "jsonpath.get",
				Field:   strings.Join(segments[:i+1], "."),
				Message: fmt.Sprintf("cannot descend into %T", current),
			}
		}
	}

	return current, nil
}

// GetString resolves path and asserts a string value.
func GetString(value any, path string) (string, error) {
	v, err := Get(value, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeMismatch(path, "string", v)
	}
	return s, nil
}

// GetInt resolves path and asserts an integral number. JSON numbers decode as
// float64; values with a fractional part are rejected.
func GetInt(value any, path string) (int64, error) {
	v, err := Get(value, path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, typeMismatch(path, "integer", v)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, typeMismatch(path, "integer", v)
	}
}

// GetDouble resolves path and asserts a number.
func GetDouble(value any, path string) (float64, error) {
	v, err := Get(value, path)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, typeMismatch(path, "number", v)
	}
}

// GetBoolean resolves path and asserts a bool value.
func GetBoolean(value any, path string) (bool, error) {
	v, err := Get(value, path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeMismatch(path, "boolean", v)
	}
	return b, nil
}

// GetArray resolves path and asserts an array value.
func GetArray(value any, path string) ([]any, error) {
	v, err := Get(value, path)
	if err != nil {
		return nil, err
	}
	a, ok := v.([]any)
	if !ok {
		return nil, typeMismatch(path, "array", v)
	}
	return a, nil
}

// GetObject resolves path and asserts an object value.
func GetObject(value any, path string) (map[string]any, error) {
	v, err := Get(value, path)
	if err != nil {
		return nil, err
	}
	o, ok := v.(map[string]any)
	if !ok {
		return nil, typeMismatch(path, "object", v)
	}
	return o, nil
}

func missingSegment(full string, reached []string) *fault.Error {
	return &fault.Error{
		Kind:    fault.KindValidation,
		Op:      "jsonpath.get",
		Field:   strings.Join(reached, "."),
		Message: fmt.Sprintf("missing segment %q in path %q", reached[len(reached)-1], full),
	}
}

func typeMismatch(path, expected string, found any) *fault.Error {
	return &fault.Error{
		Kind:    fault.KindValidation,
		Op:      "jsonpath.get",
		Field:   path,
		Message: fmt.Sprintf("expected %s, found %s", expected, typeName(found)),
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
