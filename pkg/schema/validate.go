package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/loomlabs/loom/pkg/fault"
)

// Validate checks a decoded JSON value against the schema. Violations are
// reported as validation faults carrying the dotted path to the offending
// value and an expected/found description.
func (s *Schema) Validate(value any) error {
	return s.validateAt(value, nil)
}

func (s *Schema) validateAt(value any, path []string) error {
	if value == nil {
		if s.Nullable {
			return nil
		}
		return violation(path, string(s.Type), "null")
	}

	switch s.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return violation(path, "string", found(value))
		}
		if s.MinLength != nil && len(str) < *s.MinLength {
			return violation(path, fmt.Sprintf("string of length >= %d", *s.MinLength),
				fmt.Sprintf("length %d", len(str)))
		}
		if s.MaxLength != nil && len(str) > *s.MaxLength {
			return violation(path, fmt.Sprintf("string of length <= %d", *s.MaxLength),
				fmt.Sprintf("length %d", len(str)))
		}
		if len(s.Enum) > 0 {
			for _, e := range s.Enum {
				if str == e {
					return nil
				}
			}
			return violation(path, "one of ["+strings.Join(s.Enum, ", ")+"]", fmt.Sprintf("%q", str))
		}
		return nil

	case TypeInteger:
		n, ok := asNumber(value)
		if !ok || n != math.Trunc(n) {
			return violation(path, "integer", found(value))
		}
		return s.validateNumeric(n, path)

	case TypeNumber:
		n, ok := asNumber(value)
		if !ok {
			return violation(path, "number", found(value))
		}
		return s.validateNumeric(n, path)

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return violation(path, "boolean", found(value))
		}
		return nil

	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			return violation(path, "array", found(value))
		}
		if s.MinItems != nil && len(arr) < *s.MinItems {
			return violation(path, fmt.Sprintf("array of length >= %d", *s.MinItems),
				fmt.Sprintf("length %d", len(arr)))
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			return violation(path, fmt.Sprintf("array of length <= %d", *s.MaxItems),
				fmt.Sprintf("length %d", len(arr)))
		}
		if s.UniqueItems {
			seen := make(map[string]int, len(arr))
			for i, item := range arr {
				key := canonical(item)
				if j, dup := seen[key]; dup {
					return violation(append(path, fmt.Sprint(i)), "unique item",
						fmt.Sprintf("duplicate of index %d", j))
				}
				seen[key] = i
			}
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.validateAt(item, append(path, fmt.Sprint(i))); err != nil {
					return err
				}
			}
		}
		return nil

	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return violation(path, "object", found(value))
		}
		for _, p := range s.Properties {
			v, present := obj[p.Name]
			if !present {
				if p.Required {
					return violation(append(path, p.Name), "required property", "missing")
				}
				continue
			}
			if err := p.Schema.validateAt(v, append(path, p.Name)); err != nil {
				return err
			}
		}
		if !s.AdditionalProperties {
			for name := range obj {
				if _, declared := s.Property(name); !declared {
					return violation(append(path, name), "declared property", "additional property")
				}
			}
		}
		return nil

	default:
		return violation(path, "known schema type", string(s.Type))
	}
}

func (s *Schema) validateNumeric(n float64, path []string) error {
	if s.Minimum != nil {
		if s.ExclusiveMinimum && n <= *s.Minimum {
			return violation(path, fmt.Sprintf("> %v", *s.Minimum), fmt.Sprint(n))
		}
		if !s.ExclusiveMinimum && n < *s.Minimum {
			return violation(path, fmt.Sprintf(">= %v", *s.Minimum), fmt.Sprint(n))
		}
	}
	if s.Maximum != nil {
		if s.ExclusiveMaximum && n >= *s.Maximum {
			return violation(path, fmt.Sprintf("< %v", *s.Maximum), fmt.Sprint(n))
		}
		if !s.ExclusiveMaximum && n > *s.Maximum {
			return violation(path, fmt.Sprintf("<= %v", *s.Maximum), fmt.Sprint(n))
		}
	}
	if s.MultipleOf != nil && *s.MultipleOf != 0 {
		ratio := n / *s.MultipleOf
		if ratio != math.Trunc(ratio) {
			return violation(path, fmt.Sprintf("multiple of %v", *s.MultipleOf), fmt.Sprint(n))
		}
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func found(v any) string {
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

// canonical produces a comparable key for uniqueItems checking.
func canonical(v any) string {
	switch t := v.(type) {
	case map[string]any:
		var b strings.Builder
		b.WriteString("{")
		for _, k := range sortedKeys(t) {
			b.WriteString(k)
			b.WriteString(":")
			b.WriteString(canonical(t[k]))
			b.WriteString(",")
		}
		b.WriteString("}")
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteString("[")
		for _, item := range t {
			b.WriteString(canonical(item))
			b.WriteString(",")
		}
		b.WriteString("]")
		return b.String()
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func violation(path []string, expected, got string) *fault.Error {
	return &fault.Error{
		Kind:    fault.KindValidation,
		Op:      "schema.validate",
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf("expected %s, found %s", expected, got),
	}
}
