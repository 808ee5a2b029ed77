package schema

import (
	"sort"
	"strings"
)

// Equal reports structural equality of two schemas, ignoring description
// whitespace and object property order (JSON objects do not preserve order,
// so a render/parse round trip may reorder properties).
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Type != o.Type || s.Nullable != o.Nullable {
		return false
	}
	if strings.Join(strings.Fields(s.Description), " ") != strings.Join(strings.Fields(o.Description), " ") {
		return false
	}
	if !intPtrEq(s.MinLength, o.MinLength) || !intPtrEq(s.MaxLength, o.MaxLength) {
		return false
	}
	if len(s.Enum) != len(o.Enum) {
		return false
	}
	for i := range s.Enum {
		if s.Enum[i] != o.Enum[i] {
			return false
		}
	}
	if !numPtrEq(s.Minimum, o.Minimum) || !numPtrEq(s.Maximum, o.Maximum) || !numPtrEq(s.MultipleOf, o.MultipleOf) {
		return false
	}
	if s.ExclusiveMinimum != o.ExclusiveMinimum || s.ExclusiveMaximum != o.ExclusiveMaximum {
		return false
	}
	if !intPtrEq(s.MinItems, o.MinItems) || !intPtrEq(s.MaxItems, o.MaxItems) || s.UniqueItems != o.UniqueItems {
		return false
	}
	if (s.Items == nil) != (o.Items == nil) {
		return false
	}
	if s.Items != nil && !s.Items.Equal(o.Items) {
		return false
	}
	if s.AdditionalProperties != o.AdditionalProperties {
		return false
	}
	if len(s.Properties) != len(o.Properties) {
		return false
	}
	byName := make(map[string]Property, len(o.Properties))
	for _, p := range o.Properties {
		byName[p.Name] = p
	}
	for _, p := range s.Properties {
		q, ok := byName[p.Name]
		if !ok || p.Required != q.Required || !p.Schema.Equal(q.Schema) {
			return false
		}
	}
	return true
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func numPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
