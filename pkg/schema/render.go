package schema

import (
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
)

// ToJSON renders the schema as a JSON-Schema document (map form, suitable
// for tool declarations). Emission is total and deterministic: the same
// schema always produces the same map, with object properties in declaration
// order inside the "required" list.
func (s *Schema) ToJSON() map[string]any {
	return s.render(false)
}

// ToStrictJSON renders like ToJSON but promotes every object property to
// required, recursively. Some providers demand strict schemas for
// constrained decoding.
func (s *Schema) ToStrictJSON() map[string]any {
	return s.render(true)
}

func (s *Schema) render(strict bool) map[string]any {
	out := make(map[string]any)

	if s.Nullable {
		out["type"] = []any{string(s.Type), "null"}
	} else {
		out["type"] = string(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}

	switch s.Type {
	case TypeString:
		if s.MinLength != nil {
			out["minLength"] = *s.MinLength
		}
		if s.MaxLength != nil {
			out["maxLength"] = *s.MaxLength
		}
		if len(s.Enum) > 0 {
			enum := make([]any, len(s.Enum))
			for i, v := range s.Enum {
				enum[i] = v
			}
			out["enum"] = enum
		}

	case TypeInteger, TypeNumber:
		if s.Minimum != nil {
			if s.ExclusiveMinimum {
				out["exclusiveMinimum"] = *s.Minimum
			} else {
				out["minimum"] = *s.Minimum
			}
		}
		if s.Maximum != nil {
			if s.ExclusiveMaximum {
				out["exclusiveMaximum"] = *s.Maximum
			} else {
				out["maximum"] = *s.Maximum
			}
		}
		if s.MultipleOf != nil {
			out["multipleOf"] = *s.MultipleOf
		}

	case TypeArray:
		if s.Items != nil {
			out["items"] = s.Items.render(strict)
		}
		if s.MinItems != nil {
			out["minItems"] = *s.MinItems
		}
		if s.MaxItems != nil {
			out["maxItems"] = *s.MaxItems
		}
		if s.UniqueItems {
			out["uniqueItems"] = true
		}

	case TypeObject:
		props := make(map[string]any, len(s.Properties))
		required := make([]any, 0, len(s.Properties))
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.render(strict)
			if p.Required || strict {
				required = append(required, p.Name)
			}
		}
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
		out["additionalProperties"] = s.AdditionalProperties
	}

	return out
}

// FromJSON parses a JSON-Schema document (map form) back into the variant.
// For any schema s, FromJSON(s.ToJSON()) equals s up to description
// whitespace.
func FromJSON(doc map[string]any) (*Schema, error) {
	s := &Schema{}

	switch t := doc["type"].(type) {
	case string:
		s.Type = Type(t)
	case []any:
		for _, v := range t {
			name, ok := v.(string)
			if !ok {
				return nil, fault.New(fault.KindCorrupt, "schema.parse", "non-string entry in type array")
			}
			if name == "null" {
				s.Nullable = true
			} else {
				s.Type = Type(name)
			}
		}
	default:
		return nil, fault.New(fault.KindCorrupt, "schema.parse", "missing or malformed type")
	}

	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}

	switch s.Type {
	case TypeString:
		if v, ok := intField(doc, "minLength"); ok {
			s.MinLength = &v
		}
		if v, ok := intField(doc, "maxLength"); ok {
			s.MaxLength = &v
		}
		if raw, ok := doc["enum"].([]any); ok {
			for _, e := range raw {
				es, ok := e.(string)
				if !ok {
					return nil, fault.New(fault.KindCorrupt, "schema.parse", "non-string enum value")
				}
				s.Enum = append(s.Enum, es)
			}
		}

	case TypeInteger, TypeNumber:
		if v, ok := numField(doc, "minimum"); ok {
			s.Minimum = &v
		}
		if v, ok := numField(doc, "maximum"); ok {
			s.Maximum = &v
		}
		if v, ok := numField(doc, "exclusiveMinimum"); ok {
			s.Minimum = &v
			s.ExclusiveMinimum = true
		}
		if v, ok := numField(doc, "exclusiveMaximum"); ok {
			s.Maximum = &v
			s.ExclusiveMaximum = true
		}
		if v, ok := numField(doc, "multipleOf"); ok {
			s.MultipleOf = &v
		}

	case TypeBoolean:
		// No constraints.

	case TypeArray:
		if raw, ok := doc["items"].(map[string]any); ok {
			items, err := FromJSON(raw)
			if err != nil {
				return nil, err
			}
			s.Items = items
		}
		if v, ok := intField(doc, "minItems"); ok {
			s.MinItems = &v
		}
		if v, ok := intField(doc, "maxItems"); ok {
			s.MaxItems = &v
		}
		if v, ok := doc["uniqueItems"].(bool); ok {
			s.UniqueItems = v
		}

	case TypeObject:
		required := make(map[string]bool)
		if raw, ok := doc["required"].([]any); ok {
			for _, r := range raw {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}
		if raw, ok := doc["properties"].(map[string]any); ok {
			for _, name := range sortedKeys(raw) {
				propDoc, ok := raw[name].(map[string]any)
				if !ok {
					return nil, fault.New(fault.KindCorrupt, "schema.parse",
						fmt.Sprintf("property %q is not an object", name))
				}
				prop, err := FromJSON(propDoc)
				if err != nil {
					return nil, err
				}
				s.Properties = append(s.Properties, Property{
					Name:     name,
					Schema:   prop,
					Required: required[name],
				})
			}
		}
		if v, ok := doc["additionalProperties"].(bool); ok {
			s.AdditionalProperties = v
		}

	default:
		return nil, fault.New(fault.KindCorrupt, "schema.parse",
			fmt.Sprintf("unsupported type %q", s.Type))
	}

	return s, nil
}

func intField(doc map[string]any, key string) (int, bool) {
	switch v := doc[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func numField(doc map[string]any, key string) (float64, bool) {
	switch v := doc[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
