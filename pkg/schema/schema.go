// Package schema models tool parameter schemas as a tagged variant with a
// combinator-style builder, deterministic JSON-Schema emission, and runtime
// validation of decoded JSON arguments.
package schema

// Type discriminates the schema variant.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Property is a named member of an object schema. Order is preserved so that
// JSON-Schema emission is deterministic.
type Property struct {
	Name     string
	Schema   *Schema
	Required bool
}

// Schema is the tagged variant. Only the fields relevant to Type are set;
// Nullable wraps any variant and renders as type: [T, "null"].
type Schema struct {
	Type        Type
	Description string
	Nullable    bool

	// String constraints.
	MinLength *int
	MaxLength *int
	Enum      []string

	// Numeric constraints (integer and number).
	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum bool
	ExclusiveMaximum bool
	MultipleOf       *float64

	// Array constraints.
	Items       *Schema
	MinItems    *int
	MaxItems    *int
	UniqueItems bool

	// Object constraints.
	Properties           []Property
	AdditionalProperties bool
}

// String starts a string schema.
func String() *Schema { return &Schema{Type: TypeString} }

// Integer starts an integer schema.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Number starts a number schema.
func Number() *Schema { return &Schema{Type: TypeNumber} }

// Boolean starts a boolean schema.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// Array starts an array schema with the given item schema.
func Array(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// Object starts an object schema with no properties.
func Object() *Schema { return &Schema{Type: TypeObject} }

// WithDescription sets the description.
func (s *Schema) WithDescription(d string) *Schema {
	s.Description = d
	return s
}

// AsNullable marks the schema nullable.
func (s *Schema) AsNullable() *Schema {
	s.Nullable = true
	return s
}

// WithEnum restricts a string schema to the given values.
func (s *Schema) WithEnum(values ...string) *Schema {
	s.Enum = values
	return s
}

// WithMinLength sets the minimum string length.
func (s *Schema) WithMinLength(n int) *Schema {
	s.MinLength = &n
	return s
}

// WithMaxLength sets the maximum string length.
func (s *Schema) WithMaxLength(n int) *Schema {
	s.MaxLength = &n
	return s
}

// WithMinimum sets the inclusive lower bound.
func (s *Schema) WithMinimum(v float64) *Schema {
	s.Minimum = &v
	return s
}

// WithMaximum sets the inclusive upper bound.
func (s *Schema) WithMaximum(v float64) *Schema {
	s.Maximum = &v
	return s
}

// Exclusive marks the configured bounds exclusive.
func (s *Schema) Exclusive() *Schema {
	s.ExclusiveMinimum = s.Minimum != nil
	s.ExclusiveMaximum = s.Maximum != nil
	return s
}

// WithMultipleOf constrains numeric values to multiples of v.
func (s *Schema) WithMultipleOf(v float64) *Schema {
	s.MultipleOf = &v
	return s
}

// WithMinItems sets the minimum array length.
func (s *Schema) WithMinItems(n int) *Schema {
	s.MinItems = &n
	return s
}

// WithMaxItems sets the maximum array length.
func (s *Schema) WithMaxItems(n int) *Schema {
	s.MaxItems = &n
	return s
}

// Unique requires array items to be pairwise distinct.
func (s *Schema) Unique() *Schema {
	s.UniqueItems = true
	return s
}

// WithProperty appends an optional property to an object schema.
func (s *Schema) WithProperty(name string, prop *Schema) *Schema {
	s.Properties = append(s.Properties, Property{Name: name, Schema: prop})
	return s
}

// WithRequiredProperty appends a required property to an object schema.
func (s *Schema) WithRequiredProperty(name string, prop *Schema) *Schema {
	s.Properties = append(s.Properties, Property{Name: name, Schema: prop, Required: true})
	return s
}

// AllowAdditional permits properties not declared in the schema.
func (s *Schema) AllowAdditional() *Schema {
	s.AdditionalProperties = true
	return s
}

// RequiredProperties returns the names of required object properties.
func (s *Schema) RequiredProperties() []string {
	var out []string
	for _, p := range s.Properties {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// HasRequiredProperties reports whether any object property is required.
// Non-object schemas are treated as having required parameters, so null
// arguments are never accepted for them.
func (s *Schema) HasRequiredProperties() bool {
	if s == nil {
		return false
	}
	if s.Type != TypeObject {
		return true
	}
	for _, p := range s.Properties {
		if p.Required {
			return true
		}
	}
	return false
}

// Property looks up an object property by name.
func (s *Schema) Property(name string) (*Property, bool) {
	for i := range s.Properties {
		if s.Properties[i].Name == name {
			return &s.Properties[i], true
		}
	}
	return nil, false
}
