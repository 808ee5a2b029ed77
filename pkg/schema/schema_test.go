package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
)

func TestRenderParseRoundTrip(t *testing.T) {
	cases := map[string]*Schema{
		"plain string": String().WithDescription("a name"),
		"string constraints": String().
			WithMinLength(1).
			WithMaxLength(64).
			WithEnum("celsius", "fahrenheit"),
		"nullable integer": Integer().AsNullable().
			WithMinimum(0).
			WithMaximum(100),
		"exclusive bounds": Number().
			WithMinimum(0).
			WithMaximum(1).
			Exclusive().
			WithMultipleOf(0.25),
		"boolean": Boolean(),
		"array of strings": Array(String().WithEnum("a", "b")).
			WithMinItems(1).
			WithMaxItems(5).
			Unique(),
		"object": Object().
			WithRequiredProperty("city", String().WithDescription("city name")).
			WithProperty("units", String().WithEnum("c", "f")).
			WithProperty("days", Integer().WithMinimum(1).WithMaximum(14)),
		"nested object": Object().
			WithRequiredProperty("filters", Object().
				WithProperty("tags", Array(String())).
				AllowAdditional()),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			parsed, err := FromJSON(s.ToJSON())
			if err != nil {
				t.Fatal(err)
			}
			if !parsed.Equal(s) {
				t.Errorf("round trip changed schema:\n  in:  %+v\n  out: %+v", s, parsed)
			}
		})
	}
}

func TestStrictRenderPromotesRequired(t *testing.T) {
	s := Object().
		WithProperty("a", String()).
		WithRequiredProperty("b", Object().WithProperty("inner", Integer()))

	doc := s.ToStrictJSON()
	required, ok := doc["required"].([]any)
	if !ok || len(required) != 2 {
		t.Fatalf("required = %v", doc["required"])
	}
	props := doc["properties"].(map[string]any)
	inner := props["b"].(map[string]any)
	if innerReq, ok := inner["required"].([]any); !ok || len(innerReq) != 1 {
		t.Errorf("nested required = %v", inner["required"])
	}

	// The non-strict form keeps only the declared requirement.
	plain := s.ToJSON()
	if req := plain["required"].([]any); len(req) != 1 || req[0] != "b" {
		t.Errorf("plain required = %v", plain["required"])
	}
}

func TestValidate(t *testing.T) {
	weather := Object().
		WithRequiredProperty("city", String().WithMinLength(1)).
		WithProperty("units", String().WithEnum("c", "f")).
		WithProperty("days", Integer().WithMinimum(1).WithMaximum(14))

	cases := []struct {
		name  string
		s     *Schema
		value any
		ok    bool
		field string
	}{
		{"valid object", weather, map[string]any{"city": "Paris", "units": "c", "days": float64(3)}, true, ""},
		{"missing required", weather, map[string]any{"units": "c"}, false, "city"},
		{"wrong property type", weather, map[string]any{"city": float64(7)}, false, "city"},
		{"enum violation", weather, map[string]any{"city": "Paris", "units": "k"}, false, "units"},
		{"out of range", weather, map[string]any{"city": "Paris", "days": float64(30)}, false, "days"},
		{"additional property", weather, map[string]any{"city": "Paris", "zip": "75001"}, false, "zip"},
		{"fractional integer", Integer(), 1.5, false, ""},
		{"integral float is integer", Integer(), float64(4), true, ""},
		{"null rejected", String(), nil, false, ""},
		{"null accepted when nullable", String().AsNullable(), nil, true, ""},
		{"duplicate items", Array(String()).Unique(), []any{"a", "b", "a"}, false, "2"},
		{"exclusive bound", Number().WithMinimum(0).Exclusive(), float64(0), false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate(tc.value)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if fault.KindOf(err) != fault.KindValidation {
				t.Errorf("kind = %v", fault.KindOf(err))
			}
			if tc.field != "" && !strings.Contains(err.Error(), tc.field) {
				t.Errorf("error %q does not name field %q", err, tc.field)
			}
		})
	}
}

func TestValidateNestedPath(t *testing.T) {
	s := Object().
		WithRequiredProperty("items", Array(Object().
			WithRequiredProperty("sku", String())))

	err := s.Validate(map[string]any{
		"items": []any{
			map[string]any{"sku": "a"},
			map[string]any{},
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("not a fault: %v", err)
	}
	if fe.Field != "items.1.sku" {
		t.Errorf("field = %q", fe.Field)
	}
}

func TestHasRequiredProperties(t *testing.T) {
	if Object().WithProperty("a", String()).HasRequiredProperties() {
		t.Error("all-optional object should accept null arguments")
	}
	if !Object().WithRequiredProperty("a", String()).HasRequiredProperties() {
		t.Error("required property not detected")
	}
	if !String().HasRequiredProperties() {
		t.Error("non-object schemas must not accept null arguments")
	}
}

func TestFromJSONRejectsMalformed(t *testing.T) {
	cases := map[string]map[string]any{
		"missing type":    {"description": "no type"},
		"unknown type":    {"type": "tuple"},
		"non-string enum": {"type": "string", "enum": []any{1, 2}},
		"bad property":    {"type": "object", "properties": map[string]any{"a": "not a schema"}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromJSON(doc); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFromStructReflection(t *testing.T) {
	type query struct {
		City  string `json:"city" jsonschema:"required,description=City name"`
		Units string `json:"units,omitempty" jsonschema:"enum=c,enum=f"`
	}
	s, err := FromStruct(&query{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != TypeObject {
		t.Fatalf("type = %v", s.Type)
	}
	city, ok := s.Property("city")
	if !ok || !city.Required {
		t.Errorf("city = %+v", city)
	}
	units, ok := s.Property("units")
	if !ok || units.Required || len(units.Schema.Enum) != 2 {
		t.Errorf("units = %+v", units)
	}
}
