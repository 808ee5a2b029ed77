package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/loomlabs/loom/pkg/fault"
)

// FromStruct reflects a Go struct into the schema variant. Field names,
// descriptions and required-ness follow the json and jsonschema struct tags.
// Nested structs are inlined rather than referenced.
func FromStruct(v any) (*Schema, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	reflected := reflector.Reflect(v)
	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fault.Wrap(fault.KindCorrupt, "schema.reflect", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fault.Wrap(fault.KindCorrupt, "schema.reflect", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	return FromJSON(doc)
}
