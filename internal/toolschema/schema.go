// Package toolschema compiles and inspects the JSON Schemas attached to tools.
package toolschema

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// Schema is a compiled parameter schema.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile checks that doc is an object schema and compiles it.
func Compile(doc map[string]any) (*Schema, error) {
	if doc == nil {
		doc = EmptyObject()
	}
	if t, ok := doc["type"]; ok && t != "object" {
		return nil, fmt.Errorf("parameter schema must have type \"object\", got %v", t)
	}
	if props, ok := doc["properties"]; ok {
		if _, ok := props.(map[string]any); !ok {
			return nil, fmt.Errorf("parameter schema properties must be an object")
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	v, err := normalize(v)
	if err != nil {
		return err
	}
	result := s.compiled.Validate(v)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}

// ValidateProperty checks v against the subschema of one property.
func ValidateProperty(doc map[string]any, key string, v any) error {
	prop, ok := Properties(doc)[key].(map[string]any)
	if !ok {
		return fmt.Errorf("unknown parameter %q", key)
	}
	sub, err := Compile(map[string]any{
		"type":       "object",
		"properties": map[string]any{key: prop},
	})
	if err != nil {
		return err
	}
	return sub.Validate(map[string]any{key: v})
}

// EmptyObject returns a schema accepting any object.
func EmptyObject() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Properties returns the "properties" map of doc, or nil.
func Properties(doc map[string]any) map[string]any {
	props, _ := doc["properties"].(map[string]any)
	return props
}

// HasProperty reports whether key is declared in doc's properties.
func HasProperty(doc map[string]any, key string) bool {
	_, ok := Properties(doc)[key]
	return ok
}

// Clone deep-copies a decoded JSON document.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

// normalize round-trips v through JSON so Go-typed values (ints from YAML,
// typed slices) validate the same way as decoded request bodies.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
