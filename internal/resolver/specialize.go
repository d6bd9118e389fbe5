package resolver

import (
	"slices"

	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/toolschema"
)

// Specialize returns a copy of schema narrowed by c:
//   - properties outside a non-empty Allowed list are dropped
//   - key-level denials drop the property
//   - value-level denials are removed from "enum" (and "items.enum"), and a
//     denied "default" is removed
//   - Defaults become "default" values and leave "required"
//
// A property whose enum loses every value is dropped.
func Specialize(schema map[string]any, c domain.ParameterConstraints) map[string]any {
	out := toolschema.Clone(schema)
	if out == nil {
		out = toolschema.EmptyObject()
	}
	props := toolschema.Properties(out)
	if props == nil {
		props = map[string]any{}
		out["properties"] = props
	}

	if len(c.Allowed) > 0 {
		for key := range props {
			if !slices.Contains(c.Allowed, key) {
				delete(props, key)
			}
		}
	}

	for key, values := range c.Denied {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if len(values) == 0 {
			delete(props, key)
			continue
		}
		if !stripDenied(prop, values) {
			delete(props, key)
			continue
		}
		if items, ok := prop["items"].(map[string]any); ok && !stripDenied(items, values) {
			delete(props, key)
		}
	}

	for key, v := range c.Defaults {
		if prop, ok := props[key].(map[string]any); ok {
			prop["default"] = v
		}
	}

	if req, ok := out["required"].([]any); ok {
		kept := make([]any, 0, len(req))
		for _, r := range req {
			name, _ := r.(string)
			if _, declared := props[name]; !declared {
				continue
			}
			if _, defaulted := c.Defaults[name]; defaulted {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(out, "required")
		} else {
			out["required"] = kept
		}
	}
	return out
}

// stripDenied removes denied enum values and default from a property schema.
// It returns false when the enum is left empty.
func stripDenied(prop map[string]any, denied []string) bool {
	if d, ok := prop["default"]; ok && domain.MatchesDenied(d, denied) {
		delete(prop, "default")
	}
	enum, ok := prop["enum"].([]any)
	if !ok {
		return true
	}
	kept := make([]any, 0, len(enum))
	for _, e := range enum {
		if !domain.MatchesDenied(e, denied) {
			kept = append(kept, e)
		}
	}
	prop["enum"] = kept
	return len(kept) > 0
}
