package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Violation returns the first parameter of params that a denial rule matches,
// with a human-readable reason. Keys are checked in sorted order so the
// reported key is stable.
func (c ParameterConstraints) Violation(params map[string]any) (key, reason string, denied bool) {
	keys := make([]string, 0, len(c.Denied))
	for k := range c.Denied {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, present := params[k]
		if !present {
			continue
		}
		values := c.Denied[k]
		if len(values) == 0 {
			return k, fmt.Sprintf("parameter %q is not allowed", k), true
		}
		if MatchesDenied(v, values) {
			return k, fmt.Sprintf("value of parameter %q is not allowed", k), true
		}
	}
	return "", "", false
}

// MatchesDenied reports whether v hits any denied value. Strings match when
// they contain a denied value, ignoring case. Other scalars match on their
// formatted value. Arrays match when any element does.
func MatchesDenied(v any, denied []string) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		s := strings.ToLower(v)
		for _, d := range denied {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" && strings.Contains(s, d) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range v {
			if MatchesDenied(e, denied) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range v {
			if MatchesDenied(e, denied) {
				return true
			}
		}
		return false
	case map[string]any:
		return false
	default:
		s := fmt.Sprint(v)
		for _, d := range denied {
			if s == strings.TrimSpace(d) {
				return true
			}
		}
		return false
	}
}
