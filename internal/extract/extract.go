// Package extract provides lookup helpers over raw FHIR resources decoded
// into map[string]interface{}. Every helper returns an ok bool instead of
// failing on a missing or mistyped intermediate value.
package extract

import (
	"encoding/json"
	"strings"
)

// Value walks a path of nested keys through maps. It returns (nil, false)
// as soon as an intermediate key is absent or not a map.
func Value(data map[string]interface{}, path ...string) (interface{}, bool) {
	var current interface{} = data
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at path.
func String(data map[string]interface{}, path ...string) (string, bool) {
	v, ok := Value(data, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the bool at path.
func Bool(data map[string]interface{}, path ...string) (bool, bool) {
	v, ok := Value(data, path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns the numeric value at path as an int. JSON numbers decode as
// float64, so both representations are accepted.
func Int(data map[string]interface{}, path ...string) (int, bool) {
	v, ok := Value(data, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Map returns the nested map at path.
func Map(data map[string]interface{}, path ...string) (map[string]interface{}, bool) {
	v, ok := Value(data, path...)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// Slice returns the list at path.
func Slice(data map[string]interface{}, path ...string) ([]interface{}, bool) {
	v, ok := Value(data, path...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]interface{})
	return s, ok
}

// FirstMap returns the first element of the list at path as a map. The first
// entry of an ordered FHIR list is the representative one (first address,
// first identifier, first telecom entry).
func FirstMap(data map[string]interface{}, path ...string) (map[string]interface{}, bool) {
	s, ok := Slice(data, path...)
	if !ok || len(s) == 0 {
		return nil, false
	}
	m, ok := s[0].(map[string]interface{})
	return m, ok
}

// SelectMap returns the first list element satisfying pred.
func SelectMap(list []interface{}, pred func(map[string]interface{}) bool) (map[string]interface{}, bool) {
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if pred(m) {
			return m, true
		}
	}
	return nil, false
}

// Strings converts the list at path into its string elements, skipping
// anything that is not a string.
func Strings(data map[string]interface{}, path ...string) []string {
	s, ok := Slice(data, path...)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, item := range s {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Canonicalize decodes top-level fields that arrive as JSON-encoded strings
// into their structured form. Analytical stores flatten nested FHIR elements
// into JSON text columns; applying this once at the source boundary means no
// downstream code has to re-check for the string form.
func Canonicalize(resource map[string]interface{}) map[string]interface{} {
	for key, value := range resource {
		s, ok := value.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			continue
		}
		resource[key] = decoded
	}
	return resource
}
