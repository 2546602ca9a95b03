package utils

import (
	"fmt"
)

// DoCommand payloads travel as map[string]interface{}; after protobuf
// transport every number is a float64, but in-process callers hand us Go
// ints too. These readers take both.

// Float64Value coerces a map value into a float64.
func Float64Value(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Float64FromMap reads a required numeric field.
func Float64FromMap(m map[string]interface{}, key string) (float64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, ok := Float64Value(raw)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", key)
	}
	return v, nil
}

// IntFromMap reads a required integral field.
func IntFromMap(m map[string]interface{}, key string) (int, error) {
	v, err := Float64FromMap(m, key)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// StringFromMap reads a required string field.
func StringFromMap(m map[string]interface{}, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

// BoolFromMap reads an optional boolean field, returning def when absent.
func BoolFromMap(m map[string]interface{}, key string, def bool) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("field %q is not a bool", key)
	}
	return b, nil
}

// MapFromMap reads a required nested map field.
func MapFromMap(m map[string]interface{}, key string) (map[string]interface{}, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	nested, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q is not a map", key)
	}
	return nested, nil
}

// SliceFromMap reads a required list field.
func SliceFromMap(m map[string]interface{}, key string) ([]interface{}, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q is not a list", key)
	}
	return s, nil
}

// Matrix16FromValue decodes a 16-element numeric list into a column-major
// matrix array.
func Matrix16FromValue(v interface{}) ([16]float64, error) {
	var out [16]float64
	switch vals := v.(type) {
	case []float64:
		if len(vals) != 16 {
			return out, fmt.Errorf("matrix needs 16 elements, got %d", len(vals))
		}
		copy(out[:], vals)
	case []interface{}:
		if len(vals) != 16 {
			return out, fmt.Errorf("matrix needs 16 elements, got %d", len(vals))
		}
		for i, raw := range vals {
			f, ok := Float64Value(raw)
			if !ok {
				return out, fmt.Errorf("matrix element %d is not a number", i)
			}
			out[i] = f
		}
	default:
		return out, fmt.Errorf("matrix is not a list")
	}
	return out, nil
}

// Matrix16ToSlice renders a matrix array as a list for DoCommand replies.
func Matrix16ToSlice(m [16]float64) []interface{} {
	out := make([]interface{}, 16)
	for i, v := range m {
		out[i] = v
	}
	return out
}

// MarkerKey is the canonical name for a marker across replies, body names
// and rig members, e.g. "pattern-3".
func MarkerKey(kind string, id int) string {
	return fmt.Sprintf("%s-%d", kind, id)
}
