// Package convert provides the value coercions used when reading attributes.
//
// Attribute values arrive from several places: Go callers, JSON decoded from
// the journal (always float64), and YAML seed files (int, float64, bool or
// string). These helpers give every reader the same view of them.
//
// Example:
//
//	if f, ok := convert.ToFloat64(attrs["TargetInterval"]); ok {
//		// Use f
//	}
//
// All conversion functions return a success boolean so callers can tell an
// unset or malformed value from a zero.
package convert

import (
	"encoding/json"
	"strconv"
)

// ToFloat64 reads v as a number. JSON numbers, YAML integers, any Go
// integer or float, and numeric strings are accepted; anything else reports
// false.
func ToFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// ToBool interprets a flag. Numbers are true when non-zero and strings use
// strconv.ParseBool. The second result is false when v is not a flag at all.
func ToBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, false
		}
		return b, true
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0, true
	}
	return false, false
}
