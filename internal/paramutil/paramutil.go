// Package paramutil reads and validates the loosely typed `params` block of
// a scenario middleware entry. Every helper returns a ValidationError naming
// the offending key.
package paramutil

import (
	"fmt"
	"time"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// typeError reports a parameter of the wrong Go type.
func typeError(key, want string, got interface{}) error {
	return gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be %s, got %T", key, want, got), nil)
}

// GetRequiredString returns params[key] if it is present and a string.
func GetRequiredString(params map[string]interface{}, key string) (string, error) {
	value, exists := params[key]
	if !exists {
		return "", gxoerrors.NewValidationError(fmt.Sprintf("missing required parameter '%s'", key), nil)
	}
	s, ok := value.(string)
	if !ok {
		return "", typeError(key, "a string", value)
	}
	return s, nil
}

// GetOptionalString returns the string at key and whether it was present.
func GetOptionalString(params map[string]interface{}, key string) (string, bool, error) {
	value, exists := params[key]
	if !exists {
		return "", false, nil
	}
	s, ok := value.(string)
	if !ok {
		return "", false, typeError(key, "a string", value)
	}
	return s, true, nil
}

// GetOptionalStringSlice accepts []string or a YAML list of strings.
func GetOptionalStringSlice(params map[string]interface{}, key string) ([]string, bool, error) {
	value, exists := params[key]
	if !exists {
		return nil, false, nil
	}
	// Programmatic callers may pass []string directly.
	if ss, ok := value.([]string); ok {
		return ss, true, nil
	}
	// yaml.v3 decodes sequences into []interface{}; every item must be a string.
	list, ok := value.([]interface{})
	if !ok {
		return nil, false, typeError(key, "a list", value)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false, gxoerrors.NewValidationError(
				fmt.Sprintf("parameter '%s' must be a list of strings, found %T at index %d", key, item, i), nil)
		}
		out = append(out, s)
	}
	return out, true, nil
}

// GetOptionalMap accepts map[string]interface{} or a YAML mapping with string keys.
func GetOptionalMap(params map[string]interface{}, key string) (map[string]interface{}, bool, error) {
	value, exists := params[key]
	if !exists {
		return nil, false, nil
	}
	switch m := value.(type) {
	// yaml.v3 produces this for mappings decoded into interface{}.
	case map[string]interface{}:
		return m, true, nil
	// Older decoders and hand-built params may use untyped keys.
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			sk, ok := k.(string)
			if !ok {
				return nil, false, gxoerrors.NewValidationError(
					fmt.Sprintf("parameter '%s' must be a map with string keys, found key of type %T", key, k), nil)
			}
			out[sk] = v
		}
		return out, true, nil
	default:
		return nil, false, typeError(key, "a map", value)
	}
}

// GetOptionalInt accepts any integer type and whole floats.
func GetOptionalInt(params map[string]interface{}, key string) (int, bool, error) {
	value, exists := params[key]
	if !exists {
		return 0, false, nil
	}
	// YAML integers arrive as int; JSON-style sources use float64.
	switch v := value.(type) {
	case int:
		return v, true, nil
	case int32:
		return int(v), true, nil
	case int64:
		// Guard against truncation on 32-bit platforms.
		if int64(int(v)) != v {
			return 0, false, gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' value %v overflows int", key, v), nil)
		}
		return int(v), true, nil
	case uint64:
		if v > uint64(^uint(0)>>1) {
			return 0, false, gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' value %v overflows int", key, v), nil)
		}
		return int(v), true, nil
	case float64:
		// 3.0 is accepted, 3.5 is not.
		if v != float64(int(v)) {
			return 0, false, gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' is not a whole number (%v)", key, v), nil)
		}
		return int(v), true, nil
	default:
		return 0, false, typeError(key, "an integer", value)
	}
}

// GetOptionalFloat accepts any numeric value.
func GetOptionalFloat(params map[string]interface{}, key string) (float64, bool, error) {
	value, exists := params[key]
	if !exists {
		return 0, false, nil
	}
	switch v := value.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, typeError(key, "a number", value)
	}
}

// GetOptionalBool returns the boolean at key. Strings such as "true" are not
// coerced.
func GetOptionalBool(params map[string]interface{}, key string) (bool, bool, error) {
	value, exists := params[key]
	if !exists {
		return false, false, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, false, typeError(key, "a boolean", value)
	}
	return b, true, nil
}

// GetOptionalDuration parses a Go duration string such as "250ms". Negative
// durations are rejected.
func GetOptionalDuration(params map[string]interface{}, key string) (time.Duration, bool, error) {
	s, found, err := GetOptionalString(params, key)
	if err != nil || !found {
		return 0, found, err
	}
	// Only Go duration syntax is accepted; bare numbers are rejected.
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' is not a valid duration", key), err)
	}
	if d < 0 {
		return 0, false, gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' cannot be negative", key), nil)
	}
	return d, true, nil
}

// GetOptionalStringMap accepts a mapping whose values are all strings.
func GetOptionalStringMap(params map[string]interface{}, key string) (map[string]string, bool, error) {
	m, found, err := GetOptionalMap(params, key)
	if err != nil || !found {
		return nil, found, err
	}
	// Values must already be strings; numbers are not stringified so that
	// `PORT: 08` cannot silently change.
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, false, gxoerrors.NewValidationError(
				fmt.Sprintf("parameter '%s' must map to strings, key '%s' holds %T", key, k, v), nil)
		}
		out[k] = s
	}
	return out, true, nil
}

// CheckAllowed rejects keys not listed in allowed. An empty list allows everything.
func CheckAllowed(params map[string]interface{}, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	// Set lookup keeps the check linear in the number of params.
	set := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		set[key] = struct{}{}
	}
	for key := range params {
		if _, ok := set[key]; !ok {
			return gxoerrors.NewValidationError(fmt.Sprintf("unknown parameter '%s' provided", key), nil)
		}
	}
	return nil
}

// CheckOneOf verifies that value is one of choices.
func CheckOneOf(key, value string, choices ...string) error {
	for _, c := range choices {
		if value == c {
			return nil
		}
	}
	return gxoerrors.NewValidationError(fmt.Sprintf("parameter '%s' must be one of %v, got '%s'", key, choices, value), nil)
}
