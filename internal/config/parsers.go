// Package config loads run settings from a config file and command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupSetting searches for a value in settings using multiple candidate keys.
// It performs case-insensitive matching by also checking lowercase versions.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		lower := strings.ToLower(key)
		if val, ok := settings[lower]; ok {
			return val, true
		}
	}
	return nil, false
}

// asString converts an interface value to a string.
// Handles nil, string, fmt.Stringer, []byte, and falls back to fmt.Sprint.
func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

type number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// toNumber converts any decoded numeric value to T. ok is false for
// non-numeric input.
func toNumber[T number](value interface{}) (n T, ok bool) {
	switch v := value.(type) {
	case int:
		return T(v), true
	case int8:
		return T(v), true
	case int16:
		return T(v), true
	case int32:
		return T(v), true
	case int64:
		return T(v), true
	case uint:
		return T(v), true
	case uint8:
		return T(v), true
	case uint16:
		return T(v), true
	case uint32:
		return T(v), true
	case uint64:
		return T(v), true
	case float32:
		return T(v), true
	case float64:
		return T(v), true
	}
	return 0, false
}

// parseNumber handles the shapes shared by every numeric setting: nil and
// blank strings mean zero, numbers convert directly, other strings go
// through parse.
func parseNumber[T number](value interface{}, parse func(string) (T, error)) (T, error) {
	if n, ok := toNumber[T](value); ok {
		return n, nil
	}
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		return parse(v)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func asInt(value interface{}) (int, error) {
	return parseNumber(value, strconv.Atoi)
}

// asInt64 keeps full precision for values such as seeds.
func asInt64(value interface{}) (int64, error) {
	return parseNumber(value, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func asFloat64(value interface{}) (float64, error) {
	return parseNumber(value, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// asSeconds converts an interface value to a time.Duration.
// Numbers are read as (possibly fractional) seconds; strings may also use
// time.ParseDuration syntax such as "1.5s" or "250ms".
func asSeconds(value interface{}) (time.Duration, error) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	secs, err := asFloat64(value)
	if err != nil {
		return 0, err
	}
	return secondsToDuration(secs), nil
}

// asMillis converts a whole or fractional millisecond count to a time.Duration.
func asMillis(value interface{}) (time.Duration, error) {
	ms, err := asFloat64(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// asBool converts an interface value to a bool.
// Handles bool and string representations.
func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, err
		}
		return b, nil
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asStringSlice converts an interface value to a []string.
// Handles []string, []interface{}, and single string values.
func asStringSlice(value interface{}) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return splitList(v), nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

// asStringList is asStringSlice without comma splitting, for entries that
// may contain commas themselves.
func asStringList(value interface{}) ([]string, error) {
	if s, ok := value.(string); ok {
		return []string{s}, nil
	}
	return asStringSlice(value)
}

// toStringKeyMap converts a map with various key types to map[string]interface{}.
// Keys are normalized to lowercase.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return result, nil
}

// splitList splits a comma separated string, dropping blank items.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
