// Package config loads limitprobe settings from a config file, the environment
// and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of candidates present in settings. Viper
// lowercases keys, so each candidate is also tried in lower case.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func trimString(value interface{}) interface{} {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return value
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	value = trimString(value)
	n, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("expected a whole number, got %v", value)
	}
	return n, nil
}

func asFloat64(value interface{}) (float64, error) {
	value = trimString(value)
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %v", value)
	}
	return f, nil
}

func asBool(value interface{}) (bool, error) {
	value = trimString(value)
	if value == "" {
		return false, nil
	}
	b, err := cast.ToBoolE(value)
	if err != nil {
		return false, fmt.Errorf("expected true or false, got %v", value)
	}
	return b, nil
}

// asDuration accepts Go duration strings ("250ms", "1m"). Bare numbers are
// seconds, so `timeout: 5` in a config file means five seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("expected a duration such as 500ms or 30s, got %q", v)
		}
		return d, nil
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringMap reads a header table.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("expected a map of header names to values, got %T", value)
	}
	for key := range m {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
	}
	return m, nil
}

// asStringSlice reads a list of strings. A single string is one element, so a
// lone threshold expression is not split on its spaces.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	out, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("expected a list of strings, got %T", value)
	}
	return out, nil
}

// toInterfaceSlice reads the scenarios list.
func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	return items, nil
}

// toStringKeyMap reads a nested table with lowercased, trimmed keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil || m == nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]interface{}, len(m))
	for key, val := range m {
		out[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return out, nil
}
