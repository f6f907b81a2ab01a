package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of keys present in settings, trying each
// key as written and lowercased.
func lookupSetting(settings map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		for _, k := range []string{key, strings.ToLower(key)} {
			if v, ok := settings[k]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// blank reports whether v is nil or a whitespace-only string. Blank settings
// decode to the zero value.
func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	return cast.ToStringE(v)
}

func asInt(v any) (int, error) {
	if blank(v) {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	if _, ok := v.(bool); ok {
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
	return cast.ToIntE(v)
}

func asFloat64(v any) (float64, error) {
	if blank(v) {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	if _, ok := v.(bool); ok {
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
	return cast.ToFloat64E(v)
}

func asBool(v any) (bool, error) {
	if blank(v) {
		return false, nil
	}
	if s, ok := v.(string); ok {
		return strconv.ParseBool(strings.TrimSpace(s))
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("unsupported boolean type %T", v)
}

// asDuration accepts Go duration strings ("1m30s") and seconds, either as a
// number or a unitless string; seconds may be fractional.
func asDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case bool:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return secondsToDuration(secs), nil
		}
		return time.ParseDuration(s)
	}
	if v == nil {
		return 0, nil
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
	return secondsToDuration(secs), nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// asStringSlice accepts a list or a single string, which becomes a
// one-element list.
func asStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{s}, nil
	}
	return cast.ToStringSliceE(v)
}

// toStringKeyMap turns a nested settings section into a map with trimmed,
// lowercased keys.
func toStringKeyMap(v any) (map[string]any, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", v)
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = val
	}
	return out, nil
}
