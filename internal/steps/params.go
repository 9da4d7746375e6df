package steps

import (
	"fmt"
	"strconv"
	"time"
)

// Params is the evaluated parameter snapshot of one invocation.
type Params map[string]any

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Value returns the raw value of key.
func (p Params) Value(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// Require returns the raw value of a mandatory parameter.
func (p Params) Require(key string) (any, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}

// String returns key as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RequireString returns a mandatory non-empty string parameter.
func (p Params) RequireString(key string) (string, error) {
	s := p.String(key, "")
	if s == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return s, nil
}

// Bool returns key as a bool, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("parameter %q: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("parameter %q must be a boolean, got %T", key, v)
}

// Int returns key as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("parameter %q must be an integer, got %T", key, v)
}

// Duration returns key as a duration. Bare numbers are milliseconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("parameter %q must be a duration, got %T", key, v)
}

// Map returns key as a string-keyed map.
func (p Params) Map(key string) (map[string]any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a mapping, got %T", key, v)
	}
	return m, nil
}

// StringMap returns key as a map of strings.
func (p Params) StringMap(key string) (map[string]string, error) {
	m, err := p.Map(key)
	if err != nil || m == nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}
