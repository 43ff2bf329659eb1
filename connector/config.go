package connector

import (
	"fmt"
	"math"
)

// Config is the free-form settings map of a connector instance, as decoded
// from the configuration file.
type Config map[string]any

// String returns the string value for key. ok is false when the key is
// absent; err is set when the key is present with another type.
func (c Config) String(key string) (s string, ok bool, err error) {
	v, ok := c[key]
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, fmt.Errorf("config value %q must be a string", key)
	}
	return s, true, nil
}

// Bool returns the boolean value for key, or def when absent.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("config value %q must be a bool", key)
	}
	return b, nil
}

// Int returns the integer value for key. YAML and JSON decoders produce
// different numeric types; any integral number is accepted.
func (c Config) Int(key string) (n int, ok bool, err error) {
	v, ok := c[key]
	if !ok {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int:
		return x, true, nil
	case int64:
		return int(x), true, nil
	case uint64:
		return int(x), true, nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), true, nil
		}
	}
	return 0, true, fmt.Errorf("config value %q must be an integer", key)
}

// RequireString is String for mandatory keys.
func (c Config) RequireString(key string) (string, error) {
	s, ok, err := c.String(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("requires config value %q", key)
	}
	return s, nil
}
