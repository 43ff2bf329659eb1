package registry

import (
	"fmt"
	"strings"
)

// PluginNotFoundError is returned when neither the built-ins nor any plugin
// directory advertise the requested name.
type PluginNotFoundError struct {
	Kind Kind
	Name string

	// LoadErrors holds the broken plugin files seen during the scan.
	LoadErrors []error
}

func (e *PluginNotFoundError) Error() string {
	msg := fmt.Sprintf("%s plugin %q not found", e.Kind, e.Name)
	if len(e.LoadErrors) == 0 {
		return msg
	}
	parts := make([]string, len(e.LoadErrors))
	for i, err := range e.LoadErrors {
		parts[i] = err.Error()
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

func (e *PluginNotFoundError) Unwrap() []error {
	return e.LoadErrors
}

// PluginLoadError names a plugin file or directory that could not be loaded.
type PluginLoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("failed to load %s plugin %s: %v", e.Kind, e.Path, e.Err)
}

func (e *PluginLoadError) Unwrap() error {
	return e.Err
}
