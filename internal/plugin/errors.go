package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// ErrPluginNotFound is returned when the requested plugin is not registered.
type ErrPluginNotFound struct {
	Name string
}

func (e ErrPluginNotFound) Error() string {
	return fmt.Sprintf("plugin '%s' not found in registry\nHint: ensure the plugin is registered before usage", e.Name)
}

// ErrPluginNotInitialized is returned when a session is requested from a
// plugin that no test suite required.
type ErrPluginNotInitialized struct {
	Name string
}

func (e ErrPluginNotInitialized) Error() string {
	return fmt.Sprintf("plugin '%s' is not initialized\nHint: only plugins whose steps appear in the loaded suites are initialized", e.Name)
}

// ErrMissingDependency is returned when a declared dependency has not been registered.
type ErrMissingDependency struct {
	Plugin     string
	Dependency string
}

func (e ErrMissingDependency) Error() string {
	return fmt.Sprintf(
		"plugin '%s' declares dependency '%s' which is not registered\nHint: register the dependency before initializing plugins",
		e.Plugin,
		e.Dependency,
	)
}

// ErrVersionConflict captures dependents whose constraint the actual version does not meet.
type ErrVersionConflict struct {
	Plugin        string
	RequiredBy    map[string]string // dependent -> version constraint
	ActualVersion string
}

func (e ErrVersionConflict) Error() string {
	conflicts := make([]string, 0, len(e.RequiredBy))
	for dependent, constraint := range e.RequiredBy {
		conflicts = append(conflicts, fmt.Sprintf("%s requires %s", dependent, constraint))
	}
	sort.Strings(conflicts)

	return fmt.Sprintf(
		"version conflict for plugin '%s' (actual %s):\n  %s\nHint: align plugin versions or relax constraints",
		e.Plugin,
		e.ActualVersion,
		strings.Join(conflicts, "\n  "),
	)
}

// ErrInvalidArguments wraps an argument decoding or validation failure.
type ErrInvalidArguments struct {
	Plugin string
	Err    error
}

func (e ErrInvalidArguments) Error() string {
	return fmt.Sprintf("invalid arguments for plugin '%s': %v", e.Plugin, e.Err)
}

func (e ErrInvalidArguments) Unwrap() error {
	return e.Err
}
