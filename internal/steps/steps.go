// Package steps defines the step and validation contracts and the built-in
// implementations. Plugins contribute further types through Provider.
package steps

import (
	"context"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
)

// Log is the execution log of the running unit.
type Log interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}

// Context is the runtime view a step executes against.
type Context interface {
	// Attribute reads through the context chain of the running unit.
	Attribute(key string) (any, bool)
	SetAttribute(key string, value any)
	RemoveAttribute(key string) bool
	SetGlobal(key string, value any)
	Property(key string) (any, bool)
	// Parameter resolves a parameter of the innermost function call.
	Parameter(name string) (any, error)
	Log() Log
	// Session returns the worker's session of a plugin, leasing one on first use.
	Session(ctx context.Context, pluginName string) (plugin.Session, error)
	CallFunction(ctx context.Context, name string, args map[string]any) error
	// RunSteps executes nested step definitions through the pipeline.
	RunSteps(ctx context.Context, steps []config.Step) error
	Condition(expression string) (bool, error)
}

// Invocation is one evaluated use of a step definition. Params is a fresh
// snapshot; the definition itself is never modified.
type Invocation struct {
	Type     string
	Params   Params
	Steps    []config.Step
	Location config.Location
}

// Step performs an action.
type Step interface {
	Execute(ctx context.Context, sc Context, inv Invocation) error
}

// Validation checks a condition. A false result is a failure; an error is
// an execution error.
type Validation interface {
	Validate(ctx context.Context, sc Context, inv Invocation) (bool, error)
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, sc Context, inv Invocation) error

// Execute calls f.
func (f StepFunc) Execute(ctx context.Context, sc Context, inv Invocation) error {
	return f(ctx, sc, inv)
}

// ValidationFunc adapts a function to Validation.
type ValidationFunc func(ctx context.Context, sc Context, inv Invocation) (bool, error)

// Validate calls f.
func (f ValidationFunc) Validate(ctx context.Context, sc Context, inv Invocation) (bool, error) {
	return f(ctx, sc, inv)
}

// Provider is implemented by plugins that contribute step types.
type Provider interface {
	RegisterSteps(r *Registry) error
}
