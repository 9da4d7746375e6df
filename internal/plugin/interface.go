package plugin

import (
	"context"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
)

// Plugin is a pluggable capability provider (a REST client, a repository
// handle, a shell) whose sessions are pooled by the registry.
//
// Implementations should:
//   - Describe themselves via Metadata()
//   - Return a pointer to their argument struct from ArgumentType(), or nil
//   - Prepare shared state in Initialize(); it is called once, in dependency order
//   - Create one independent session per NewSession() call
//   - Capture diagnostics in HandleError(); it must not panic or block for long
type Plugin interface {
	Metadata() Metadata

	// ArgumentType returns a pointer to a zero value of the plugin's argument
	// struct. Arguments are decoded into it before Initialize. Nil means the
	// plugin takes no arguments.
	ArgumentType() any

	Initialize(ctx context.Context, init InitContext) error

	// NewSession is the pool factory. It is never called more than the
	// configured maximum number of times concurrently outstanding.
	NewSession(ctx context.Context) (Session, error)

	HandleError(ctx context.Context, details ErrorDetails)

	Close() error
}

// Session is one leasable instance of a plugin resource. Sessions must be
// pointer types; they are compared by identity.
type Session interface {
	Close() error
}

// InitContext is handed to Plugin.Initialize.
type InitContext struct {
	// Args is the value returned by ArgumentType, populated and validated.
	Args      any
	Registry  *Registry
	Logger    *logger.Logger
	ReportDir string
}

// DiagnosticLog is the part of an execution log visible to error handlers.
type DiagnosticLog interface {
	Info(message string)
	Warn(message string)
}

// ErrorDetails describes a failed or errored unit to a plugin's error handler.
type ErrorDetails struct {
	Unit     string
	StepType string
	Location string
	Err      error
	// Failed is true for a validation that returned false rather than an error.
	Failed bool
	// Session is the session the failing worker holds for this plugin, or nil.
	Session Session
	Log     DiagnosticLog
}

// Base provides no-op defaults for the optional parts of Plugin.
type Base struct{}

// ArgumentType reports that the plugin takes no arguments.
func (Base) ArgumentType() any { return nil }

// Initialize does nothing.
func (Base) Initialize(context.Context, InitContext) error { return nil }

// HandleError does nothing.
func (Base) HandleError(context.Context, ErrorDetails) {}

// Close does nothing.
func (Base) Close() error { return nil }
