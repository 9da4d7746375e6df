// Package stepstest provides an in-memory steps.Context for plugin tests.
package stepstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/expr"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
)

// Log records execution log lines prefixed with their level.
type Log struct {
	mu    sync.Mutex
	lines []string
}

func (l *Log) add(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+message)
}

func (l *Log) Info(message string)  { l.add("INFO", message) }
func (l *Log) Warn(message string)  { l.add("WARN", message) }
func (l *Log) Error(message string) { l.add("ERROR", message) }

// Lines returns a copy of the recorded lines.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Context is a single-scope steps.Context. Sessions are created on first
// use by the registered plugins.
type Context struct {
	Attrs      map[string]any
	Global     map[string]any
	Properties map[string]any
	Sessions   map[string]plugin.Session
	Plugins    map[string]plugin.Plugin
	Logs       *Log
}

var _ steps.Context = (*Context)(nil)

// New returns an empty context that knows the given plugins.
func New(plugins ...plugin.Plugin) *Context {
	c := &Context{
		Attrs:      map[string]any{},
		Global:     map[string]any{},
		Properties: map[string]any{},
		Sessions:   map[string]plugin.Session{},
		Plugins:    map[string]plugin.Plugin{},
		Logs:       &Log{},
	}
	for _, p := range plugins {
		c.Plugins[p.Metadata().Name] = p
	}
	return c
}

func (c *Context) Attribute(key string) (any, bool) {
	v, ok := c.Attrs[key]
	return v, ok
}

func (c *Context) SetAttribute(key string, value any) { c.Attrs[key] = value }

func (c *Context) RemoveAttribute(key string) bool {
	_, ok := c.Attrs[key]
	delete(c.Attrs, key)
	return ok
}

func (c *Context) SetGlobal(key string, value any) { c.Global[key] = value }

func (c *Context) Property(key string) (any, bool) {
	v, ok := c.Properties[key]
	return v, ok
}

func (c *Context) Parameter(name string) (any, error) {
	return nil, fmt.Errorf("parameter %q: no active function", name)
}

func (c *Context) Log() steps.Log { return c.Logs }

func (c *Context) Session(ctx context.Context, pluginName string) (plugin.Session, error) {
	if s, ok := c.Sessions[pluginName]; ok {
		return s, nil
	}
	p, ok := c.Plugins[pluginName]
	if !ok {
		return nil, plugin.ErrPluginNotFound{Name: pluginName}
	}
	s, err := p.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	c.Sessions[pluginName] = s
	return s, nil
}

func (c *Context) CallFunction(context.Context, string, map[string]any) error {
	return errors.New("functions are not available")
}

func (c *Context) RunSteps(context.Context, []config.Step) error {
	return errors.New("nested steps are not available")
}

func (c *Context) Condition(expression string) (bool, error) {
	return expr.Condition(expression, expr.Env{Attributes: c.Attrs, Global: c.Global, Properties: c.Properties})
}

// Run executes the step type registered in r.
func Run(ctx context.Context, r *steps.Registry, sc steps.Context, typ string, params steps.Params) error {
	def, ok := r.Lookup(typ)
	if !ok || def.Kind != steps.KindStep {
		return fmt.Errorf("step %q is not registered", typ)
	}
	return def.Step.Execute(ctx, sc, steps.Invocation{Type: typ, Params: params})
}

// Check evaluates the validation type registered in r.
func Check(ctx context.Context, r *steps.Registry, sc steps.Context, typ string, params steps.Params) (bool, error) {
	def, ok := r.Lookup(typ)
	if !ok || def.Kind != steps.KindValidation {
		return false, fmt.Errorf("validation %q is not registered", typ)
	}
	return def.Validation.Validate(ctx, sc, steps.Invocation{Type: typ, Params: params})
}
