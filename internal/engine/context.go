package engine

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
	"github.com/alexisbeaulieu97/autoflow/internal/expr"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/report"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
)

// maxCallDepth bounds nested function calls.
const maxCallDepth = 64

// stepContext is the steps.Context of one unit on one worker.
type stepContext struct {
	rt     *Runtime
	worker execctx.WorkerID
	log    *report.ExecutionLog
	suite  *config.Suite
	unit   string
}

var _ steps.Context = (*stepContext)(nil)

func (r *Runtime) newStepContext(worker execctx.WorkerID, log *report.ExecutionLog, suite *config.Suite, unit string) *stepContext {
	return &stepContext{rt: r, worker: worker, log: log, suite: suite, unit: unit}
}

func (sc *stepContext) stack() *execctx.ThreadStack {
	return sc.rt.contexts.Stack(sc.worker)
}

func (sc *stepContext) env(extra map[string]any) expr.Env {
	stack := sc.stack()
	env := expr.Env{
		Global:     sc.rt.contexts.Global().Snapshot(),
		Properties: sc.rt.opts.Properties,
		Extra:      extra,
	}
	if current := stack.Current(); current != nil {
		env.Attributes = current.Flatten()
	}
	if params, err := stack.Parameters(); err == nil {
		env.Params = params
	}
	return env
}

func (sc *stepContext) Attribute(key string) (any, bool) {
	return sc.stack().Attribute(key)
}

func (sc *stepContext) SetAttribute(key string, value any) {
	sc.stack().SetAttribute(key, value)
}

func (sc *stepContext) RemoveAttribute(key string) bool {
	current := sc.stack().Current()
	if current == nil {
		return false
	}
	return current.RemoveAttribute(key)
}

func (sc *stepContext) SetGlobal(key string, value any) {
	sc.rt.contexts.Global().Set(key, value)
}

func (sc *stepContext) Property(key string) (any, bool) {
	v, ok := sc.rt.opts.Properties[key]
	return v, ok
}

func (sc *stepContext) Parameter(name string) (any, error) {
	return sc.stack().Parameter(name)
}

func (sc *stepContext) Log() steps.Log {
	return sc.log
}

func (sc *stepContext) Session(ctx context.Context, pluginName string) (plugin.Session, error) {
	return sc.stack().Session(ctx, pluginName)
}

func (sc *stepContext) RunSteps(ctx context.Context, list []config.Step) error {
	return sc.rt.runSteps(ctx, sc, list)
}

func (sc *stepContext) Condition(expression string) (bool, error) {
	return expr.Condition(expression, sc.env(nil))
}

// CallFunction runs a function body in a scope shared with the caller and a
// fresh parameter frame. Declared parameters without a value or default
// are an error, as are arguments the function does not declare.
func (sc *stepContext) CallFunction(ctx context.Context, name string, args map[string]any) error {
	fn, ok := sc.rt.plan.function(sc.suite, name)
	if !ok {
		return fmt.Errorf("function %q is not defined", name)
	}

	stack := sc.stack()
	if stack.Depth() >= maxCallDepth {
		return fmt.Errorf("function %q exceeds the maximum call depth of %d", name, maxCallDepth)
	}

	params, err := bindParameters(fn, args)
	if err != nil {
		return err
	}

	parent, _ := stack.Current().Node().(*Executor)
	call := newExecutor(KindFunction, fn.Name, parent, true)
	call.id = fmt.Sprintf("%s#%d", call.id, sc.rt.calls.Add(1))
	call.Steps = fn.Steps

	sc.rt.contexts.Push(sc.worker, call)
	stack.PushParameters(params)
	defer func() {
		if err := stack.PopParameters(); err != nil {
			sc.rt.logger.Error(err, "unbalanced parameter frames")
		}
		sc.rt.contexts.Pop(sc.worker, call)
	}()

	sc.log.Info(fmt.Sprintf("calling function %s", fn.Name))
	return sc.rt.runSteps(ctx, sc, fn.Steps)
}

func bindParameters(fn config.Function, args map[string]any) (map[string]any, error) {
	params := make(map[string]any, len(fn.Parameters)+len(args))
	for k, v := range fn.Defaults {
		params[k] = v
	}

	if len(fn.Parameters) > 0 {
		declared := make(map[string]bool, len(fn.Parameters)+len(fn.Defaults))
		for _, p := range fn.Parameters {
			declared[p] = true
		}
		for k := range fn.Defaults {
			declared[k] = true
		}
		for k := range args {
			if !declared[k] {
				return nil, fmt.Errorf("function %q has no parameter %q", fn.Name, k)
			}
		}
	}
	for k, v := range args {
		params[k] = v
	}

	for _, p := range fn.Parameters {
		if _, ok := params[p]; !ok {
			return nil, fmt.Errorf("function %q requires parameter %q", fn.Name, p)
		}
	}
	return params, nil
}
