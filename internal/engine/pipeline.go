package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/debug"
	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
	"github.com/alexisbeaulieu97/autoflow/internal/expr"
	"github.com/alexisbeaulieu97/autoflow/internal/model"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/report"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
)

// StepError attributes a failure to the step or validation that raised it.
// Nested steps keep the innermost attribution.
type StepError struct {
	Type     string
	Kind     steps.Kind
	Location config.Location
	Err      error
}

func (e *StepError) Error() string {
	label := "Step"
	if e.Kind == steps.KindValidation {
		label = "Validation"
	}
	verb := "errored"
	if steps.IsAssertion(e.Err) {
		verb = "failed"
	}
	return fmt.Sprintf("%v (%s %s %s at %s)", e.Err, label, e.Type, verb, e.Location)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Cause returns the error the step itself raised.
func (e *StepError) Cause() error {
	return e.Err
}

func (r *Runtime) runSteps(ctx context.Context, sc *stepContext, list []config.Step) error {
	for _, step := range list {
		if err := ctx.Err(); err != nil {
			return &StepError{Type: step.Type, Kind: steps.KindStep, Location: step.Location, Err: fmt.Errorf("run cancelled: %w", err)}
		}
		if err := r.invoke(ctx, sc, step); err != nil {
			return err
		}
	}
	return nil
}

// invoke runs one step definition: debug checkpoint, parameter evaluation
// against the current scope, then execution.
func (r *Runtime) invoke(ctx context.Context, sc *stepContext, step config.Step) error {
	def, ok := r.steps.Lookup(step.Type)
	if !ok {
		return &StepError{Type: step.Type, Kind: steps.KindStep, Location: step.Location, Err: fmt.Errorf("unknown step type")}
	}
	wrap := func(err error) error {
		var inner *StepError
		if errors.As(err, &inner) {
			return err
		}
		return &StepError{Type: step.Type, Kind: def.Kind, Location: step.Location, Err: err}
	}

	if r.opts.Debugger != nil {
		cp := debug.Checkpoint{
			Worker:    string(sc.worker),
			Unit:      sc.unit,
			File:      step.Location.File,
			Line:      step.Location.Line,
			Depth:     sc.stack().Depth(),
			Condition: sc.Condition,
		}
		if err := r.opts.Debugger.Checkpoint(ctx, cp); err != nil {
			return wrap(err)
		}
	}

	params, err := expr.ResolveParams(step.Params, sc.env(nil))
	if err != nil {
		return wrap(err)
	}

	sc.log.SetLocation(step.Location.String())
	inv := steps.Invocation{
		Type:     step.Type,
		Params:   steps.Params(params),
		Steps:    step.Steps,
		Location: step.Location,
	}

	if err := call(ctx, sc, def, inv); err != nil {
		return wrap(err)
	}
	return nil
}

// call executes the definition and turns a panic into an error so only
// the running unit is affected.
func call(ctx context.Context, sc *stepContext, def steps.Definition, inv steps.Invocation) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s %q panicked: %v", def.Kind, inv.Type, recovered)
		}
	}()

	if def.Kind == steps.KindValidation {
		ok, err := def.Validation.Validate(ctx, sc, inv)
		if err != nil {
			return err
		}
		if !ok {
			return &steps.AssertionError{Message: "validation did not hold"}
		}
		return nil
	}
	return def.Step.Execute(ctx, sc, inv)
}

// runBlock executes a setup or cleanup executor in a scope shared with its
// parent. A nil executor yields nil details.
func (r *Runtime) runBlock(ctx context.Context, worker execctx.WorkerID, exec *Executor, suite *config.Suite) *model.ExecutionDetails {
	if exec == nil {
		return nil
	}

	details := &model.ExecutionDetails{StartedOn: r.now()}
	log := report.NewExecutionLog(exec.Path(), r.logger)
	r.progress("%s", exec.Path())

	r.contexts.Push(worker, exec)
	sc := r.newStepContext(worker, log, suite, exec.Path())
	err := r.runSteps(ctx, sc, exec.Steps)
	if err != nil {
		details.Status = model.StatusErrored
		details.Message = err.Error()
		log.Error(details.Message)
		r.reportFailure(ctx, sc, err)
	} else {
		details.Status = model.StatusSuccessful
	}
	r.contexts.Pop(worker, exec)

	details.EndedOn = r.now()
	details.LogFile = r.writeLog(log)
	return details
}

// execute runs the body of a test case or data iteration: steps, the
// expected-exception check, then validations.
func (r *Runtime) execute(ctx context.Context, sc *stepContext, tc *config.TestCase) (model.Status, string) {
	if err := r.runSteps(ctx, sc, tc.Steps); err != nil {
		if tc.ExpectedException != nil && !steps.IsAssertion(err) {
			matched, reason := r.matchExpected(sc, tc.ExpectedException, err)
			if matched {
				sc.log.Info(fmt.Sprintf("expected exception occurred: %v", rootCause(err)))
				return model.StatusSuccessful, ""
			}
			sc.log.Error(reason)
		}
		return r.classify(ctx, sc, err)
	}

	if tc.ExpectedException != nil {
		message := fmt.Sprintf("Expected exception %s did not occur", tc.ExpectedException.Type)
		sc.log.Error(message)
		r.reportFailure(ctx, sc, errors.New(message))
		return model.StatusErrored, message
	}

	if err := r.runSteps(ctx, sc, tc.Validations); err != nil {
		return r.classify(ctx, sc, err)
	}
	return model.StatusSuccessful, ""
}

// classify maps a pipeline error to a result: assertion failures are
// FAILED, everything else is ERRORED. Plugin error handlers run first.
func (r *Runtime) classify(ctx context.Context, sc *stepContext, err error) (model.Status, string) {
	status := model.StatusErrored
	if steps.IsAssertion(err) {
		status = model.StatusFailed
	}
	message := err.Error()
	sc.log.Error(message)
	r.reportFailure(ctx, sc, err)
	return status, message
}

func (r *Runtime) reportFailure(ctx context.Context, sc *stepContext, err error) {
	if r.plugins == nil {
		return
	}

	details := plugin.ErrorDetails{
		Unit:   sc.unit,
		Err:    err,
		Failed: steps.IsAssertion(err),
		Log:    sc.log,
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		details.StepType = stepErr.Type
		details.Location = stepErr.Location.String()
	}

	stack := sc.stack()
	r.plugins.HandleError(ctx, details, func(name string) plugin.Session {
		return stack.HeldSession(name)
	})
}

// matchExpected checks err against the declared expectation: the type
// name, then the message substring, then the condition.
func (r *Runtime) matchExpected(sc *stepContext, expected *config.ExpectedException, err error) (bool, string) {
	cause := rootCause(err)
	errType := steps.ErrorType(cause)
	errMessage := cause.Error()

	if expected.Type != errType {
		return false, fmt.Sprintf("expected exception of type %s but %s occurred: %s", expected.Type, errType, errMessage)
	}

	if expected.Message != "" {
		want, resolveErr := expr.Resolve(expected.Message, sc.env(nil))
		if resolveErr != nil {
			return false, fmt.Sprintf("expected exception message: %v", resolveErr)
		}
		if !strings.Contains(errMessage, fmt.Sprint(want)) {
			return false, fmt.Sprintf("expected exception message to contain %q but was %q", want, errMessage)
		}
	}

	if expected.Condition != "" {
		extra := map[string]any{"error": map[string]any{"type": errType, "message": errMessage}}
		holds, condErr := expr.Condition(expected.Condition, sc.env(extra))
		if condErr != nil {
			return false, fmt.Sprintf("expected exception condition: %v", condErr)
		}
		if !holds {
			return false, fmt.Sprintf("expected exception condition %q does not hold", expected.Condition)
		}
	}
	return true, ""
}

func rootCause(err error) error {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Cause()
	}
	return err
}
