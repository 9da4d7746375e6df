package steps

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/autoflow/internal/expr"
	"github.com/alexisbeaulieu97/autoflow/pkg/diff"
)

// RegisterBuiltins adds the steps and validations every run has.
func RegisterBuiltins(r *Registry) error {
	builtinSteps := []struct {
		typ  string
		desc string
		fn   StepFunc
	}{
		{"set", "store a value in the unit's attributes (scope: local or global)", setStep},
		{"remove", "delete an attribute", removeStep},
		{"log", "write a message to the execution log", logStep},
		{"fail", "fail the unit with a message", failStep},
		{"throw", "raise an error of the given type", throwStep},
		{"sleep", "pause for a duration", sleepStep},
		{"call", "call a function with arguments", callStep},
		{"property", "copy a project property into an attribute", propertyStep},
		{"run-steps-if", "run nested steps when a condition holds", runStepsIf},
	}
	for _, s := range builtinSteps {
		if err := r.RegisterStep(s.typ, "", s.desc, s.fn); err != nil {
			return err
		}
	}

	builtinValidations := []struct {
		typ  string
		desc string
		fn   ValidationFunc
	}{
		{"assert-true", "value is truthy", assertTruthy(true)},
		{"assert-false", "value is falsy", assertTruthy(false)},
		{"assert-equals", "expected equals actual", assertEquality(true)},
		{"assert-not-equals", "expected differs from actual", assertEquality(false)},
		{"assert-condition", "condition expression holds", assertCondition},
		{"assert-not-empty", "value is present and not empty", assertNotEmpty},
	}
	for _, v := range builtinValidations {
		if err := r.RegisterValidation(v.typ, "", v.desc, v.fn); err != nil {
			return err
		}
	}
	return nil
}

func setStep(_ context.Context, sc Context, inv Invocation) error {
	name, err := inv.Params.RequireString("name")
	if err != nil {
		return err
	}
	value, _ := inv.Params.Value("value")

	switch scope := inv.Params.String("scope", "local"); scope {
	case "local":
		sc.SetAttribute(name, value)
	case "global":
		sc.SetGlobal(name, value)
	default:
		return fmt.Errorf("unknown scope %q (want local or global)", scope)
	}
	return nil
}

func removeStep(_ context.Context, sc Context, inv Invocation) error {
	name, err := inv.Params.RequireString("name")
	if err != nil {
		return err
	}
	if !sc.RemoveAttribute(name) {
		sc.Log().Warn(fmt.Sprintf("attribute %q was not set in this scope", name))
	}
	return nil
}

func logStep(_ context.Context, sc Context, inv Invocation) error {
	message := inv.Params.String("message", "")
	switch level := inv.Params.String("level", "info"); level {
	case "info":
		sc.Log().Info(message)
	case "warn", "warning":
		sc.Log().Warn(message)
	case "error":
		sc.Log().Error(message)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

func failStep(_ context.Context, _ Context, inv Invocation) error {
	return &AssertionError{Message: inv.Params.String("message", "failed by fail step")}
}

func throwStep(_ context.Context, _ Context, inv Invocation) error {
	typ, err := inv.Params.RequireString("error")
	if err != nil {
		return err
	}
	return &TypedError{Type: typ, Message: inv.Params.String("message", typ)}
}

func sleepStep(ctx context.Context, _ Context, inv Invocation) error {
	d, err := inv.Params.Duration("duration", 0)
	if err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func callStep(ctx context.Context, sc Context, inv Invocation) error {
	name, err := inv.Params.RequireString("function")
	if err != nil {
		return err
	}
	args, err := inv.Params.Map("args")
	if err != nil {
		return err
	}
	return sc.CallFunction(ctx, name, args)
}

func propertyStep(_ context.Context, sc Context, inv Invocation) error {
	name, err := inv.Params.RequireString("name")
	if err != nil {
		return err
	}
	target := inv.Params.String("attribute", name)

	value, ok := sc.Property(name)
	if !ok {
		def, hasDefault := inv.Params.Value("default")
		if !hasDefault {
			return fmt.Errorf("property %q is not defined", name)
		}
		value = def
	}
	sc.SetAttribute(target, value)
	return nil
}

func runStepsIf(ctx context.Context, sc Context, inv Invocation) error {
	holds, err := evaluateCondition(sc, inv.Params, "condition")
	if err != nil {
		return err
	}
	if !holds {
		sc.Log().Info(fmt.Sprintf("condition not met, skipping %d step(s)", len(inv.Steps)))
		return nil
	}
	return sc.RunSteps(ctx, inv.Steps)
}

func evaluateCondition(sc Context, params Params, key string) (bool, error) {
	v, err := params.Require(key)
	if err != nil {
		return false, err
	}
	if s, ok := v.(string); ok {
		return sc.Condition(s)
	}
	return expr.Truthy(v), nil
}

func assertTruthy(want bool) ValidationFunc {
	return func(_ context.Context, sc Context, inv Invocation) (bool, error) {
		v, err := inv.Params.Require("value")
		if err != nil {
			return false, err
		}
		if expr.Truthy(v) != want {
			sc.Log().Warn(fmt.Sprintf("expected %t value, got %v", want, v))
			return false, nil
		}
		return true, nil
	}
}

func assertEquality(wantEqual bool) ValidationFunc {
	return func(_ context.Context, sc Context, inv Invocation) (bool, error) {
		expected, err := inv.Params.Require("expected")
		if err != nil {
			return false, err
		}
		actual, err := inv.Params.Require("actual")
		if err != nil {
			return false, err
		}
		if Equal(expected, actual) != wantEqual {
			if wantEqual {
				e, eok := expected.(string)
				a, aok := actual.(string)
				if eok && aok && (diff.Multiline(e) || diff.Multiline(a)) {
					sc.Log().Warn("expected and actual differ:\n" + diff.Lines(e, a, 0))
				} else {
					sc.Log().Warn(fmt.Sprintf("expected %v, got %v", expected, actual))
				}
			} else {
				sc.Log().Warn(fmt.Sprintf("expected a value other than %v", expected))
			}
			return false, nil
		}
		return true, nil
	}
}

func assertCondition(_ context.Context, sc Context, inv Invocation) (bool, error) {
	holds, err := evaluateCondition(sc, inv.Params, "condition")
	if err != nil {
		return false, err
	}
	if !holds {
		sc.Log().Warn(fmt.Sprintf("condition %v does not hold", inv.Params["condition"]))
	}
	return holds, nil
}

func assertNotEmpty(_ context.Context, sc Context, inv Invocation) (bool, error) {
	v, ok := inv.Params.Value("value")
	if !ok || v == nil {
		sc.Log().Warn("value is missing")
		return false, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		if strings.TrimSpace(rv.String()) == "" {
			sc.Log().Warn("value is an empty string")
			return false, nil
		}
	case reflect.Map, reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			sc.Log().Warn("value is an empty collection")
			return false, nil
		}
	}
	return true, nil
}

// Equal compares two parameter values. Numbers compare by value whatever
// their Go type; a string compares equal to any value that prints the same.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	_, aString := a.(string)
	_, bString := b.(string)
	if aString || bString {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
