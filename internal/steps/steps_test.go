package steps

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/expr"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
)

type recordingLog struct {
	lines []string
}

func (l *recordingLog) Info(m string)  { l.lines = append(l.lines, "INFO "+m) }
func (l *recordingLog) Warn(m string)  { l.lines = append(l.lines, "WARN "+m) }
func (l *recordingLog) Error(m string) { l.lines = append(l.lines, "ERROR "+m) }

type fakeContext struct {
	attrs  map[string]any
	global map[string]any
	props  map[string]any
	log    *recordingLog
	calls  []string
	ran    int
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		attrs:  map[string]any{},
		global: map[string]any{},
		props:  map[string]any{"base": "http://localhost"},
		log:    &recordingLog{},
	}
}

func (c *fakeContext) Attribute(k string) (any, bool) {
	v, ok := c.attrs[k]
	return v, ok
}

func (c *fakeContext) SetAttribute(k string, v any) { c.attrs[k] = v }

func (c *fakeContext) RemoveAttribute(k string) bool {
	_, ok := c.attrs[k]
	delete(c.attrs, k)
	return ok
}

func (c *fakeContext) SetGlobal(k string, v any) { c.global[k] = v }

func (c *fakeContext) Property(k string) (any, bool) {
	v, ok := c.props[k]
	return v, ok
}

func (c *fakeContext) Parameter(string) (any, error) { return nil, errors.New("no function") }

func (c *fakeContext) Log() Log { return c.log }

func (c *fakeContext) Session(context.Context, string) (plugin.Session, error) {
	return nil, errors.New("no sessions")
}

func (c *fakeContext) CallFunction(_ context.Context, name string, args map[string]any) error {
	c.calls = append(c.calls, fmt.Sprintf("%s%v", name, args))
	return nil
}

func (c *fakeContext) RunSteps(_ context.Context, steps []config.Step) error {
	c.ran += len(steps)
	return nil
}

func (c *fakeContext) Condition(source string) (bool, error) {
	return expr.Condition(source, expr.Env{Attributes: c.attrs})
}

func run(t *testing.T, r *Registry, sc Context, typ string, params Params) error {
	t.Helper()
	def, ok := r.Lookup(typ)
	require.True(t, ok, typ)
	require.Equal(t, KindStep, def.Kind)
	return def.Step.Execute(context.Background(), sc, Invocation{Type: typ, Params: params})
}

func check(t *testing.T, r *Registry, sc Context, typ string, params Params) (bool, error) {
	t.Helper()
	def, ok := r.Lookup(typ)
	require.True(t, ok, typ)
	require.Equal(t, KindValidation, def.Kind)
	return def.Validation.Validate(context.Background(), sc, Invocation{Type: typ, Params: params})
}

func TestBuiltinSteps(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	sc := newFakeContext()

	require.NoError(t, run(t, r, sc, "set", Params{"name": "flag", "value": true}))
	require.Equal(t, true, sc.attrs["flag"])

	require.NoError(t, run(t, r, sc, "set", Params{"name": "stage", "value": "ci", "scope": "global"}))
	require.Equal(t, "ci", sc.global["stage"])
	require.Error(t, run(t, r, sc, "set", Params{"name": "x", "scope": "suite"}))
	require.Error(t, run(t, r, sc, "set", Params{"value": 1}))

	require.NoError(t, run(t, r, sc, "remove", Params{"name": "flag"}))
	require.NotContains(t, sc.attrs, "flag")
	require.NoError(t, run(t, r, sc, "remove", Params{"name": "flag"}))
	require.Contains(t, sc.log.lines[len(sc.log.lines)-1], "was not set")

	require.NoError(t, run(t, r, sc, "log", Params{"message": "hello", "level": "warn"}))
	require.Contains(t, sc.log.lines, "WARN hello")

	require.NoError(t, run(t, r, sc, "property", Params{"name": "base", "attribute": "url"}))
	require.Equal(t, "http://localhost", sc.attrs["url"])
	require.Error(t, run(t, r, sc, "property", Params{"name": "missing"}))
	require.NoError(t, run(t, r, sc, "property", Params{"name": "missing", "default": 1}))
	require.Equal(t, 1, sc.attrs["missing"])

	require.NoError(t, run(t, r, sc, "call", Params{"function": "login", "args": map[string]any{"user": "a"}}))
	require.Equal(t, []string{"loginmap[user:a]"}, sc.calls)

	start := time.Now()
	require.NoError(t, run(t, r, sc, "sleep", Params{"duration": "20ms"}))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestThrowAndFailCarryTypes(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	sc := newFakeContext()

	err := run(t, r, sc, "throw", Params{"error": "PaymentError", "message": "card declined"})
	require.EqualError(t, err, "card declined")
	require.Equal(t, "PaymentError", ErrorType(err))
	require.Equal(t, "PaymentError", ErrorType(fmt.Errorf("step failed: %w", err)))

	err = run(t, r, sc, "fail", Params{"message": "nope"})
	require.True(t, IsAssertion(err))
	require.Equal(t, "AssertionError", ErrorType(err))

	require.Equal(t, "errorString", ErrorType(errors.New("plain")))
	require.Equal(t, "deadlineExceededError", ErrorType(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
}

func TestRunStepsIf(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	sc := newFakeContext()
	sc.attrs["flag"] = true
	def, _ := r.Lookup("run-steps-if")
	nested := []config.Step{{Type: "log"}, {Type: "log"}}

	require.NoError(t, def.Step.Execute(context.Background(), sc, Invocation{Params: Params{"condition": "flag"}, Steps: nested}))
	require.Equal(t, 2, sc.ran)

	require.NoError(t, def.Step.Execute(context.Background(), sc, Invocation{Params: Params{"condition": false}, Steps: nested}))
	require.Equal(t, 2, sc.ran)

	require.Error(t, def.Step.Execute(context.Background(), sc, Invocation{Params: Params{}, Steps: nested}))
}

func TestBuiltinValidations(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	sc := newFakeContext()
	sc.attrs["count"] = 3

	cases := []struct {
		typ    string
		params Params
		want   bool
	}{
		{"assert-true", Params{"value": "true"}, true},
		{"assert-true", Params{"value": 0}, false},
		{"assert-false", Params{"value": false}, true},
		{"assert-equals", Params{"expected": 3, "actual": 3.0}, true},
		{"assert-equals", Params{"expected": "3", "actual": 3}, true},
		{"assert-equals", Params{"expected": []any{1}, "actual": []any{1}}, true},
		{"assert-equals", Params{"expected": "a", "actual": "b"}, false},
		{"assert-not-equals", Params{"expected": "a", "actual": "b"}, true},
		{"assert-condition", Params{"condition": "count > 2"}, true},
		{"assert-condition", Params{"condition": "count > 5"}, false},
		{"assert-not-empty", Params{"value": "x"}, true},
		{"assert-not-empty", Params{"value": "  "}, false},
		{"assert-not-empty", Params{"value": map[string]any{}}, false},
		{"assert-not-empty", Params{}, false},
	}

	for _, tc := range cases {
		got, err := check(t, r, sc, tc.typ, tc.params)
		require.NoError(t, err, "%s %v", tc.typ, tc.params)
		require.Equal(t, tc.want, got, "%s %v", tc.typ, tc.params)
	}

	_, err := check(t, r, sc, "assert-equals", Params{"expected": 1})
	require.Error(t, err)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	require.Error(t, r.RegisterStep("set", "", "", StepFunc(setStep)))
	require.Error(t, r.RegisterValidation("x", "", "", nil))
	require.NoError(t, r.RegisterStep("shell", "command", "run a shell command", StepFunc(setStep)))

	def, ok := r.Lookup("shell")
	require.True(t, ok)
	require.Equal(t, "command", def.Plugin)

	defs := r.Definitions()
	require.Equal(t, "assert-condition", defs[0].Type)
}

func TestAssertEqualsLogsLineDiffForMultilineText(t *testing.T) {
	t.Parallel()

	r := NewBuiltinRegistry()
	sc := newFakeContext()

	ok, err := check(t, r, sc, "assert-equals", Params{"expected": "id\nname\nprice", "actual": "id\nname\ncost"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, sc.log.lines, 1)
	require.Contains(t, sc.log.lines[0], "-price\n+cost")

	ok, err = check(t, r, sc, "assert-equals", Params{"expected": "a", "actual": "b"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "WARN expected a, got b", sc.log.lines[1])
}
