package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/debug"
	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/model"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (rec *recorder) Events() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.events...)
}

func newRegistry(t *testing.T, rec *recorder) *steps.Registry {
	t.Helper()
	reg := steps.NewBuiltinRegistry()
	record := steps.StepFunc(func(_ context.Context, _ steps.Context, inv steps.Invocation) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, inv.Params.String("event", ""))
		return nil
	})
	require.NoError(t, reg.RegisterStep("record", "", "append an event", record))
	return reg
}

func loadBundle(t *testing.T, doc string) *config.Bundle {
	t.Helper()
	file, err := config.ParseSuiteData("suite.yaml", []byte(doc))
	require.NoError(t, err)
	return &config.Bundle{Project: config.DefaultProject(), Files: []*config.SuiteFile{file}}
}

func runBundle(t *testing.T, bundle *config.Bundle, reg *steps.Registry, opts Options) *model.FinalReport {
	t.Helper()
	plan, err := Build(bundle, reg, Filter{})
	require.NoError(t, err)
	if opts.Parallel == 0 {
		opts.Parallel = 4
	}
	final, err := New(plan, reg, nil, opts, logger.Nop()).Run(context.Background())
	require.NoError(t, err)
	return final
}

func TestSetupBodyAndCleanupRunOnceInOrder(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: checkout
    setup:
      - type: set
        name: flag
        value: true
      - type: record
        event: setup
    cleanup:
      - type: record
        event: cleanup
    test-cases:
      - name: tc1
        steps:
          - type: record
            event: tc1
        validations:
          - type: assert-equals
            expected: true
            actual: "expr: flag"
          - type: assert-condition
            condition: flag == true
`
	rec := &recorder{}
	final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{})

	require.Equal(t, []string{"setup", "tc1", "cleanup"}, rec.Events())
	require.Equal(t, 1, final.TestCaseSuccessCount)
	require.True(t, final.Passed())

	suite := final.Suite("checkout")
	require.NotNil(t, suite)
	require.Equal(t, model.StatusSuccessful, suite.Status)
	require.Equal(t, model.StatusSuccessful, suite.Setup.Status)
	require.Equal(t, model.StatusSuccessful, suite.Cleanup.Status)
	require.Equal(t, model.StatusSuccessful, suite.TestCase("tc1").Status)
}

func TestFailedDependencySkipsTestCase(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: orders
    test-cases:
      - name: verify
        depends-on: [create]
        steps:
          - type: record
            event: verify
      - name: create
        steps:
          - type: fail
            message: backend down
`
	rec := &recorder{}
	final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{})

	suite := final.Suite("orders")
	require.Equal(t, "create", suite.TestCases[0].Name)

	create := suite.TestCase("create")
	require.Equal(t, model.StatusFailed, create.Status)
	require.Contains(t, create.Message, "backend down")

	verify := suite.TestCase("verify")
	require.Equal(t, model.StatusSkipped, verify.Status)
	require.Equal(t, "Skipped as required dependency test-case 'create' is found with status: FAILED", verify.Message)
	require.Empty(t, rec.Events())

	require.Equal(t, model.StatusFailed, suite.Status)
	require.Equal(t, "One or more test-case(s) Failed / Skipped", suite.Message)
}

func TestSuiteDependenciesGateAndSeedAttributes(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: login
    setup:
      - type: set
        name: token
        value: abc
    test-cases:
      - name: ok
        steps:
          - type: log
            message: logged in
  - name: profile
    depends-on: [login]
    test-cases:
      - name: read-token
        validations:
          - type: assert-equals
            expected: abc
            actual: "{{ .token }}"
  - name: broken
    test-cases:
      - name: boom
        steps:
          - type: throw
            error: IOError
            message: disk full
  - name: after-broken
    depends-on: [broken]
    test-cases:
      - name: never
        steps:
          - type: record
            event: never
`
	rec := &recorder{}
	final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{Parallel: 2})

	require.Equal(t, model.StatusSuccessful, final.Suite("profile").Status)
	require.Equal(t, model.StatusErrored, final.Suite("broken").Status)

	skipped := final.Suite("after-broken")
	require.Equal(t, model.StatusSkipped, skipped.Status)
	require.Equal(t, "Skipped as required dependency test-suite 'broken' is found with status: ERRORED", skipped.Message)
	require.Equal(t, model.StatusSkipped, skipped.TestCase("never").Status)
	require.Empty(t, rec.Events())

	require.Equal(t, 4, final.TestSuiteCount)
	require.Equal(t, 1, final.TestSuiteSkippedCount)
	require.Equal(t, 1, final.TestCaseErroredCount)
}

func TestExpectedExceptionMatching(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: errors
    test-cases:
      - name: tc
        expected-exception:
%s
        steps:
          - type: %s
            error: IOError
            message: boom
          - type: record
            event: after
`
	cases := []struct {
		name     string
		expected string
		step     string
		status   model.Status
		message  string
	}{
		{name: "type and message substring", expected: "          type: IOError\n          message: boo", step: "throw", status: model.StatusSuccessful},
		{name: "condition on error", expected: "          type: IOError\n          condition: error.message == \"boom\"", step: "throw", status: model.StatusSuccessful},
		{name: "wrong type", expected: "          type: TimeoutError", step: "throw", status: model.StatusErrored, message: "boom"},
		{name: "wrong message", expected: "          type: IOError\n          message: bang", step: "throw", status: model.StatusErrored},
		{name: "no exception raised", expected: "          type: IOError", step: "log", status: model.StatusErrored, message: "Expected exception IOError did not occur"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{}
			final := runBundle(t, loadBundle(t, fmt.Sprintf(doc, tc.expected, tc.step)), newRegistry(t, rec), Options{})

			result := final.Suite("errors").TestCase("tc")
			require.Equal(t, tc.status, result.Status, result.Message)
			if tc.message != "" {
				require.Contains(t, result.Message, tc.message)
			}
			if tc.step == "throw" {
				require.Empty(t, rec.Events())
			}
		})
	}
}

func TestDataProviderIteratesSequentially(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: data
    test-cases:
      - name: numbers
        data-provider:
          name: n
          range: {from: 1, to: 3}
        data-setup:
          - type: record
            event: "setup {{ .n }}"
        steps:
          - type: record
            event: "step {{ .n }}"
        validations:
          - type: assert-condition
            condition: n != 2
      - name: empty
        data-provider:
          range: {from: 5, to: 1}
        steps:
          - type: log
            message: never
`
	rec := &recorder{}
	final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{})

	require.Equal(t, []string{"setup 1", "step 1", "setup 2", "step 2", "setup 3", "step 3"}, rec.Events())

	numbers := final.Suite("data").TestCase("numbers")
	require.Equal(t, model.StatusFailed, numbers.Status)
	require.Equal(t, "One or more data-iteration(s) Failed", numbers.Message)
	require.Len(t, numbers.Iterations, 3)
	require.Equal(t, "numbers[2]", numbers.Iterations[1].Name)
	require.Equal(t, model.StatusFailed, numbers.Iterations[1].Status)
	require.Equal(t, model.StatusSuccessful, numbers.Iterations[2].Status)
	require.Equal(t, model.StatusSuccessful, numbers.Iterations[0].Setup.Status)

	empty := final.Suite("data").TestCase("empty")
	require.Equal(t, model.StatusErrored, empty.Status)
	require.Equal(t, "No data provided by data provider", empty.Message)
}

const functionsDoc = `
functions:
  - name: greet
    parameters: [who]
    defaults:
      greeting: hello
    steps:
      - type: record
        event: "{{ .param.greeting }} {{ .param.who }}"
  - name: shadowed
    steps:
      - type: record
        event: file-level
test-suites:
  - name: fn
    functions:
      - name: shadowed
        steps:
          - type: record
            event: suite-level
          - type: set
            name: fromFunction
            value: done
    test-cases:
      - name: calls
        steps:
          - type: call
            function: greet
            args:
              who: alice
          - type: call
            function: greet
            args:
              who: bob
              greeting: hi
          - type: call
            function: shadowed
        validations:
          - type: assert-equals
            expected: done
            actual: "{{ .fromFunction }}"
`

func TestFunctionCallsBindParametersWithoutTouchingDefinitions(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	bundle := loadBundle(t, functionsDoc)
	final := runBundle(t, bundle, newRegistry(t, rec), Options{})

	require.Equal(t, model.StatusSuccessful, final.Suite("fn").TestCase("calls").Status)
	require.Equal(t, []string{"hello alice", "hi bob", "suite-level"}, rec.Events())
	require.Equal(t, "{{ .param.greeting }} {{ .param.who }}", bundle.Files[0].Functions[0].Steps[0].Params["event"])
}

func TestBindParameters(t *testing.T) {
	t.Parallel()

	fn := config.Function{Name: "greet", Parameters: []string{"who"}, Defaults: map[string]any{"greeting": "hello"}}

	params, err := bindParameters(fn, map[string]any{"who": "alice"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"who": "alice", "greeting": "hello"}, params)

	_, err = bindParameters(fn, map[string]any{"who": "alice", "extra": 1})
	require.ErrorContains(t, err, `no parameter "extra"`)

	_, err = bindParameters(fn, nil)
	require.ErrorContains(t, err, `requires parameter "who"`)
}

type recordingDebugger struct {
	mu     sync.Mutex
	points []debug.Checkpoint
}

func (d *recordingDebugger) Checkpoint(_ context.Context, cp debug.Checkpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.points = append(d.points, cp)
	return nil
}

func TestCheckpointsCarryCallDepth(t *testing.T) {
	t.Parallel()

	const doc = `functions:
  - name: inner
    steps:
      - type: log
        message: inside
test-suites:
  - name: dbg
    test-cases:
      - name: tc
        steps:
          - type: log
            message: before
          - type: call
            function: inner
          - type: log
            message: after
`
	dbg := &recordingDebugger{}
	runBundle(t, loadBundle(t, doc), newRegistry(t, &recorder{}), Options{Debugger: dbg})

	require.Len(t, dbg.points, 4)
	depths := make([]int, 0, len(dbg.points))
	for _, cp := range dbg.points {
		depths = append(depths, cp.Depth)
	}
	require.Equal(t, []int{0, 0, 1, 0}, depths)
	require.Equal(t, 4, dbg.points[2].Line)
	require.Equal(t, "suite.yaml", dbg.points[2].File)
	require.Equal(t, "dbg/tc", dbg.points[2].Unit)
	require.Equal(t, "suite:dbg", dbg.points[0].Worker)
}

func TestSetupAndCleanupFailures(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: bad-setup
    setup:
      - type: throw
        error: SetupError
        message: no database
    cleanup:
      - type: record
        event: suite-cleanup
    test-cases:
      - name: a
        steps:
          - type: record
            event: a
  - name: bad-cleanup
    test-cases:
      - name: b
        cleanup:
          - type: throw
            error: CleanupError
            message: locked
        steps:
          - type: record
            event: b
`
	rec := &recorder{}
	final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{})
	require.Equal(t, []string{"b"}, rec.Events())

	badSetup := final.Suite("bad-setup")
	require.Equal(t, model.StatusErrored, badSetup.Status)
	require.Contains(t, badSetup.Message, "Setup failed with error: ")
	require.Contains(t, badSetup.Message, "no database")
	require.Nil(t, badSetup.Cleanup)
	a := badSetup.TestCase("a")
	require.Equal(t, model.StatusSkipped, a.Status)
	require.Equal(t, "Skipped as required dependency setup 'bad-setup' is found with status: ERRORED", a.Message)

	b := final.Suite("bad-cleanup").TestCase("b")
	require.Equal(t, model.StatusErrored, b.Status)
	require.Contains(t, b.Message, "Cleanup failed with error: ")
	require.Equal(t, model.StatusErrored, b.Cleanup.Status)
}

func TestPanickingStepErrorsOnlyItsTestCase(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: s
    test-cases:
      - name: bad
        steps:
          - type: explode
      - name: checked
        steps:
          - type: record
            event: checked
        validations:
          - type: explode-check
      - name: good
        steps:
          - type: record
            event: good
`
	rec := &recorder{}
	reg := newRegistry(t, rec)
	require.NoError(t, reg.RegisterStep("explode", "", "write into a nil map", steps.StepFunc(func(context.Context, steps.Context, steps.Invocation) error {
		var counts map[string]int
		counts["boom"]++
		return nil
	})))
	require.NoError(t, reg.RegisterValidation("explode-check", "", "index past the end", steps.ValidationFunc(func(context.Context, steps.Context, steps.Invocation) (bool, error) {
		var items []string
		return items[1] == "", nil
	})))

	final := runBundle(t, loadBundle(t, doc), reg, Options{})
	require.Equal(t, []string{"checked", "good"}, rec.Events())

	suite := final.Suite("s")
	bad := suite.TestCase("bad")
	require.Equal(t, model.StatusErrored, bad.Status)
	require.Contains(t, bad.Message, `step "explode" panicked: assignment to entry in nil map`)

	checked := suite.TestCase("checked")
	require.Equal(t, model.StatusErrored, checked.Status)
	require.Contains(t, checked.Message, `validation "explode-check" panicked`)

	require.Equal(t, model.StatusSuccessful, suite.TestCase("good").Status)
}

func TestStepErrorLeadsWithCause(t *testing.T) {
	t.Parallel()

	loc := config.Location{File: "/var/lib/ci/workspace/project/suites/inventory/restock.yaml", Line: 12}

	failed := &StepError{Type: "fail", Kind: steps.KindStep, Location: loc, Err: &steps.AssertionError{Message: "supplier offline"}}
	require.Equal(t, "supplier offline (Step fail failed at "+loc.String()+")", failed.Error())

	errored := &StepError{Type: "file-exists", Kind: steps.KindValidation, Location: loc, Err: fmt.Errorf("permission denied")}
	require.Equal(t, "permission denied (Validation file-exists errored at "+loc.String()+")", errored.Error())
}

func TestGlobalSetupSharesAttributesAndGatesSuites(t *testing.T) {
	t.Parallel()

	t.Run("attributes reach every suite", func(t *testing.T) {
		t.Parallel()

		const doc = `
global-setup:
  - type: set
    name: env
    value: staging
test-suites:
  - name: writer
    test-cases:
      - name: publish
        steps:
          - type: set
            name: build
            value: 42
            scope: global
  - name: reader
    depends-on: [writer]
    test-cases:
      - name: read
        validations:
          - type: assert-equals
            expected: staging
            actual: "{{ .env }}"
          - type: assert-equals
            expected: 42
            actual: "expr: global.build"
`
		final := runBundle(t, loadBundle(t, doc), newRegistry(t, &recorder{}), Options{})
		require.True(t, final.Passed(), final.Suite("reader").TestCase("read").Message)
		require.Equal(t, model.StatusSuccessful, final.GlobalSetup.Status)
		require.Nil(t, final.GlobalCleanup)
	})

	t.Run("failure skips everything", func(t *testing.T) {
		t.Parallel()

		const doc = `
global-setup:
  - type: fail
    message: environment not ready
global-cleanup:
  - type: record
    event: global-cleanup
test-suites:
  - name: s
    test-cases:
      - name: t
        steps:
          - type: record
            event: t
`
		rec := &recorder{}
		final := runBundle(t, loadBundle(t, doc), newRegistry(t, rec), Options{})
		require.Empty(t, rec.Events())
		require.Equal(t, model.StatusErrored, final.GlobalSetup.Status)
		require.Nil(t, final.GlobalCleanup)
		require.Equal(t, model.StatusSkipped, final.Suite("s").Status)
		require.Equal(t, "Skipped as required dependency global-setup 'global-setup' is found with status: ERRORED", final.Suite("s").Message)
		require.Equal(t, 1, final.TestCaseSkippedCount)
	})
}

type cameraSession struct{}

func (*cameraSession) Close() error { return nil }

type cameraPlugin struct {
	plugin.Base
	mu      sync.Mutex
	handled []plugin.ErrorDetails
}

func (p *cameraPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: "camera", Version: "1.0.0", APIVersion: "1.x"}
}

func (p *cameraPlugin) NewSession(context.Context) (plugin.Session, error) {
	return &cameraSession{}, nil
}

func (p *cameraPlugin) HandleError(_ context.Context, details plugin.ErrorDetails) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handled = append(p.handled, details)
}

func (p *cameraPlugin) RegisterSteps(r *steps.Registry) error {
	return r.RegisterStep("camera-touch", "camera", "lease a camera session", steps.StepFunc(func(ctx context.Context, sc steps.Context, _ steps.Invocation) error {
		_, err := sc.Session(ctx, "camera")
		return err
	}))
}

func TestPluginErrorHandlerSeesHeldSession(t *testing.T) {
	t.Parallel()

	const doc = `
test-suites:
  - name: p
    test-cases:
      - name: tc
        steps:
          - type: camera-touch
          - type: fail
            message: screenshot please
`
	camera := &cameraPlugin{}
	plugins := plugin.NewRegistry(logger.Nop())
	require.NoError(t, plugins.Register(camera))
	reg := steps.NewBuiltinRegistry()
	require.NoError(t, camera.RegisterSteps(reg))

	plan, err := Build(loadBundle(t, doc), reg, Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"camera"}, plan.RequiredPlugins)

	cfg := plugin.DefaultConfig()
	cfg.DependencyPolicy = plugin.PolicyStrict
	final, err := New(plan, reg, plugins, Options{Plugins: cfg}, logger.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, final.Suite("p").TestCase("tc").Status)

	require.Len(t, camera.handled, 1)
	details := camera.handled[0]
	require.Equal(t, "p/tc", details.Unit)
	require.Equal(t, "fail", details.StepType)
	require.True(t, details.Failed)
	require.NotNil(t, details.Session)
	require.NotNil(t, details.Log)
}

func TestBuildRejectsUnknownReferences(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, &recorder{})

	_, err := Build(loadBundle(t, `
test-suites:
  - name: s
    test-cases:
      - name: t
        steps:
          - type: click
`), reg, Filter{})
	var verr *autoflowerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, err.Error(), `unknown step type "click"`)

	_, err = Build(loadBundle(t, `
test-suites:
  - name: s
    test-cases:
      - name: t
        steps:
          - type: call
            function: missing
`), reg, Filter{})
	require.ErrorContains(t, err, `unknown function "missing"`)

	_, err = Build(loadBundle(t, functionsDoc), reg, Filter{Suites: []string{"nope"}})
	require.ErrorContains(t, err, `unknown test suite "nope"`)

	_, err = Build(loadBundle(t, functionsDoc), reg, Filter{TestCases: []string{"nope"}})
	require.ErrorContains(t, err, `test case named "nope"`)
}

const filterDoc = `
test-suites:
  - name: base
    test-cases:
      - name: seed
  - name: shop
    depends-on: [base]
    test-cases:
      - name: create
      - name: verify
        depends-on: [create]
      - name: browse
        groups: [smoke]
  - name: other
    test-cases:
      - name: unrelated
`

func TestBuildFiltersPullInDependencies(t *testing.T) {
	t.Parallel()

	reg := steps.NewBuiltinRegistry()
	names := func(plan *Plan) map[string][]string {
		out := make(map[string][]string)
		for _, suite := range plan.Suites {
			cases := []string{}
			for _, child := range suite.Children {
				cases = append(cases, child.Name)
			}
			out[suite.Name] = cases
		}
		return out
	}

	plan, err := Build(loadBundle(t, filterDoc), reg, Filter{TestCases: []string{"verify"}})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"base": {"seed"}, "shop": {"create", "verify"}}, names(plan))
	require.Equal(t, "base", plan.Suites[0].Name)
	require.Equal(t, [][]string{{"base"}, {"shop"}}, plan.Levels())

	plan, err = Build(loadBundle(t, filterDoc), reg, Filter{Groups: []string{"smoke"}})
	require.NoError(t, err)
	require.Equal(t, []string{"browse"}, names(plan)["shop"])

	plan, err = Build(loadBundle(t, filterDoc), reg, Filter{Suites: []string{"other"}})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"other": {"unrelated"}}, names(plan))
	require.Contains(t, plan.String(), "Level 0 (1 suites): other")
}

func TestExecutorPathsAndIDs(t *testing.T) {
	t.Parallel()

	plan, err := Build(loadBundle(t, filterDoc), steps.NewBuiltinRegistry(), Filter{})
	require.NoError(t, err)

	shop := plan.Suite("shop")
	require.Nil(t, plan.Root.ParentNode())
	require.Equal(t, "test-suite:shop", shop.ID())
	require.Equal(t, "shop/verify", shop.Children[1].Path())
	require.Equal(t, "create", shop.Children[1].Dependencies()[0].Name)
	require.Len(t, shop.DependencyNodes(), 1)

	iteration := newExecutor(KindIteration, "[2]", shop.Children[1], false)
	require.Equal(t, "shop/verify[2]", iteration.Path())
	require.True(t, blockExecutor(KindSetup, shop, []config.Step{{Type: "log"}}).SharesParentContext())
	require.Nil(t, blockExecutor(KindSetup, shop, nil))
}
