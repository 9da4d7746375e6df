package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/graph"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Filter narrows a run to some suites, test cases or groups. Empty fields
// select everything. Dependencies of selected units are always included.
type Filter struct {
	Suites    []string
	TestCases []string
	Groups    []string
}

func (f Filter) narrowsTestCases() bool {
	return len(f.TestCases) > 0 || len(f.Groups) > 0
}

// Plan is the executor tree of one run.
type Plan struct {
	Name          string
	Root          *Executor
	GlobalSetup   *Executor
	GlobalCleanup *Executor
	// Suites are in dependency order.
	Suites []*Executor
	// RequiredPlugins lists every plugin whose steps the plan uses.
	RequiredPlugins []string

	functions   map[string]config.Function
	suiteGraph  *graph.Graph
	suiteByName map[string]*Executor
}

// Build turns loaded definitions into a plan. Unknown step types, unknown
// functions and unknown filter names are configuration errors.
func Build(bundle *config.Bundle, registry *steps.Registry, filter Filter) (*Plan, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle is nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("step registry is nil")
	}

	project := bundle.Project
	if project == nil {
		project = config.DefaultProject()
	}

	functions := bundle.Functions()
	if err := checkSteps(bundle, registry, functions); err != nil {
		return nil, err
	}

	suites := bundle.Suites()
	selected, err := selectSuites(suites, filter)
	if err != nil {
		return nil, err
	}

	root := newExecutor(KindGroup, project.Name, nil, false)
	plan := &Plan{
		Name:          project.Name,
		Root:          root,
		GlobalSetup:   blockExecutor(KindGlobalSetup, root, bundle.GlobalSetup()),
		GlobalCleanup: blockExecutor(KindGlobalCleanup, root, bundle.GlobalCleanup()),
		functions:     functions,
		suiteGraph:    graph.New(),
		suiteByName:   make(map[string]*Executor),
	}

	for i := range suites {
		suite := &suites[i]
		cases, ok := selected[suite.Name]
		if !ok {
			continue
		}
		plan.suiteGraph.AddNode(suite.Name)
		for _, dep := range suite.DependsOn {
			plan.suiteGraph.AddEdge(suite.Name, dep)
		}
		exec, err := buildSuite(root, suite, cases)
		if err != nil {
			return nil, err
		}
		plan.suiteByName[suite.Name] = exec
	}

	order, err := plan.suiteGraph.Order()
	if err != nil {
		return nil, autoflowerrors.NewValidationError("test-suites", err.Error(), err)
	}
	for _, name := range order {
		exec := plan.suiteByName[name]
		for _, dep := range exec.Suite.DependsOn {
			depExec, ok := plan.suiteByName[dep]
			if !ok {
				return nil, autoflowerrors.NewValidationError("test-suites", fmt.Sprintf("test suite %q references unknown test suite %q", name, dep), nil)
			}
			exec.deps = append(exec.deps, depExec)
		}
		plan.Suites = append(plan.Suites, exec)
	}

	plan.RequiredPlugins = requiredPlugins(bundle, registry)
	return plan, nil
}

// selectSuites returns, per included suite, the names of the test cases to
// run. A nil set means every test case.
func selectSuites(suites []config.Suite, filter Filter) (map[string]map[string]bool, error) {
	byName := make(map[string]*config.Suite, len(suites))
	for i := range suites {
		byName[suites[i].Name] = &suites[i]
	}

	wanted := make(map[string]bool)
	for _, name := range filter.Suites {
		if _, ok := byName[name]; !ok {
			return nil, autoflowerrors.NewValidationError("suites", fmt.Sprintf("unknown test suite %q", name), nil)
		}
		wanted[name] = true
	}

	selected := make(map[string]map[string]bool)
	matchedCases := make(map[string]bool)
	for _, suite := range suites {
		if len(wanted) > 0 && !wanted[suite.Name] {
			continue
		}
		if !filter.narrowsTestCases() {
			selected[suite.Name] = nil
			continue
		}

		cases := make(map[string]bool)
		for _, tc := range suite.TestCases {
			if containsString(filter.TestCases, tc.Name) || tc.HasGroup(filter.Groups...) {
				matchedCases[tc.Name] = true
				includeTestCase(&suite, tc.Name, cases)
			}
		}
		if len(cases) > 0 {
			selected[suite.Name] = cases
		}
	}

	for _, name := range filter.TestCases {
		if !matchedCases[name] {
			return nil, autoflowerrors.NewValidationError("test-cases", fmt.Sprintf("no selected test suite has a test case named %q", name), nil)
		}
	}

	var include func(name string)
	include = func(name string) {
		suite, ok := byName[name]
		if !ok {
			return
		}
		for _, dep := range suite.DependsOn {
			if _, ok := selected[dep]; !ok {
				selected[dep] = nil
			}
			include(dep)
		}
	}
	for name := range selected {
		include(name)
	}
	return selected, nil
}

func includeTestCase(suite *config.Suite, name string, cases map[string]bool) {
	if cases[name] {
		return
	}
	cases[name] = true
	for _, tc := range suite.TestCases {
		if tc.Name != name {
			continue
		}
		for _, dep := range tc.DependsOn {
			includeTestCase(suite, dep, cases)
		}
	}
}

func buildSuite(root *Executor, suite *config.Suite, cases map[string]bool) (*Executor, error) {
	exec := newExecutor(KindSuite, suite.Name, root, false)
	exec.Suite = suite
	exec.Setup = blockExecutor(KindSetup, exec, suite.Setup)
	exec.Cleanup = blockExecutor(KindCleanup, exec, suite.Cleanup)

	g := graph.New()
	byName := make(map[string]*Executor)
	for i := range suite.TestCases {
		tc := &suite.TestCases[i]
		if cases != nil && !cases[tc.Name] {
			continue
		}
		child := newExecutor(KindTestCase, tc.Name, exec, false)
		child.Suite = suite
		child.TestCase = tc
		child.Setup = blockExecutor(KindSetup, child, tc.Setup)
		child.Cleanup = blockExecutor(KindCleanup, child, tc.Cleanup)
		byName[tc.Name] = child
		g.AddNode(tc.Name)
		for _, dep := range tc.DependsOn {
			g.AddEdge(tc.Name, dep)
		}
	}

	order, err := g.Order()
	if err != nil {
		return nil, autoflowerrors.NewValidationError(fmt.Sprintf("test-suites[%s]", suite.Name), err.Error(), err)
	}
	for _, name := range order {
		child, ok := byName[name]
		if !ok {
			return nil, autoflowerrors.NewValidationError(fmt.Sprintf("test-suites[%s]", suite.Name), fmt.Sprintf("references unknown test case %q", name), nil)
		}
		for _, dep := range child.TestCase.DependsOn {
			child.deps = append(child.deps, byName[dep])
		}
		exec.Children = append(exec.Children, child)
	}
	return exec, nil
}

// checkSteps rejects step types the registry does not know and calls to
// functions that do not exist in scope.
func checkSteps(bundle *config.Bundle, registry *steps.Registry, shared map[string]config.Function) error {
	var check func(list []config.Step, scope map[string]bool) error
	check = func(list []config.Step, scope map[string]bool) error {
		for _, step := range list {
			if _, ok := registry.Lookup(step.Type); !ok {
				return autoflowerrors.NewValidationError(step.Location.String(), fmt.Sprintf("unknown step type %q", step.Type), nil)
			}
			if step.Type == "call" {
				if name, ok := step.Params["function"].(string); ok && isLiteral(name) && !scope[name] {
					return autoflowerrors.NewValidationError(step.Location.String(), fmt.Sprintf("call of unknown function %q", name), nil)
				}
			}
			if err := check(step.Steps, scope); err != nil {
				return err
			}
		}
		return nil
	}

	fileScope := make(map[string]bool, len(shared))
	for name := range shared {
		fileScope[name] = true
	}

	for _, list := range [][]config.Step{bundle.GlobalSetup(), bundle.GlobalCleanup()} {
		if err := check(list, fileScope); err != nil {
			return err
		}
	}
	for _, fn := range shared {
		if err := check(fn.Steps, fileScope); err != nil {
			return err
		}
	}

	for _, suite := range bundle.Suites() {
		scope := make(map[string]bool, len(fileScope)+len(suite.Functions))
		for name := range fileScope {
			scope[name] = true
		}
		for _, fn := range suite.Functions {
			scope[fn.Name] = true
		}

		lists := [][]config.Step{suite.Setup, suite.Cleanup}
		for _, fn := range suite.Functions {
			lists = append(lists, fn.Steps)
		}
		for _, tc := range suite.TestCases {
			lists = append(lists, tc.Setup, tc.Cleanup, tc.DataSetup, tc.DataCleanup, tc.Steps, tc.Validations)
		}
		for _, list := range lists {
			if err := check(list, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

func isLiteral(s string) bool {
	return !strings.Contains(s, "{{") && !strings.HasPrefix(s, "expr:")
}

func requiredPlugins(bundle *config.Bundle, registry *steps.Registry) []string {
	seen := make(map[string]bool)
	var visit func(list []config.Step)
	visit = func(list []config.Step) {
		for _, step := range list {
			if def, ok := registry.Lookup(step.Type); ok && def.Plugin != "" {
				seen[def.Plugin] = true
			}
			visit(step.Steps)
		}
	}

	visit(bundle.GlobalSetup())
	visit(bundle.GlobalCleanup())
	for _, fn := range bundle.Functions() {
		visit(fn.Steps)
	}
	for _, suite := range bundle.Suites() {
		visit(suite.Setup)
		visit(suite.Cleanup)
		for _, fn := range suite.Functions {
			visit(fn.Steps)
		}
		for _, tc := range suite.TestCases {
			for _, list := range [][]config.Step{tc.Setup, tc.Cleanup, tc.DataSetup, tc.DataCleanup, tc.Steps, tc.Validations} {
				visit(list)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// function resolves a function name: suite definitions win over shared ones.
func (p *Plan) function(suite *config.Suite, name string) (config.Function, bool) {
	if suite != nil {
		for _, fn := range suite.Functions {
			if fn.Name == name {
				return fn, true
			}
		}
	}
	fn, ok := p.functions[name]
	return fn, ok
}

// Suite returns the executor of the named suite.
func (p *Plan) Suite(name string) *Executor {
	return p.suiteByName[name]
}

// Levels groups suite names into waves; every suite of a wave only depends
// on suites of earlier waves.
func (p *Plan) Levels() [][]string {
	levels, err := p.suiteGraph.Levels()
	if err != nil {
		return nil
	}
	return levels
}

// String renders a human readable summary of the plan.
func (p *Plan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	for i, level := range p.Levels() {
		fmt.Fprintf(&b, "Level %d (%d suites): %s\n", i, len(level), strings.Join(level, ", "))
	}
	return b.String()
}
