package engine

import (
	"fmt"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
)

// Kind classifies executors. The values appear in skip and roll-up messages.
type Kind string

const (
	KindGroup         Kind = "test-suite-group"
	KindGlobalSetup   Kind = "global-setup"
	KindGlobalCleanup Kind = "global-cleanup"
	KindSuite         Kind = "test-suite"
	KindSetup         Kind = "setup"
	KindCleanup       Kind = "cleanup"
	KindTestCase      Kind = "test-case"
	KindIteration     Kind = "data-iteration"
	KindDataSetup     Kind = "data-setup"
	KindDataCleanup   Kind = "data-cleanup"
	KindFunction      Kind = "function"
)

// Executor is one node of the execution tree. Suites, test cases and their
// setup and cleanup blocks are built up front; data iterations and function
// calls are created while the run executes.
type Executor struct {
	id     string
	Kind   Kind
	Name   string
	parent *Executor
	deps   []*Executor
	shares bool

	Suite    *config.Suite
	TestCase *config.TestCase
	Steps    []config.Step

	Setup    *Executor
	Cleanup  *Executor
	Children []*Executor
}

var _ execctx.Node = (*Executor)(nil)

func newExecutor(kind Kind, name string, parent *Executor, shares bool) *Executor {
	e := &Executor{Kind: kind, Name: name, parent: parent, shares: shares}
	e.id = string(kind) + ":" + e.Path()
	return e
}

// ID identifies the executor within the run.
func (e *Executor) ID() string {
	return e.id
}

// ParentNode returns the enclosing executor.
func (e *Executor) ParentNode() execctx.Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

// Parent returns the enclosing executor or nil for the root.
func (e *Executor) Parent() *Executor {
	return e.parent
}

// DependencyNodes returns the executors whose attributes seed this one.
func (e *Executor) DependencyNodes() []execctx.Node {
	nodes := make([]execctx.Node, 0, len(e.deps))
	for _, dep := range e.deps {
		nodes = append(nodes, dep)
	}
	return nodes
}

// Dependencies returns the executors that must finish successfully first.
func (e *Executor) Dependencies() []*Executor {
	return append([]*Executor(nil), e.deps...)
}

// SharesParentContext reports whether attribute writes land in the parent scope.
func (e *Executor) SharesParentContext() bool {
	return e.shares
}

// Path is the slash separated name of the executor below the root, e.g.
// "checkout/pay/setup". Iterations append their index to the test case.
func (e *Executor) Path() string {
	switch {
	case e.parent == nil || e.parent.Kind == KindGroup:
		return e.Name
	case e.Kind == KindIteration:
		return e.parent.Path() + e.Name
	default:
		return e.parent.Path() + "/" + e.Name
	}
}

func (e *Executor) String() string {
	return fmt.Sprintf("%s '%s'", e.Kind, e.Path())
}

func blockExecutor(kind Kind, parent *Executor, list []config.Step) *Executor {
	if len(list) == 0 {
		return nil
	}
	e := newExecutor(kind, string(kind), parent, true)
	e.Steps = list
	return e
}
