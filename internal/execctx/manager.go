// Package execctx tracks attribute scopes per worker. Each worker owns one
// ThreadStack, looked up by worker id in a Manager owned by the runtime.
package execctx

import (
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
)

// WorkerID identifies the goroutine executing a branch of the tree.
type WorkerID string

// Manager owns every worker's stack, the live contexts by executor id and the
// global attribute store.
type Manager struct {
	mu       sync.Mutex
	stacks   map[WorkerID]*ThreadStack
	live     map[string]*ExecutionContext
	finished map[string]map[string]any
	global   *Attributes
	sessions SessionSource
	logger   *logger.Logger
}

// NewManager creates a manager. sessions may be nil when no plugin is used.
func NewManager(sessions SessionSource, log *logger.Logger) *Manager {
	return &Manager{
		stacks:   make(map[WorkerID]*ThreadStack),
		live:     make(map[string]*ExecutionContext),
		finished: make(map[string]map[string]any),
		global:   NewAttributes(nil),
		sessions: sessions,
		logger:   log,
	}
}

// Global returns the process-wide attribute store.
func (m *Manager) Global() *Attributes {
	return m.global
}

// Stack returns the worker's stack, creating it on first use.
func (m *Manager) Stack(worker WorkerID) *ThreadStack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stackLocked(worker)
}

func (m *Manager) stackLocked(worker WorkerID) *ThreadStack {
	stack, ok := m.stacks[worker]
	if !ok {
		stack = &ThreadStack{worker: worker, manager: m, sessions: make(map[string]*plugin.Lease)}
		m.stacks[worker] = stack
	}
	return stack
}

// Push creates the context of node on the worker's stack. The parent context
// is the live context of the nearest ancestor, whichever worker pushed it.
func (m *Manager) Push(worker WorkerID, node Node) *ExecutionContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live[node.ID()]; exists {
		panic(fmt.Sprintf("execctx: executor %s is already active", node.ID()))
	}

	var parent *ExecutionContext
	for ancestor := node.ParentNode(); ancestor != nil; ancestor = ancestor.ParentNode() {
		if ctx, ok := m.live[ancestor.ID()]; ok {
			parent = ctx
			break
		}
	}

	var seed map[string]any
	if !node.SharesParentContext() || parent == nil {
		if parent != nil {
			seed = parent.Flatten()
		} else {
			seed = make(map[string]any)
		}
		for _, dep := range node.DependencyNodes() {
			if dep == nil {
				continue
			}
			for k, v := range m.finished[dep.ID()] {
				seed[k] = v
			}
		}
	}

	ctx := newContext(node, parent, seed)
	stack := m.stackLocked(worker)
	stack.contexts = append(stack.contexts, ctx)
	m.live[node.ID()] = ctx
	return ctx
}

// Pop removes node's context from the worker's stack. Popping anything but
// the top context is a programming error and panics. When the stack empties
// its plugin sessions are released and the stack is discarded.
func (m *Manager) Pop(worker WorkerID, node Node) {
	m.mu.Lock()
	stack, ok := m.stacks[worker]
	if !ok || len(stack.contexts) == 0 {
		m.mu.Unlock()
		panic(fmt.Sprintf("execctx: pop of %s on worker %s with an empty stack", node.ID(), worker))
	}
	top := stack.contexts[len(stack.contexts)-1]
	if top.node.ID() != node.ID() {
		m.mu.Unlock()
		panic(fmt.Sprintf("execctx: pop of %s on worker %s but top of stack is %s", node.ID(), worker, top.node.ID()))
	}

	stack.contexts = stack.contexts[:len(stack.contexts)-1]
	delete(m.live, node.ID())
	m.finished[node.ID()] = top.Flatten()

	empty := len(stack.contexts) == 0
	if empty {
		delete(m.stacks, worker)
	}
	m.mu.Unlock()

	if empty {
		if err := stack.releaseSessions(); err != nil {
			m.logger.Error(err, "failed to release plugin sessions")
		}
	}
}

// Context returns the live context of an executor.
func (m *Manager) Context(nodeID string) (*ExecutionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.live[nodeID]
	return ctx, ok
}

// FinalAttributes returns the attributes an executor held when it was popped.
func (m *Manager) FinalAttributes(nodeID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs := m.finished[nodeID]
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// ActiveWorkers lists workers with a non-empty stack.
func (m *Manager) ActiveWorkers() []WorkerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	workers := make([]WorkerID, 0, len(m.stacks))
	for id := range m.stacks {
		workers = append(workers, id)
	}
	return workers
}
