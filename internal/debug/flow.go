package debug

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
)

// ErrUnknownExecution is returned for an operation on an execution id that
// is not paused.
var ErrUnknownExecution = errors.New("execution is not paused")

// Notifier receives pause and release announcements.
type Notifier interface {
	Paused(ExecutionPaused)
	Released(ExecutionReleased)
}

// Checkpoint describes one step boundary reached by a worker.
type Checkpoint struct {
	Worker string
	Unit   string
	File   string
	Line   int
	// Depth is the worker's function-call depth.
	Depth int
	// Condition evaluates a breakpoint condition in the worker's context.
	Condition func(expression string) (bool, error)
}

type pending struct {
	op    Op
	depth int
}

type pausedExecution struct {
	info   ExecutionPaused
	resume chan Op
}

// Flow decides where workers pause and blocks them until a client command
// arrives. One Flow serves every worker of a run.
type Flow struct {
	mu         sync.Mutex
	points     map[string][]Point
	pending    map[string]pending
	paused     map[string]*pausedExecution
	notifier   Notifier
	terminated bool
	logger     *logger.Logger
	newID      func() string
}

// NewFlow creates a flow reporting to notifier, which may be nil.
func NewFlow(notifier Notifier, log *logger.Logger) *Flow {
	return &Flow{
		points:   make(map[string][]Point),
		pending:  make(map[string]pending),
		paused:   make(map[string]*pausedExecution),
		notifier: notifier,
		logger:   log,
		newID:    func() string { return uuid.NewString() },
	}
}

// SetNotifier replaces the notifier.
func (f *Flow) SetNotifier(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifier = n
}

func pointKey(file string, line int) string {
	return fmt.Sprintf("%s:%d", normalizePath(file), line)
}

func normalizePath(file string) string {
	clean := filepath.Clean(file)
	if abs, err := filepath.Abs(clean); err == nil {
		return abs
	}
	return clean
}

// SetPoints replaces the active breakpoint set.
func (f *Flow) SetPoints(points []Point) {
	index := make(map[string][]Point, len(points))
	for _, p := range points {
		key := pointKey(p.File, p.Line)
		index[key] = append(index[key], p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = index
}

// Points returns the active breakpoints.
func (f *Flow) Points() []Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Point
	for _, list := range f.points {
		out = append(out, list...)
	}
	return out
}

// Paused lists the executions currently waiting for a command.
func (f *Flow) Paused() []ExecutionPaused {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ExecutionPaused, 0, len(f.paused))
	for _, p := range f.paused {
		out = append(out, p.info)
	}
	return out
}

// Terminated reports whether TerminateAll has been called.
func (f *Flow) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// Checkpoint is called by a worker at every step boundary. It returns once
// the worker may continue: immediately when nothing matches, otherwise
// after a client command, termination or ctx cancellation.
func (f *Flow) Checkpoint(ctx context.Context, cp Checkpoint) error {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return nil
	}

	stop := false
	if p, ok := f.pending[cp.Worker]; ok {
		switch p.op {
		case OpStepInto:
			stop = true
		case OpStepOver:
			stop = cp.Depth <= p.depth
		case OpStepReturn:
			stop = cp.Depth < p.depth
		}
		if stop {
			delete(f.pending, cp.Worker)
		}
	}
	candidates := f.points[pointKey(cp.File, cp.Line)]
	f.mu.Unlock()

	if !stop {
		stop = f.matches(candidates, cp)
	}
	if !stop {
		return nil
	}
	return f.pause(ctx, cp)
}

func (f *Flow) matches(candidates []Point, cp Checkpoint) bool {
	for _, p := range candidates {
		if p.Condition == "" || cp.Condition == nil {
			return true
		}
		ok, err := cp.Condition(p.Condition)
		if err != nil {
			f.logger.WithFields(map[string]any{"file": p.File, "line": p.Line}).Warn(fmt.Sprintf("breakpoint condition failed: %v", err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (f *Flow) pause(ctx context.Context, cp Checkpoint) error {
	waiting := &pausedExecution{
		info: ExecutionPaused{
			ExecutionID: f.newID(),
			File:        cp.File,
			Line:        cp.Line,
			Worker:      cp.Worker,
			Unit:        cp.Unit,
			Depth:       cp.Depth,
		},
		resume: make(chan Op, 1),
	}

	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return nil
	}
	f.paused[waiting.info.ExecutionID] = waiting
	notifier := f.notifier
	f.mu.Unlock()

	f.logger.WithFields(map[string]any{
		"executionId": waiting.info.ExecutionID,
		"worker":      cp.Worker,
		"location":    fmt.Sprintf("%s:%d", cp.File, cp.Line),
	}).Info("execution paused")
	if notifier != nil {
		notifier.Paused(waiting.info)
	}

	var (
		op  Op
		err error
	)
	select {
	case op = <-waiting.resume:
	case <-ctx.Done():
		op, err = OpTerminated, ctx.Err()
	}

	f.mu.Lock()
	delete(f.paused, waiting.info.ExecutionID)
	switch op {
	case OpStepInto, OpStepOver, OpStepReturn:
		if !f.terminated {
			f.pending[cp.Worker] = pending{op: op, depth: cp.Depth}
		}
	default:
		delete(f.pending, cp.Worker)
	}
	notifier = f.notifier
	f.mu.Unlock()

	if notifier != nil && op != OpTerminated {
		notifier.Released(ExecutionReleased{ExecutionID: waiting.info.ExecutionID})
	}
	return err
}

// Apply delivers a client operation to a paused execution.
func (f *Flow) Apply(msg DebugOp) error {
	if !msg.Op.Valid() {
		return fmt.Errorf("unsupported debug operation %q", msg.Op)
	}

	f.mu.Lock()
	waiting, ok := f.paused[msg.ExecutionID]
	if ok {
		delete(f.paused, msg.ExecutionID)
	}
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, msg.ExecutionID)
	}
	waiting.resume <- msg.Op
	return nil
}

// TerminateAll disables debugging and releases every paused execution.
func (f *Flow) TerminateAll() {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return
	}
	f.terminated = true
	f.points = make(map[string][]Point)
	f.pending = make(map[string]pending)
	paused := f.paused
	f.paused = make(map[string]*pausedExecution)
	f.mu.Unlock()

	for _, waiting := range paused {
		waiting.resume <- OpTerminated
	}
	if len(paused) > 0 {
		f.logger.Warn(fmt.Sprintf("debugger detached; released %d paused execution(s)", len(paused)))
	}
}
