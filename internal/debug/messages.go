// Package debug implements the remote debugging protocol: breakpoint
// matching and pause/resume of workers (Flow), the socket server embedded
// in a run, and the client used by "autoflow debug".
package debug

// Op is a client command applied to a paused execution.
type Op string

const (
	OpResume     Op = "RESUME"
	OpStepInto   Op = "STEP_INTO"
	OpStepOver   Op = "STEP_OVER"
	OpStepReturn Op = "STEP_RETURN"
	// OpTerminated is never sent by clients; it releases every paused
	// execution when the debug connection is lost.
	OpTerminated Op = "TERMINATED"
)

// Valid reports whether a client may send op.
func (op Op) Valid() bool {
	switch op {
	case OpResume, OpStepInto, OpStepOver, OpStepReturn:
		return true
	}
	return false
}

// Point is a breakpoint.
type Point struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

// Message type names carried in the envelope.
const (
	TypeDebuggerInit      = "DebuggerInit"
	TypeDebugOp           = "DebugOp"
	TypeExecutionPaused   = "ExecutionPaused"
	TypeExecutionReleased = "ExecutionReleased"
)

// DebuggerInit replaces the active breakpoint set.
type DebuggerInit struct {
	Points []Point `json:"points"`
}

// DebugOp applies an operation to one paused execution.
type DebugOp struct {
	ExecutionID string `json:"executionId"`
	Op          Op     `json:"op"`
}

// ExecutionPaused announces a worker stopped at a step boundary.
type ExecutionPaused struct {
	ExecutionID string `json:"executionId"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Worker      string `json:"worker,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Depth       int    `json:"depth"`
}

// ExecutionReleased announces a paused execution resumed.
type ExecutionReleased struct {
	ExecutionID string `json:"executionId"`
}
