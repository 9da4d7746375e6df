package model

import (
	"time"
)

// ExecutionDetails describes one run of a setup, cleanup or main body.
type ExecutionDetails struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LogFile   string    `json:"logFile,omitempty"`
	StartedOn time.Time `json:"startedOn"`
	EndedOn   time.Time `json:"endedOn"`
}

// Duration reports how long the execution took.
func (d ExecutionDetails) Duration() time.Duration {
	if d.EndedOn.Before(d.StartedOn) {
		return 0
	}
	return d.EndedOn.Sub(d.StartedOn)
}

// TestCaseResult is the immutable outcome of one test case or data iteration.
type TestCaseResult struct {
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	Message    string            `json:"message,omitempty"`
	LogFile    string            `json:"logFile,omitempty"`
	StartedOn  time.Time         `json:"startedOn"`
	EndedOn    time.Time         `json:"endedOn"`
	Setup      *ExecutionDetails `json:"setup,omitempty"`
	Cleanup    *ExecutionDetails `json:"cleanup,omitempty"`
	Iterations []TestCaseResult  `json:"iterations,omitempty"`
}

// TestSuiteResult aggregates the test cases of one suite.
type TestSuiteResult struct {
	Name         string            `json:"name"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Setup        *ExecutionDetails `json:"setup,omitempty"`
	Cleanup      *ExecutionDetails `json:"cleanup,omitempty"`
	TotalCount   int               `json:"totalCount"`
	SuccessCount int               `json:"successCount"`
	FailureCount int               `json:"failureCount"`
	ErrorCount   int               `json:"errorCount"`
	SkipCount    int               `json:"skipCount"`
	TestCases    []TestCaseResult  `json:"testCaseResults"`
}

// Add appends a test case result and updates the counters.
func (r *TestSuiteResult) Add(tc TestCaseResult) {
	r.TestCases = append(r.TestCases, tc)
	r.TotalCount++
	switch tc.Status {
	case StatusErrored:
		r.ErrorCount++
	case StatusFailed:
		r.FailureCount++
	case StatusSkipped:
		r.SkipCount++
	default:
		r.SuccessCount++
	}
}

// TestCase returns the named result or nil.
func (r *TestSuiteResult) TestCase(name string) *TestCaseResult {
	for i := range r.TestCases {
		if r.TestCases[i].Name == name {
			return &r.TestCases[i]
		}
	}
	return nil
}
