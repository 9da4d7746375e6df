package model

import (
	"time"
)

// FinalReport is the single JSON document written at the end of a run.
type FinalReport struct {
	ReportName    string    `json:"reportName"`
	ExecutionDate time.Time `json:"executionDate"`

	TestSuiteCount        int `json:"testSuiteCount"`
	TestSuiteSuccessCount int `json:"testSuiteSuccessCount"`
	TestSuiteFailureCount int `json:"testSuiteFailureCount"`
	TestSuiteErrorCount   int `json:"testSuiteErrorCount"`
	TestSuiteSkippedCount int `json:"testSuiteSkippedCount"`

	TestCaseCount        int `json:"testCaseCount"`
	TestCaseSuccessCount int `json:"testCaseSuccessCount"`
	TestCaseFailureCount int `json:"testCaseFailureCount"`
	TestCaseErroredCount int `json:"testCaseErroredCount"`
	TestCaseSkippedCount int `json:"testCaseSkippedCount"`

	GlobalSetup   *ExecutionDetails `json:"globalSetup,omitempty"`
	GlobalCleanup *ExecutionDetails `json:"globalCleanup,omitempty"`

	TestSuiteResults []TestSuiteResult `json:"testSuiteResults"`
}

// NewFinalReport builds the aggregate counts from the suite results.
func NewFinalReport(name string, date time.Time, suites []TestSuiteResult) *FinalReport {
	report := &FinalReport{ReportName: name, ExecutionDate: date, TestSuiteResults: suites}
	for _, suite := range suites {
		report.TestSuiteCount++
		switch suite.Status {
		case StatusErrored:
			report.TestSuiteErrorCount++
		case StatusFailed:
			report.TestSuiteFailureCount++
		case StatusSkipped:
			report.TestSuiteSkippedCount++
		default:
			report.TestSuiteSuccessCount++
		}

		report.TestCaseCount += suite.TotalCount
		report.TestCaseSuccessCount += suite.SuccessCount
		report.TestCaseFailureCount += suite.FailureCount
		report.TestCaseErroredCount += suite.ErrorCount
		report.TestCaseSkippedCount += suite.SkipCount
	}
	return report
}

// Suite returns the named suite result or nil.
func (r *FinalReport) Suite(name string) *TestSuiteResult {
	for i := range r.TestSuiteResults {
		if r.TestSuiteResults[i].Name == name {
			return &r.TestSuiteResults[i]
		}
	}
	return nil
}

// Passed reports whether every test case was successful.
func (r *FinalReport) Passed() bool {
	return r.TestCaseCount == r.TestCaseSuccessCount
}
