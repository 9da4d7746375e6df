package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/alexisbeaulieu97/autoflow/internal/model"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f97316")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true)
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
)

// StatusText renders a status, coloured when color is set.
func StatusText(status model.Status, color bool) string {
	if !color {
		return string(status)
	}
	switch status {
	case model.StatusSuccessful:
		return successStyle.Render(string(status))
	case model.StatusFailed:
		return failureStyle.Render(string(status))
	case model.StatusErrored:
		return errorStyle.Render(string(status))
	case model.StatusSkipped:
		return skipStyle.Render(string(status))
	}
	return string(status)
}

// PrintSummary renders one row per test case plus the totals.
func PrintSummary(w io.Writer, report *model.FinalReport, color bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(report.ReportName)
	t.AppendHeader(table.Row{"Suite", "Test case", "Status", "Message"})

	for _, suite := range report.TestSuiteResults {
		if len(suite.TestCases) == 0 {
			t.AppendRow(table.Row{suite.Name, "", StatusText(suite.Status, color), suite.Message})
			continue
		}
		for _, tc := range suite.TestCases {
			t.AppendRow(table.Row{suite.Name, tc.Name, StatusText(tc.Status, color), truncate(tc.Message, 80)})
		}
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%d suite(s)", report.TestSuiteCount),
		fmt.Sprintf("%d test case(s)", report.TestCaseCount),
		fmt.Sprintf("%d ok / %d failed / %d errored / %d skipped",
			report.TestCaseSuccessCount, report.TestCaseFailureCount, report.TestCaseErroredCount, report.TestCaseSkippedCount),
		"",
	})
	t.Render()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
