package model

import (
	"fmt"
	"strings"
)

// Status is the outcome of an executable unit.
type Status string

const (
	// StatusPending marks a unit that has not reached a terminal state yet.
	StatusPending Status = "PENDING"
	// StatusSuccessful marks a unit whose steps and validations all passed.
	StatusSuccessful Status = "SUCCESSFUL"
	// StatusFailed marks a unit with a validation that returned false.
	StatusFailed Status = "FAILED"
	// StatusSkipped marks a unit that never ran its steps.
	StatusSkipped Status = "SKIPPED"
	// StatusErrored marks a unit interrupted by an unexpected error.
	StatusErrored Status = "ERRORED"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusSkipped, StatusErrored:
		return true
	default:
		return false
	}
}

func (s Status) weight() int {
	switch s {
	case StatusErrored:
		return 4
	case StatusFailed:
		return 3
	case StatusSkipped:
		return 2
	case StatusSuccessful:
		return 1
	default:
		return 0
	}
}

// Effective returns the more severe of two statuses.
func Effective(current, next Status) Status {
	if next.weight() > current.weight() {
		return next
	}
	return current
}

// Title renders the status as a capitalised word, e.g. "Errored".
func (s Status) Title() string {
	lower := strings.ToLower(string(s))
	if lower == "" {
		return ""
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// RollUp derives a parent status from its children. The message names every
// non-successful status present, e.g. "One or more test-case(s) Errored / Skipped".
func RollUp(childKind string, children []Status) (Status, string) {
	status := StatusSuccessful
	counts := map[Status]int{}
	for _, child := range children {
		counts[child]++
		status = Effective(status, child)
	}

	if status == StatusSuccessful {
		return status, ""
	}

	var parts []string
	for _, s := range []Status{StatusErrored, StatusFailed, StatusSkipped} {
		if counts[s] > 0 {
			parts = append(parts, s.Title())
		}
	}
	return status, fmt.Sprintf("One or more %s(s) %s", childKind, strings.Join(parts, " / "))
}
