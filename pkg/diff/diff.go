// Package diff renders line-oriented differences between two texts.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultMaxLines bounds the output of Lines when callers pass zero.
const DefaultMaxLines = 200

// Lines compares expected and actual line by line. Removed lines start with
// "-", added lines with "+" and unchanged lines with a space. It returns ""
// when both texts are equal. Output past maxLines lines is replaced by a
// marker naming how many lines were cut.
func Lines(expected, actual string, maxLines int) string {
	if expected == actual {
		return ""
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	dmp := diffmatchpatch.New()
	a, b, index := dmp.DiffLinesToChars(expected, actual)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), index)

	var out []string
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, prefix+line)
		}
	}

	if len(out) > maxLines {
		cut := len(out) - maxLines
		out = append(out[:maxLines], fmt.Sprintf("... (%d more line(s))", cut))
	}
	return strings.Join(out, "\n") + "\n"
}

// Multiline reports whether a value renders over more than one line and is
// worth diffing.
func Multiline(s string) bool {
	return strings.Contains(strings.TrimSuffix(s, "\n"), "\n")
}
