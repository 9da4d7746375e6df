package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinesIdenticalContent(t *testing.T) {
	t.Parallel()

	require.Empty(t, Lines("a\nb\n", "a\nb\n", 0))
}

func TestLinesMarksChangedLines(t *testing.T) {
	t.Parallel()

	got := Lines("line1\nline2\nline3\n", "line1\nmodified\nline3\n", 0)
	require.Equal(t, " line1\n-line2\n+modified\n line3\n", got)
}

func TestLinesAddedAndRemovedLines(t *testing.T) {
	t.Parallel()

	got := Lines("a\nb\n", "a\nb\nc\n", 0)
	require.Contains(t, got, "+c\n")
	require.NotContains(t, got, "-")

	got = Lines("a\nb\nc", "a\nc", 0)
	require.Contains(t, got, "-b\n")
	require.Contains(t, got, " c\n")
}

func TestLinesTruncates(t *testing.T) {
	t.Parallel()

	var expected, actual strings.Builder
	for i := 0; i < 50; i++ {
		expected.WriteString("old\n")
		actual.WriteString("new\n")
	}
	got := Lines(expected.String(), actual.String(), 10)
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	require.Len(t, lines, 11)
	require.Equal(t, "... (90 more line(s))", lines[10])
}

func TestMultiline(t *testing.T) {
	t.Parallel()

	require.False(t, Multiline("one"))
	require.False(t, Multiline("one\n"))
	require.True(t, Multiline("one\ntwo"))
}
