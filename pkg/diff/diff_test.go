package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinesIdenticalReturnsEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Lines("same\ntext", "same\ntext", "current", "desired"))
}

func TestLinesMarksChangedLines(t *testing.T) {
	t.Parallel()

	out := Lines("step one\nstep two\n", "step one\nstep 2\n", "current", "desired")

	require.True(t, strings.HasPrefix(out, "--- current\n+++ desired\n"))
	require.Contains(t, out, " step one")
	require.Contains(t, out, "-step two")
	require.Contains(t, out, "+step 2")
}

func TestLinesTruncatesLargeDiffs(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < maxDiffLines+10; i++ {
		b.WriteString("line\n")
	}

	out := Lines("", b.String(), "a", "b")
	require.Contains(t, out, truncateMessage)
}
