package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	maxDiffLines    = 2000
	truncateMessage = "... (diff truncated) ..."
)

// Lines renders a line-oriented diff between two multi-line text values.
// Returns an empty string when the values are identical.
func Lines(from, to, fromLabel, toLabel string) string {
	if from == to {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []string
	out = append(out, fmt.Sprintf("--- %s", fromLabel), fmt.Sprintf("+++ %s", toLabel))

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

	if len(out) > maxDiffLines {
		out = append(out[:maxDiffLines], truncateMessage)
	}
	return strings.Join(out, "\n") + "\n"
}
