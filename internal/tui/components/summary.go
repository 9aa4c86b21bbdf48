package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/model"
)

// SummaryData is what the summary block renders.
type SummaryData struct {
	Total     int
	Done      int
	Finished  bool
	Cancelled bool
	DryRun    bool
	Counts    map[string]int
	Err       error
}

// Summary renders the footer of the progress view.
type Summary struct {
	data SummaryData
}

// NewSummary creates a summary.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary, or "" before anything ran.
func (s Summary) View() string {
	d := s.data
	if d.Total == 0 && !d.Finished {
		return ""
	}

	var lines []string
	label := "Resources"
	if d.DryRun {
		label = "Resources (dry-run)"
	}
	lines = append(lines, fmt.Sprintf("%s: %d/%d done", label, d.Done, d.Total))

	if len(d.Counts) > 0 {
		keys := make([]string, 0, len(d.Counts))
		for status := range d.Counts {
			keys = append(keys, status)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, status := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", status, d.Counts[status]))
		}
		lines = append(lines, strings.Join(parts, " "))
	}

	switch {
	case d.Cancelled:
		lines = append(lines, "Cancelled")
	case !d.Finished:
	case d.Err != nil || d.Counts[model.StatusFailed] > 0:
		lines = append(lines, "Finished with failures")
	default:
		lines = append(lines, "Finished")
	}
	return strings.Join(lines, "\n")
}
