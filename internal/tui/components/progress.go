// Package components holds the building blocks of the apply progress view.
package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 40

// Progress renders how many resources have finished.
type Progress struct {
	bar   progress.Model
	total int
}

// NewProgress creates a progress bar for total resources.
func NewProgress(total int) Progress {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = barWidth
	return Progress{bar: bar, total: total}
}

// Ratio is the finished fraction, clamped to [0, 1].
func (p Progress) Ratio(done int) float64 {
	if p.total <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, float64(done)/float64(p.total)))
}

// View renders the bar with a done/total label.
func (p Progress) View(done int) string {
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d/%d", done, p.total))
	return lipgloss.JoinHorizontal(lipgloss.Center, p.bar.ViewAs(p.Ratio(done)), " ", label)
}
