package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/tui/components"
)

// View renders the current state.
func (m Model) View() string {
	title := fmt.Sprintf("devopsctl • %s", m.name)
	if m.dryRun {
		title += " (dry-run)"
	}
	sections := []string{
		titleStyle.Render(title),
		sectionStyle.Render("Progress"),
		m.progress.View(m.done) + " " + kindStyle.Render(m.elapsed.Truncate(time.Second).String()),
	}

	if entries := m.resources.Entries(); len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Resources"), renderEntries(entries))
	}

	summary := components.NewSummary(components.SummaryData{
		Total:     m.total,
		Done:      m.done,
		Finished:  m.finished,
		Cancelled: m.cancelled,
		DryRun:    m.dryRun,
		Counts:    m.counts,
		Err:       m.err,
	}).View()
	if strings.TrimSpace(summary) != "" {
		sections = append(sections, summaryStyle.Render(summary))
	}
	if !m.finished {
		sections = append(sections, kindStyle.Render("ctrl+c to cancel"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func renderEntries(entries []components.ResourceEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf(" %s %s %s", StatusIcon(e.Result.Status), e.ID, kindStyle.Render("("+e.Kind+")"))
		if msg := strings.TrimSpace(e.Result.Message); msg != "" && e.Result.Completed() {
			line += " " + messageStyle.Render(msg)
		}
		if e.Result.Duration > 0 {
			line += kindStyle.Render(fmt.Sprintf(" %s", e.Result.Duration.Truncate(10*time.Millisecond)))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// StatusIcon returns the glyph for a result status.
func StatusIcon(status string) string {
	switch status {
	case model.StatusSuccess:
		return successStyle.Render("✓")
	case model.StatusRunning:
		return runningStyle.Render("⏳")
	case model.StatusFailed:
		return failureStyle.Render("✗")
	case model.StatusSkipped:
		return skippedStyle.Render("⊘")
	case model.StatusWouldCreate:
		return previewStyle.Render("+")
	case model.StatusWouldUpdate:
		return previewStyle.Render("~")
	case model.StatusWouldDelete:
		return previewStyle.Render("-")
	case model.StatusWouldRun:
		return previewStyle.Render("▶")
	default:
		return pendingStyle.Render("…")
	}
}
