package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.finished {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tick()

	case ResourceStartMsg:
		m.resources.Start(msg.ID, msg.Kind)
		m.total = m.resources.Len()
		return m, nil

	case ResourceCompleteMsg:
		if msg.Result.ResourceID == "" {
			return m, nil
		}
		if m.resources.Complete(msg.Result) {
			m.done++
			m.counts[msg.Result.Status]++
		}
		m.total = m.resources.Len()
		return m, nil

	case DoneMsg:
		m.finished = true
		m.err = msg.Err
		m.elapsed = time.Since(m.started)
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.cancelled = true
			m.finished = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	}
	return m, nil
}
