// Package tui renders apply progress as a bubbletea program.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/tui/components"
)

// ResourceStartMsg is sent when a resource starts reconciling.
type ResourceStartMsg struct {
	ID   string
	Kind string
	Time time.Time
}

// ResourceCompleteMsg carries a finished resource.
type ResourceCompleteMsg struct {
	Result model.ResourceResult
}

// DoneMsg ends the program once the executor returns.
type DoneMsg struct {
	Report *engine.Report
	Err    error
}

type tickMsg time.Time

// Model is the apply progress view.
type Model struct {
	name      string
	dryRun    bool
	resources components.ResourceList
	progress  components.Progress
	total     int
	done      int
	counts    map[string]int
	started   time.Time
	elapsed   time.Duration
	finished  bool
	cancelled bool
	err       error
	cancel    context.CancelFunc
}

// NewModel seeds one row per planned resource. cancel is called on Ctrl-C.
func NewModel(m *config.Manifest, plan *engine.ExecutionPlan, dryRun bool, cancel context.CancelFunc) Model {
	var ids []string
	kinds := map[string]string{}
	name := "apply"
	if m != nil {
		if m.Name != "" {
			name = m.Name
		}
		for _, res := range m.Resources {
			kinds[res.ID] = res.Kind
		}
	}
	if plan != nil {
		for _, level := range plan.Levels {
			ids = append(ids, level.ResourceIDs...)
		}
	}
	return Model{
		name:      name,
		dryRun:    dryRun,
		resources: components.NewResourceList(ids, kinds),
		progress:  components.NewProgress(len(ids)),
		total:     len(ids),
		counts:    map[string]int{},
		started:   time.Now(),
		cancel:    cancel,
	}
}

// Init starts the elapsed time ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Total is the number of tracked resources.
func (m Model) Total() int { return m.total }

// Done is the number of finished resources.
func (m Model) Done() int { return m.done }

// Finished reports whether the run ended.
func (m Model) Finished() bool { return m.finished }

// Cancelled reports whether the user interrupted the run.
func (m Model) Cancelled() bool { return m.cancelled }
