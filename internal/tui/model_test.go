package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
)

func testModel() Model {
	manifest := &config.Manifest{
		Name: "platform",
		Resources: []config.Resource{
			{ID: "repo", Kind: "repository"},
			{ID: "ci", Kind: "pipeline"},
		},
	}
	plan := &engine.ExecutionPlan{Levels: []engine.ExecutionLevel{{ResourceIDs: []string{"repo"}}, {ResourceIDs: []string{"ci"}}}}
	return NewModel(manifest, plan, false, nil)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNewModelSeedsPlannedResources(t *testing.T) {
	t.Parallel()

	m := testModel()
	require.Equal(t, 2, m.Total())
	require.Zero(t, m.Done())
	require.NotNil(t, m.Init())

	row, ok := m.resources.Get("ci")
	require.True(t, ok)
	require.Equal(t, "pipeline", row.Kind)
	require.Equal(t, model.StatusPending, row.Result.Status)
}

func TestUpdateTracksResourceLifecycle(t *testing.T) {
	t.Parallel()

	m := testModel()
	m, _ = update(t, m, ResourceStartMsg{ID: "repo", Kind: "repository", Time: time.Now()})
	row, _ := m.resources.Get("repo")
	require.Equal(t, model.StatusRunning, row.Result.Status)

	result := model.ResourceResult{ResourceID: "repo", Status: model.StatusSuccess, Message: "created web"}
	m, _ = update(t, m, ResourceCompleteMsg{Result: result})
	m, _ = update(t, m, ResourceCompleteMsg{Result: result})
	require.Equal(t, 1, m.Done())
	require.Equal(t, 1, m.counts[model.StatusSuccess])

	m, cmd := update(t, m, DoneMsg{Err: errors.New("boom")})
	require.True(t, m.Finished())
	require.NotNil(t, cmd)
	require.Contains(t, m.View(), "Finished with failures")
}

func TestCtrlCCancels(t *testing.T) {
	t.Parallel()

	called := false
	m := NewModel(&config.Manifest{}, &engine.ExecutionPlan{}, false, func() { called = true })
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.True(t, called)
	require.True(t, m.Cancelled())
	require.NotNil(t, cmd)
}

func TestViewRendersRows(t *testing.T) {
	t.Parallel()

	m := testModel()
	m, _ = update(t, m, ResourceCompleteMsg{Result: model.ResourceResult{ResourceID: "repo", Kind: "repository", Status: model.StatusWouldCreate, Message: "repository \"web\" does not exist"}})

	view := m.View()
	require.Contains(t, view, "platform")
	require.Contains(t, view, "repo")
	require.Contains(t, view, "(pipeline)")
	require.Contains(t, view, "does not exist")
	require.Contains(t, view, "1/2")
}

func TestStatusIcon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   string
	}{
		{model.StatusSuccess, "✓"},
		{model.StatusRunning, "⏳"},
		{model.StatusFailed, "✗"},
		{model.StatusSkipped, "⊘"},
		{model.StatusWouldCreate, "+"},
		{model.StatusWouldDelete, "-"},
		{model.StatusWouldRun, "▶"},
		{model.StatusPending, "…"},
		{"", "…"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			require.Contains(t, StatusIcon(tt.status), tt.want)
		})
	}
}
