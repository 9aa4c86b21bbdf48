package components

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/model"
)

func TestProgressView(t *testing.T) {
	t.Parallel()

	p := NewProgress(4)
	require.Contains(t, p.View(1), "1/4")
	require.InDelta(t, 0.25, p.Ratio(1), 0.001)
	require.Equal(t, 1.0, p.Ratio(9))
	require.Zero(t, NewProgress(0).Ratio(3))
}

func TestResourceListTracksOrderAndCompletion(t *testing.T) {
	t.Parallel()

	l := NewResourceList([]string{"repo", "pipeline"}, map[string]string{"repo": "repository", "pipeline": "pipeline"})
	l.Start("repo", "")
	row, ok := l.Get("repo")
	require.True(t, ok)
	require.Equal(t, model.StatusRunning, row.Result.Status)
	require.Equal(t, "repository", row.Kind)

	require.True(t, l.Complete(model.ResourceResult{ResourceID: "repo", Status: model.StatusSuccess}))
	require.False(t, l.Complete(model.ResourceResult{ResourceID: "repo", Status: model.StatusSuccess}))

	l.Start("repo", "")
	row, _ = l.Get("repo")
	require.Equal(t, model.StatusSuccess, row.Result.Status)

	l.Start("extra", "work_item")
	require.Equal(t, 3, l.Len())
	entries := l.Entries()
	require.Equal(t, []string{"repo", "pipeline", "extra"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestSummaryView(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data SummaryData
		want []string
	}{
		{"empty", SummaryData{}, nil},
		{"running", SummaryData{Total: 3, Done: 1}, []string{"Resources: 1/3 done"}},
		{"dry run", SummaryData{Total: 1, Done: 1, Finished: true, DryRun: true, Counts: map[string]int{"would_create": 1}}, []string{"(dry-run)", "would_create=1", "Finished"}},
		{"failed", SummaryData{Total: 2, Done: 2, Finished: true, Counts: map[string]int{"failed": 1, "success": 1}}, []string{"failed=1 success=1", "Finished with failures"}},
		{"error", SummaryData{Total: 1, Done: 0, Finished: true, Err: errors.New("boom")}, []string{"Finished with failures"}},
		{"cancelled", SummaryData{Total: 2, Done: 1, Cancelled: true}, []string{"Cancelled"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			view := NewSummary(tt.data).View()
			if tt.want == nil {
				require.Empty(t, view)
			}
			for _, s := range tt.want {
				require.Contains(t, view, s)
			}
		})
	}
}
