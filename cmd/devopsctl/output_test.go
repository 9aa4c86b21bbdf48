package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

func TestPrintVerifyTableVerboseDetails(t *testing.T) {
	t.Parallel()

	summary := &model.VerificationSummary{}
	summary.Add(model.VerificationResult{ResourceID: "ok", Kind: "repository", Status: model.StatusSatisfied, Message: "up to date", Duration: time.Second})
	summary.Add(model.VerificationResult{ResourceID: "policy", Kind: "branch_policy", Status: model.StatusDrifted, Message: "differs", Details: "-1\n+2\n"})
	summary.Add(model.VerificationResult{ResourceID: "hook", Kind: "service_hook", Status: model.StatusUnknown, Error: errors.New("network failure")})

	out := &bytes.Buffer{}
	printVerifyTable(out, summary, true)

	s := out.String()
	require.Contains(t, s, "policy")
	require.Contains(t, s, "3 total, 1 satisfied, 0 missing, 1 drifted, 0 blocked, 1 unknown")
	require.Contains(t, s, "--- policy ---\n-1\n+2")
	require.Contains(t, s, "Error: network failure")
	require.Contains(t, s, "Changes needed")
}

func TestPrintSnapshotsPicksSharedColumns(t *testing.T) {
	t.Parallel()

	snaps := []reconcile.Snapshot{
		{Kind: "repository", ID: "r-1", Name: "web", Fields: reconcile.Fields{"id": "r-1", "name": "web", "default_branch": "main", "size": 10, "branch.main": "x"}},
		{Kind: "repository", ID: "r-2", Name: "api", Fields: reconcile.Fields{"id": "r-2", "name": "api", "default_branch": "dev"}},
	}
	require.Equal(t, []string{"default_branch"}, listColumns(snaps))

	out := &bytes.Buffer{}
	require.NoError(t, printSnapshots(out, "repository", snaps, false))
	require.Contains(t, out.String(), "web")
	require.Contains(t, out.String(), "dev")

	out.Reset()
	require.NoError(t, printSnapshots(out, "repository", nil, false))
	require.Contains(t, out.String(), "No repository resources found")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", truncate(" short\n", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
