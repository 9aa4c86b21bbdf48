package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	t.Cleanup(func() {
		version, commit, date = originalVersion, originalCommit, originalDate
	})
	version, commit, date = "1.2.3", "abcdef1", "2026-10-03"

	root := newRootCmd(testRegistry(t))
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())

	out := buf.String()
	require.Contains(t, out, "devopsctl 1.2.3")
	require.Contains(t, out, "abcdef1")
	require.Contains(t, out, "2026-10-03")
	require.Contains(t, out, "plugin api")
}
