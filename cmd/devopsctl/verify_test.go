package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/goccy/go-json"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"
)

func TestVerifyReportsMissingWithDriftExitCode(t *testing.T) {
	app := testApp(t, rootFlags{})
	path := writeManifest(t, poolManifest)
	mockPoolLookup("pool-A")

	out, err := run(t, app, func(ctx context.Context, out *bytes.Buffer) error {
		return runVerify(ctx, app, out, verifyOptions{ConfigPath: path})
	})
	require.Equal(t, exitDrift, exitCode(err))
	require.True(t, gock.IsDone())
	require.Contains(t, out, "build-pool")
	require.Contains(t, out, "missing")
	require.Contains(t, out, "Changes needed")
}

func TestVerifySatisfiedJSON(t *testing.T) {
	app := testApp(t, rootFlags{json: true})
	path := writeManifest(t, poolManifest)
	mockPoolLookup("pool-A", map[string]any{"id": 7, "name": "pool-A", "autoUpdate": true})

	out, err := run(t, app, func(ctx context.Context, out *bytes.Buffer) error {
		return runVerify(ctx, app, out, verifyOptions{ConfigPath: path})
	})
	require.NoError(t, err)

	var doc jsonVerifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, 1, doc.Summary.Total)
	require.Equal(t, 1, doc.Summary.Satisfied)
	require.Equal(t, "satisfied", doc.Results[0].Status)
}

func TestVerifyUnreachableIsUnknown(t *testing.T) {
	app := testApp(t, rootFlags{})
	path := writeManifest(t, poolManifest)
	gock.New(testOrg).
		Get("/_apis/distributedtask/pools$").
		Reply(503)

	_, err := run(t, app, func(ctx context.Context, out *bytes.Buffer) error {
		return runVerify(ctx, app, out, verifyOptions{ConfigPath: path})
	})
	require.Equal(t, exitRuntime, exitCode(err))
}

func TestVerifyMissingManifestIsConfigError(t *testing.T) {
	app := testApp(t, rootFlags{})
	_, err := run(t, app, func(ctx context.Context, out *bytes.Buffer) error {
		return runVerify(ctx, app, out, verifyOptions{ConfigPath: "/does/not/exist.yaml"})
	})
	require.Equal(t, exitConfig, exitCode(err))
}

func TestVerifyAcceptsPositionalManifestAndPlanAlias(t *testing.T) {
	original := verifyCmdRunner
	t.Cleanup(func() { verifyCmdRunner = original })

	var got verifyOptions
	verifyCmdRunner = func(_ context.Context, _ *appContext, _ io.Writer, opts verifyOptions) error {
		got = opts
		return nil
	}

	root := newRootCmd(testRegistry(t))
	root.SetArgs([]string{"plan", "manifest.yaml"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())
	require.Equal(t, "manifest.yaml", got.ConfigPath)
}
