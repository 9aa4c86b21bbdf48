package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins"
)

const testOrg = "https://dev.azure.com/contoso"

func testRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry(&plugin.RegistryConfig{DependencyPolicy: plugin.PolicyStrict, AccessPolicy: plugin.AccessStrict}, nil)
	require.NoError(t, plugins.Register(reg))
	return reg
}

// testApp returns an app whose environment only holds a PAT. HTTP calls go
// through gock's interception of the default transport.
func testApp(t *testing.T, flags rootFlags) *appContext {
	t.Helper()
	t.Cleanup(gock.Off)
	env := map[string]string{"AZURE_DEVOPS_PAT": "pat"}
	return &appContext{
		Registry: testRegistry(t),
		flags:    &flags,
		lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const poolManifest = `version: "1.0"
name: platform
organization: https://dev.azure.com/contoso
settings:
  parallel: 2
resources:
  - id: build-pool
    kind: agent_pool
    name: {{ .Values.pool | default "pool-A" }}
`

func mockPoolLookup(name string, values ...any) {
	gock.New(testOrg).
		Get("/_apis/distributedtask/pools$").
		MatchParam("poolName", name).
		Reply(200).
		JSON(map[string]any{"count": len(values), "value": values})
}

func run(t *testing.T, app *appContext, fn func(ctx context.Context, out *bytes.Buffer) error) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	err := fn(context.Background(), out)
	return out.String(), err
}
