package pipelineplugin

import (
	"context"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/devops/devopstest"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	repositoryplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/repository"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

type fakeRepos map[string]devops.Ref

func (f fakeRepos) ResolveRepository(_ context.Context, _ *plugin.Request, nameOrID string) (devops.Ref, error) {
	if ref, ok := f[nameOrID]; ok {
		return ref, nil
	}
	return devops.Ref{}, devopserrors.NewNotFoundError("repository", nameOrID, "")
}

func request(t *testing.T, params map[string]any) *plugin.Request {
	t.Helper()
	return &plugin.Request{
		Resource: kindutil.Params("ci", Kind, params),
		Client:   devopstest.NewClient(t),
		Project:  "web",
	}
}

func newPlugin() *pipelinePlugin {
	return &pipelinePlugin{repos: fakeRepos{"app": {ID: "r-1", Name: "app"}}}
}

func definitionJSON(overrides map[string]any) map[string]any {
	out := map[string]any{
		"id":       12,
		"name":     "ci",
		"path":     `\`,
		"revision": 3,
		"repository": map[string]any{
			"id": "r-1", "name": "app", "type": "TfsGit", "defaultBranch": "refs/heads/main",
		},
		"process": map[string]any{"yamlFilename": "/azure-pipelines.yml", "type": 2},
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func mockLocate(found bool, overrides map[string]any) {
	if !found {
		gock.New(devopstest.Org).
			Get("/web/_apis/build/definitions$").
			MatchParam("name", "ci").
			Reply(200).
			JSON(devopstest.List())
		return
	}
	gock.New(devopstest.Org).
		Get("/web/_apis/build/definitions$").
		MatchParam("name", "ci").
		Reply(200).
		JSON(devopstest.List(map[string]any{"id": 12, "name": "ci", "path": `\`}))
	gock.New(devopstest.Org).
		Get("/web/_apis/build/definitions/12$").
		Reply(200).
		JSON(definitionJSON(overrides))
}

func TestPipelineMetadata(t *testing.T) {
	t.Parallel()

	meta := New().Metadata()
	require.Equal(t, Kind, meta.Name)
	require.NoError(t, meta.Validate())
	require.Equal(t, "repository", meta.Dependencies[0].Name)
}

func TestPipelineResourceTimeoutCoversWait(t *testing.T) {
	t.Parallel()

	timeout := func(params map[string]any) time.Duration {
		return newPlugin().ResourceTimeout(&plugin.Request{Resource: kindutil.Params("ci", Kind, params)})
	}

	require.Implements(t, (*plugin.TimeoutExtender)(nil), newPlugin())
	require.Equal(t, 600*time.Second, timeout(map[string]any{"name": "ci", "state": "run", "wait_for_completion": true}))
	require.Equal(t, 30*time.Second, timeout(map[string]any{"name": "ci", "state": "run", "wait_for_completion": true, "wait_timeout": 30}))
	require.Zero(t, timeout(map[string]any{"name": "ci", "state": "run"}))
	require.Zero(t, timeout(map[string]any{"name": "ci", "wait_for_completion": true}))
}

func TestRepositoryTypeMapping(t *testing.T) {
	t.Parallel()

	require.Equal(t, "TfsGit", RepositoryType("azureReposGit"))
	require.Equal(t, "TfsGit", RepositoryType("tfsgit"))
	require.Equal(t, "GitHub", RepositoryType("gitHub"))
	require.Equal(t, "TfsVersionControl", RepositoryType("tfsversioncontrol"))
	require.Equal(t, "Bitbucket", RepositoryType("Bitbucket"))
}

func TestInitResolvesRepositoryKind(t *testing.T) {
	t.Parallel()

	reg := plugin.NewRegistry(&plugin.RegistryConfig{DependencyPolicy: plugin.PolicyStrict, AccessPolicy: plugin.AccessStrict}, logger.Nop())
	require.NoError(t, reg.Register(repositoryplugin.New()))
	p := New()
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.ValidateDependencies())
	require.NoError(t, reg.InitializePlugins())
	require.NotNil(t, p.(*pipelinePlugin).repos)
}

func TestPipelineCreate(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "repository": "app", "yaml_path": "/azure-pipelines.yml", "default_branch": "develop"})

	mockLocate(false, nil)
	gock.New(devopstest.Org).
		Get("/web/_apis/distributedtask/queues$").
		MatchParam("queueName", "Azure Pipelines").
		Reply(200).
		JSON(devopstest.List(map[string]any{"id": 9, "name": "Azure Pipelines"}))
	gock.New(devopstest.Org).
		Post("/web/_apis/build/definitions$").
		JSON(map[string]any{
			"name": "ci",
			"path": `\`,
			"type": "build",
			"repository": map[string]any{
				"id": "r-1", "name": "app", "type": "TfsGit", "defaultBranch": "refs/heads/develop",
			},
			"process": map[string]any{"yamlFilename": "/azure-pipelines.yml", "type": 2},
			"queue":   map[string]any{"id": 9, "name": "Azure Pipelines"},
		}).
		Reply(200).
		JSON(definitionJSON(nil))

	p := newPlugin()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionWouldCreate, eval.Preview.Action)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionCreated, res.Record.Action)
	require.Equal(t, "12", res.Record.ID)
	require.Equal(t, "/azure-pipelines.yml", res.Record.Resource["yaml_path"])
	devopstest.AssertDone(t)
}

func TestPipelineCreateRequiresRepositoryAndYAML(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "repository": "app"})

	mockLocate(false, nil)

	_, err := newPlugin().Evaluate(ctx, req)
	var validation *plugin.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestPipelineFolderDifferenceIsIgnored(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "folder": `\Builds`, "yaml_path": "/azure-pipelines.yml"})

	mockLocate(true, nil)

	eval, err := newPlugin().Evaluate(ctx, req)
	require.NoError(t, err)
	require.False(t, eval.RequiresAction)
	require.Equal(t, model.StatusSatisfied, eval.CurrentState)
	devopstest.AssertDone(t)
}

func TestPipelineUpdatesYAMLPath(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "yaml_path": "/ci/build.yml"})

	mockLocate(true, nil)
	gock.New(devopstest.Org).
		Get("/web/_apis/build/definitions/12$").
		Reply(200).
		JSON(definitionJSON(map[string]any{"variables": map[string]any{"X": map[string]any{"value": "1"}}}))
	gock.New(devopstest.Org).
		Put("/web/_apis/build/definitions/12$").
		AddMatcher(devopstest.MatchJSON(definitionJSON(map[string]any{
			"variables": map[string]any{"X": map[string]any{"value": "1"}},
			"process":   map[string]any{"yamlFilename": "/ci/build.yml", "type": 2},
		}))).
		Reply(200).
		JSON(definitionJSON(map[string]any{"revision": 4, "process": map[string]any{"yamlFilename": "/ci/build.yml", "type": 2}}))

	p := newPlugin()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusDrifted, eval.CurrentState)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionUpdated, res.Record.Action)
	require.Equal(t, 4, res.Record.Resource["revision"])
	devopstest.AssertDone(t)
}

func TestPipelineDelete(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "state": "absent"})

	mockLocate(true, nil)
	gock.New(devopstest.Org).
		Delete("/web/_apis/build/definitions/12$").
		Reply(204)

	p := newPlugin()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionDeleted, res.Record.Action)
	devopstest.AssertDone(t)
}

func TestPipelineRunDryRun(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "state": "run", "branch": "feature/x"})
	req.DryRun = true

	mockLocate(true, nil)

	p := newPlugin()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.True(t, eval.Preview.Changed)
	require.Equal(t, reconcile.ActionWouldRun, eval.Preview.Action)
	require.Equal(t, "refs/heads/feature/x", eval.Preview.Resource["run_branch"])

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusWouldRun, res.Status)
	devopstest.AssertDone(t)
}

func TestPipelineRunWaitsForCompletion(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{
		"name":                "ci",
		"state":               "run",
		"branch":              "main",
		"variables":           map[string]any{"Config": "Release"},
		"template_parameters": map[string]any{"env": "prod"},
		"wait_for_completion": true,
		"poll_interval":       1,
	})

	mockLocate(true, nil)
	gock.New(devopstest.Org).
		Post("/web/_apis/build/builds$").
		JSON(map[string]any{
			"definition":         map[string]any{"id": 12},
			"sourceBranch":       "refs/heads/main",
			"parameters":         `{"Config":"Release"}`,
			"templateParameters": map[string]any{"env": "prod"},
		}).
		Reply(200).
		JSON(map[string]any{"id": 456, "buildNumber": "20240101.1", "status": "inProgress"})
	gock.New(devopstest.Org).
		Get("/web/_apis/build/builds/456$").
		Reply(200).
		JSON(map[string]any{"id": 456, "buildNumber": "20240101.1", "status": "inProgress"})
	gock.New(devopstest.Org).
		Get("/web/_apis/build/builds/456$").
		Reply(200).
		JSON(map[string]any{"id": 456, "buildNumber": "20240101.1", "status": "completed", "result": "succeeded"})

	p := newPlugin()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionQueued, res.Record.Action)
	require.True(t, res.Record.Changed)
	run := res.Record.Resource["run"].(map[string]any)
	require.Equal(t, "completed", run["status"])
	require.Equal(t, "succeeded", run["result"])
	devopstest.AssertDone(t)
}

func TestPipelineRunMissingDefinition(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "ci", "state": "run"})

	mockLocate(false, nil)

	_, err := newPlugin().Evaluate(ctx, req)
	require.True(t, devopserrors.IsNotFound(err))
}

func TestResolvePipelineByID(t *testing.T) {
	ctx := context.Background()
	req := request(t, nil)

	gock.New(devopstest.Org).
		Get("/web/_apis/build/definitions/12$").
		Reply(200).
		JSON(definitionJSON(nil))

	ref, err := newPlugin().ResolvePipeline(ctx, req, "12")
	require.NoError(t, err)
	require.Equal(t, devops.Ref{ID: "12", Name: "ci"}, ref)
}
