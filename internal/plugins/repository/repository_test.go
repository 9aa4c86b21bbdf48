package repositoryplugin

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops/devopstest"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

const sha = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

func request(t *testing.T, params map[string]any) *plugin.Request {
	t.Helper()
	return &plugin.Request{
		Resource: kindutil.Params("repo", Kind, params),
		Client:   devopstest.NewClient(t),
		Project:  "web",
	}
}

func repoJSON(overrides map[string]any) map[string]any {
	out := map[string]any{
		"id":            "r-1",
		"name":          "app",
		"remoteUrl":     "https://dev.azure.com/contoso/web/_git/app",
		"defaultBranch": "refs/heads/main",
		"project":       map[string]any{"id": "p-1", "name": "web"},
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func mockMissing(name string) {
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/" + name + "$").
		Reply(404).
		JSON(map[string]any{"message": "TF401019: repository does not exist"})
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories$").
		MatchParam("includeHidden", "true").
		Reply(200).
		JSON(devopstest.List())
}

func mockExisting(overrides map[string]any) {
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/app$").
		Reply(200).
		JSON(repoJSON(overrides))
}

func TestRepositoryMetadata(t *testing.T) {
	t.Parallel()

	meta := New().Metadata()
	require.Equal(t, Kind, meta.Name)
	require.NoError(t, meta.Validate())
}

func TestRepositoryCreateSetsDefaultBranch(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "default_branch": "develop"})

	mockMissing("app")
	gock.New(devopstest.Org).
		Get("/_apis/projects/web$").
		Reply(200).
		JSON(map[string]any{"id": "p-1", "name": "web"})
	gock.New(devopstest.Org).
		Post("/web/_apis/git/repositories$").
		JSON(map[string]any{"name": "app", "project": map[string]any{"id": "p-1", "name": "web"}}).
		Reply(201).
		JSON(repoJSON(map[string]any{"defaultBranch": nil}))
	gock.New(devopstest.Org).
		Patch("/web/_apis/git/repositories/r-1$").
		JSON(map[string]any{"defaultBranch": "refs/heads/develop"}).
		Reply(200).
		JSON(repoJSON(map[string]any{"defaultBranch": "refs/heads/develop"}))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusMissing, eval.CurrentState)
	require.Equal(t, reconcile.ActionWouldCreate, eval.Preview.Action)
	require.Equal(t, "refs/heads/develop", eval.Preview.Resource["default_branch"])

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionCreated, res.Record.Action)
	require.Equal(t, "r-1", res.Record.ID)
	require.Equal(t, "refs/heads/develop", res.Record.Resource["default_branch"])
	require.Equal(t, "web", res.Record.Resource["project"])
	devopstest.AssertDone(t)
}

func TestRepositoryCreateToleratesDefaultBranchFailure(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "default_branch": "main"})

	mockMissing("app")
	gock.New(devopstest.Org).
		Get("/_apis/projects/web$").
		Reply(200).
		JSON(map[string]any{"id": "p-1", "name": "web"})
	gock.New(devopstest.Org).
		Post("/web/_apis/git/repositories$").
		Reply(201).
		JSON(repoJSON(map[string]any{"defaultBranch": nil}))
	gock.New(devopstest.Org).
		Patch("/web/_apis/git/repositories/r-1$").
		Reply(400).
		JSON(map[string]any{"message": "branch does not exist"})

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, reconcile.ActionCreated, res.Record.Action)
	devopstest.AssertDone(t)
}

func TestRepositoryForkRequiresParent(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "parent_repository": "upstream", "parent_project": "core"})

	mockMissing("app")
	gock.New(devopstest.Org).
		Get("/_apis/projects/web$").
		Reply(200).
		JSON(map[string]any{"id": "p-1", "name": "web"})
	gock.New(devopstest.Org).
		Get("/core/_apis/git/repositories/upstream$").
		Reply(404)
	gock.New(devopstest.Org).
		Get("/core/_apis/git/repositories$").
		Reply(200).
		JSON(devopstest.List())

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)

	res, err := p.Apply(ctx, eval, req)
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, res.Status)
	var notFound *devopserrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	var execErr *plugin.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestRepositoryDisable(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "is_disabled": true, "default_branch": "refs/heads/main"})

	mockExisting(nil)
	gock.New(devopstest.Org).
		Patch("/web/_apis/git/repositories/r-1$").
		JSON(map[string]any{"isDisabled": true}).
		Reply(200).
		JSON(repoJSON(map[string]any{"isDisabled": true}))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusDrifted, eval.CurrentState)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionUpdated, res.Record.Action)
	require.Equal(t, []reconcile.RecordChange{{Field: "is_disabled", From: false, To: true}}, res.Record.Changes)
	devopstest.AssertDone(t)
}

func TestRepositoryAlreadyDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "is_disabled": true})

	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/app$").
		Reply(404)
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories$").
		MatchParam("includeHidden", "true").
		Reply(200).
		JSON(devopstest.List(repoJSON(map[string]any{"isDisabled": true})))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.False(t, eval.RequiresAction)
	require.Equal(t, model.StatusSatisfied, eval.CurrentState)
	devopstest.AssertDone(t)
}

func TestRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "state": "absent"})

	mockExisting(nil)
	gock.New(devopstest.Org).
		Delete("/web/_apis/git/repositories/r-1$").
		Reply(204)

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionDeleted, res.Record.Action)
	devopstest.AssertDone(t)
}

func TestRepositoryCreatesBranchFromSource(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "branch_name": "release/1.0", "source_branch": "main"})

	mockExisting(nil)
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/r-1/refs$").
		MatchParam("filter", "heads/release/1.0").
		Reply(200).
		JSON(devopstest.List())
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/r-1/refs$").
		MatchParam("filter", "heads/main").
		Times(2).
		Reply(200).
		JSON(devopstest.List(
			map[string]any{"name": "refs/heads/main", "objectId": sha},
			map[string]any{"name": "refs/heads/main-old", "objectId": "ffff"},
		))
	gock.New(devopstest.Org).
		Post("/web/_apis/git/repositories/r-1/refs$").
		AddMatcher(devopstest.MatchJSON([]map[string]any{{
			"name":        "refs/heads/release/1.0",
			"oldObjectId": plumbing.ZeroHash.String(),
			"newObjectId": sha,
		}})).
		Reply(200).
		JSON(devopstest.List(map[string]any{"name": "refs/heads/release/1.0", "success": true, "newObjectId": sha}))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.True(t, eval.RequiresAction)
	require.Equal(t, reconcile.ActionWouldUpdate, eval.Preview.Action)
	branch := eval.Preview.Resource["branch"].(map[string]any)
	require.Equal(t, string(reconcile.ActionWouldCreate), branch["action"])

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.True(t, res.Record.Changed)
	require.Equal(t, reconcile.ActionUpdated, res.Record.Action)
	branch = res.Record.Resource["branch"].(map[string]any)
	require.Equal(t, string(reconcile.ActionCreated), branch["action"])
	require.Equal(t, sha, branch["object_id"])
	devopstest.AssertDone(t)
}

func TestRepositoryBranchMissingSource(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "branch_name": "feature", "source_branch": "ghost"})

	mockExisting(nil)
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/r-1/refs$").
		Times(2).
		Reply(200).
		JSON(devopstest.List())

	_, err := New().Evaluate(ctx, req)
	var notFound *devopserrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRepositoryDeleteMissingBranchIsNoop(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"name": "app", "branch_name": "old", "branch_state": "absent"})

	mockExisting(nil)
	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories/r-1/refs$").
		MatchParam("filter", "heads/old").
		Reply(200).
		JSON(devopstest.List())

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.False(t, eval.RequiresAction)
	branch := eval.Preview.Resource["branch"].(map[string]any)
	require.Equal(t, string(reconcile.ActionAbsent), branch["action"])
	devopstest.AssertDone(t)
}

func TestRepositoryValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New().Evaluate(ctx, request(t, map[string]any{}))
	var validation *plugin.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = New().Evaluate(ctx, request(t, map[string]any{"name": "app", "branch_name": "x"}))
	require.ErrorAs(t, err, &validation)

	_, err = New().Evaluate(ctx, request(t, map[string]any{"name": "app", "state": "archived"}))
	require.ErrorAs(t, err, &validation)
}

func TestResolveRepository(t *testing.T) {
	ctx := context.Background()
	req := request(t, nil)

	mockExisting(nil)
	ref, err := New().(plugin.RepositoryResolver).ResolveRepository(ctx, req, "app")
	require.NoError(t, err)
	require.Equal(t, "r-1", ref.ID)

	mockMissing("ghost")
	_, err = New().(plugin.RepositoryResolver).ResolveRepository(ctx, req, "ghost")
	require.True(t, devopserrors.IsNotFound(err))
}

func TestRepositoryList(t *testing.T) {
	ctx := context.Background()
	req := request(t, nil)

	gock.New(devopstest.Org).
		Get("/web/_apis/git/repositories$").
		MatchParam("includeHidden", "true").
		Reply(200).
		JSON(devopstest.List(repoJSON(nil), repoJSON(map[string]any{"id": "r-2", "name": "docs", "isFork": true})))

	snaps, err := New().(plugin.Inspector).List(ctx, req)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "docs", snaps[1].Name)
	require.Equal(t, true, snaps[1].Fields["is_fork"])
}
