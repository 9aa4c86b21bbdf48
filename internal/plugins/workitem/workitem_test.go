package workitemplugin

import (
	"context"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops/devopstest"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

func request(t *testing.T, params map[string]any) *plugin.Request {
	t.Helper()
	return &plugin.Request{
		Resource: kindutil.Params("bug", Kind, params),
		Client:   devopstest.NewClient(t),
		Project:  "web",
	}
}

func itemJSON(fields map[string]any) map[string]any {
	base := map[string]any{
		"System.WorkItemType":            "Bug",
		"System.Title":                   "Login fails",
		"System.State":                   "Active",
		"System.AssignedTo":              map[string]any{"displayName": "Jane Doe", "uniqueName": "jane@contoso.com"},
		"System.Tags":                    "auth; web",
		"Microsoft.VSTS.Common.Priority": float64(2),
	}
	for k, v := range fields {
		base[k] = v
	}
	return map[string]any{"id": 42, "rev": 3, "fields": base, "url": devopstest.Org + "/_apis/wit/workItems/42"}
}

func TestWorkItemMetadata(t *testing.T) {
	t.Parallel()

	meta := New().Metadata()
	require.Equal(t, Kind, meta.Name)
	require.NoError(t, meta.Validate())
}

func TestPatchDocumentJoinsTags(t *testing.T) {
	t.Parallel()

	ops := PatchDocument(Desired(Params{Title: "t", Tags: []string{"a", "b"}, Priority: kindutil.Ptr(1)}))
	require.Len(t, ops, 3)
	require.Equal(t, "/fields/Microsoft.VSTS.Common.Priority", ops[0].Path)
	require.Equal(t, "/fields/System.Tags", ops[1].Path)
	require.Equal(t, "a; b", ops[1].Value)
	require.Equal(t, "add", ops[2].Op)
}

func TestWorkItemCreateLinksParent(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{
		"work_item_type": "Bug",
		"title":          "Login fails",
		"tags":           []any{"auth", "web"},
		"parent_id":      7,
	})

	gock.New(devopstest.Org).
		Post("/web/_apis/wit/workitems/\\$Bug$").
		MatchHeader("Content-Type", "application/json-patch\\+json").
		AddMatcher(devopstest.MatchJSON([]any{
			map[string]any{"op": "add", "path": "/fields/System.Tags", "value": "auth; web"},
			map[string]any{"op": "add", "path": "/fields/System.Title", "value": "Login fails"},
			map[string]any{"op": "add", "path": "/relations/-", "value": map[string]any{
				"rel": "System.LinkTypes.Hierarchy-Reverse",
				"url": devopstest.Org + "/web/_apis/wit/workItems/7",
			}},
		})).
		Reply(200).
		JSON(itemJSON(nil))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusMissing, eval.CurrentState)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionCreated, res.Record.Action)
	require.Equal(t, "42", res.Record.ID)
	require.Equal(t, "jane@contoso.com", res.Record.Resource[FieldAssignedTo])
	devopstest.AssertDone(t)
}

func TestWorkItemUpdateSendsOnlyDifferences(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{
		"id":              42,
		"title":           "Login fails",
		"assigned_to":     "JANE@contoso.com",
		"tags":            []any{"web", "auth"},
		"priority":        2,
		"work_item_state": "Resolved",
	})

	gock.New(devopstest.Org).
		Get("/web/_apis/wit/workitems/42$").
		Reply(200).
		JSON(itemJSON(nil))
	gock.New(devopstest.Org).
		Patch("/web/_apis/wit/workitems/42$").
		AddMatcher(devopstest.MatchJSON([]any{
			map[string]any{"op": "add", "path": "/fields/System.State", "value": "Resolved"},
		})).
		Reply(200).
		JSON(itemJSON(map[string]any{"System.State": "Resolved"}))

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, model.StatusDrifted, eval.CurrentState)
	require.Len(t, eval.Preview.Changes, 1)

	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionUpdated, res.Record.Action)
	require.Equal(t, "Resolved", res.Record.Resource["work_item_state"])
	devopstest.AssertDone(t)
}

func TestWorkItemMissingIDIsNotFound(t *testing.T) {
	req := request(t, map[string]any{"id": 99, "title": "x"})

	gock.New(devopstest.Org).
		Get("/web/_apis/wit/workitems/99$").
		Reply(404)

	_, err := New().Evaluate(context.Background(), req)
	var notFound *devopserrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestWorkItemSoftDelete(t *testing.T) {
	ctx := context.Background()
	req := request(t, map[string]any{"id": 42, "state": "absent"})

	gock.New(devopstest.Org).
		Get("/web/_apis/wit/workitems/42$").
		Reply(200).
		JSON(itemJSON(nil))
	gock.New(devopstest.Org).
		Delete("/web/_apis/wit/workitems/42$").
		MatchParam("destroy", "^false$").
		Reply(200)

	p := New()
	eval, err := p.Evaluate(ctx, req)
	require.NoError(t, err)
	res, err := p.Apply(ctx, eval, req)
	require.NoError(t, err)
	require.Equal(t, reconcile.ActionDeleted, res.Record.Action)
	devopstest.AssertDone(t)
}

func TestWorkItemValidation(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"absent needs id", map[string]any{"state": "absent"}, "id"},
		{"create needs type", map[string]any{"title": "x"}, "work_item_type"},
		{"create needs title", map[string]any{"work_item_type": "Task"}, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Evaluate(context.Background(), request(t, tt.params))
			var validationErr *devopserrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tt.field, validationErr.Field)
		})
	}
}
