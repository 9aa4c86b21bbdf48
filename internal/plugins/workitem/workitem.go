// Package workitemplugin creates and updates work items through JSON patch
// documents.
package workitemplugin

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "work_item"

// Field reference names.
const (
	FieldTitle              = "System.Title"
	FieldDescription        = "System.Description"
	FieldState              = "System.State"
	FieldAssignedTo         = "System.AssignedTo"
	FieldAreaPath           = "System.AreaPath"
	FieldIterationPath      = "System.IterationPath"
	FieldTags               = "System.Tags"
	FieldType               = "System.WorkItemType"
	FieldPriority           = "Microsoft.VSTS.Common.Priority"
	FieldSeverity           = "Microsoft.VSTS.Common.Severity"
	FieldAcceptanceCriteria = "Microsoft.VSTS.Common.AcceptanceCriteria"

	parentRelation = "System.LinkTypes.Hierarchy-Reverse"
	tagSeparator   = "; "
)

// Params are the manifest parameters.
type Params struct {
	ID                 int            `yaml:"id"`
	WorkItemType       string         `yaml:"work_item_type"`
	Title              string         `yaml:"title"`
	Description        *string        `yaml:"description"`
	State              string         `yaml:"state"`
	WorkItemState      string         `yaml:"work_item_state"`
	AssignedTo         string         `yaml:"assigned_to"`
	AreaPath           string         `yaml:"area_path"`
	IterationPath      string         `yaml:"iteration_path"`
	Tags               []string       `yaml:"tags"`
	Priority           *int           `yaml:"priority"`
	Severity           string         `yaml:"severity"`
	AcceptanceCriteria string         `yaml:"acceptance_criteria"`
	ParentID           int            `yaml:"parent_id"`
	CustomFields       map[string]any `yaml:"custom_fields"`
}

// WorkItem is the remote representation.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	Fields map[string]any `json:"fields"`
	URL    string         `json:"url"`
}

func (w WorkItem) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{"id": w.ID, "rev": w.Rev, "url": w.URL}
	for ref, v := range w.Fields {
		fields[ref] = remoteValue(v)
	}
	fields["type"] = fields[FieldType]
	fields["title"] = fields[FieldTitle]
	fields["work_item_state"] = fields[FieldState]
	title, _ := fields[FieldTitle].(string)
	return &reconcile.Snapshot{Kind: Kind, ID: strconv.Itoa(w.ID), Name: title, Fields: fields}
}

// remoteValue flattens identity objects to their unique name and whole
// numbers to int so they compare against manifest values.
func remoteValue(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < math.MaxInt32 {
			return int(t)
		}
	case map[string]any:
		if name, ok := t["uniqueName"].(string); ok {
			return name
		}
		if name, ok := t["displayName"].(string); ok {
			return name
		}
	}
	return v
}

var policy = reconcile.FieldPolicy{
	FieldAssignedTo: reconcile.Normalized(reconcile.FoldCase),
	FieldTags:       reconcile.Normalized(normalizeTags),
}

// normalizeTags sorts a "; " separated tag list.
func normalizeTags(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var tags []string
	for _, tag := range strings.Split(s, ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, strings.ToLower(tag))
		}
	}
	sort.Strings(tags)
	return strings.Join(tags, tagSeparator)
}

type workItemPlugin struct{}

// New creates the work_item kind.
func New() plugin.Plugin {
	return &workItemPlugin{}
}

var (
	_ plugin.Plugin    = (*workItemPlugin)(nil)
	_ plugin.Inspector = (*workItemPlugin)(nil)
)

func (p *workItemPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Work items (bugs, stories, tasks) with parent links.",
	}
}

func (p *workItemPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	state, err := reconcile.ParseState(params.State)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}

	var existing *WorkItem
	switch {
	case state == reconcile.StateAbsent && params.ID == 0:
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("id", "id is required when state is absent", nil))
	case params.ID != 0:
		existing, err = get(ctx, req.Client, req.Project, params.ID)
		if err != nil {
			return nil, plugin.NewStateError(req.ResourceID(), err)
		}
		if existing == nil && state == reconcile.StatePresent {
			return nil, plugin.NewStateError(req.ResourceID(), devopserrors.NewNotFoundError(Kind, strconv.Itoa(params.ID), ""))
		}
	default:
		if params.WorkItemType == "" {
			return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("work_item_type", "work_item_type is required when creating a work item", nil))
		}
		if params.Title == "" {
			return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("title", "title is required when creating a work item", nil))
		}
	}

	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
	}
	plan := reconcile.NewPlan(Kind, label(params), state, Desired(params), snap, policy)
	return kindutil.Evaluate(ctx, req, plan, actions(req, params))
}

func (p *workItemPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func label(params Params) string {
	if params.ID != 0 {
		return "#" + strconv.Itoa(params.ID)
	}
	return params.Title
}

// Desired maps the supplied parameters onto field reference names.
func Desired(params Params) reconcile.Fields {
	f := reconcile.Fields{}
	set := func(ref, value string) {
		if value != "" {
			f[ref] = value
		}
	}
	set(FieldTitle, params.Title)
	if params.Description != nil {
		f[FieldDescription] = *params.Description
	}
	set(FieldState, params.WorkItemState)
	set(FieldAssignedTo, params.AssignedTo)
	set(FieldAreaPath, params.AreaPath)
	set(FieldIterationPath, params.IterationPath)
	if len(params.Tags) > 0 {
		f[FieldTags] = strings.Join(params.Tags, tagSeparator)
	}
	if params.Priority != nil {
		f[FieldPriority] = *params.Priority
	}
	set(FieldSeverity, params.Severity)
	set(FieldAcceptanceCriteria, params.AcceptanceCriteria)
	for ref, v := range params.CustomFields {
		f[ref] = v
	}
	return f
}

// PatchDocument builds add operations for fields in sorted order.
func PatchDocument(fields reconcile.Fields) []devops.PatchOperation {
	ops := make([]devops.PatchOperation, 0, len(fields))
	for _, ref := range fields.Keys() {
		ops = append(ops, devops.PatchOperation{Op: "add", Path: "/fields/" + ref, Value: fields[ref]})
	}
	return ops
}

func parentLink(client *devops.Client, project string, parentID int) devops.PatchOperation {
	target := fmt.Sprintf("%s/%s/_apis/wit/workItems/%d", client.Organization(), url.PathEscape(project), parentID)
	return devops.PatchOperation{
		Op:    "add",
		Path:  "/relations/-",
		Value: map[string]any{"rel": parentRelation, "url": target},
	}
}

func itemPath(project string, id string) string {
	return devops.ProjectPath(project, "wit", "workitems", id)
}

func get(ctx context.Context, client *devops.Client, project string, id int) (*WorkItem, error) {
	var item WorkItem
	found, err := client.GetOptional(ctx, itemPath(project, strconv.Itoa(id)), nil, &item)
	if err != nil || !found {
		return nil, err
	}
	return &item, nil
}

func actions(req *plugin.Request, params Params) reconcile.Actions {
	client := req.Client
	return reconcile.Actions{
		Create: func(ctx context.Context, desired reconcile.Fields) (*reconcile.Snapshot, error) {
			ops := PatchDocument(desired)
			if params.ParentID != 0 {
				ops = append(ops, parentLink(client, req.Project, params.ParentID))
			}
			if len(ops) == 0 {
				return nil, devopserrors.NewValidationError("fields", "at least one field is required to create a work item", nil)
			}
			var created WorkItem
			if err := client.PatchDocument(ctx, http.MethodPost, itemPath(req.Project, "$"+params.WorkItemType), nil, ops, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			ops := PatchDocument(reconcile.Fields(changes.Values()))
			var updated WorkItem
			if err := client.PatchDocument(ctx, http.MethodPatch, itemPath(req.Project, located.ID), nil, ops, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, itemPath(req.Project, located.ID), url.Values{"destroy": {"false"}})
		},
	}
}

// Show fetches one work item by numeric id.
func (p *workItemPlugin) Show(ctx context.Context, req *plugin.Request, id string) (*reconcile.Snapshot, error) {
	n, err := kindutil.Int("id", strings.TrimPrefix(id, "#"))
	if err != nil {
		return nil, err
	}
	item, err := get(ctx, req.Client, req.Project, n)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, devopserrors.NewNotFoundError(Kind, id, "")
	}
	return item.snapshot(), nil
}

type wiqlResult struct {
	WorkItems []struct {
		ID int `json:"id"`
	} `json:"workItems"`
}

// listLimit caps the batch fetch; the batch endpoint accepts at most 200 ids.
const listLimit = 200

// List returns the most recently changed work items in the project.
func (p *workItemPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	query := map[string]string{
		"query": "SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = @project ORDER BY [System.ChangedDate] DESC",
	}
	var found wiqlResult
	if err := req.Client.Post(ctx, devops.ProjectPath(req.Project, "wit", "wiql"), url.Values{"$top": {strconv.Itoa(listLimit)}}, query, &found); err != nil {
		return nil, err
	}
	if len(found.WorkItems) == 0 {
		return []reconcile.Snapshot{}, nil
	}
	ids := make([]string, 0, len(found.WorkItems))
	for _, w := range found.WorkItems {
		ids = append(ids, strconv.Itoa(w.ID))
	}
	items, err := devops.List[WorkItem](ctx, req.Client, devops.Request{
		Path:  devops.ProjectPath(req.Project, "wit", "workitems"),
		Query: url.Values{"ids": {strings.Join(ids, ",")}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(items))
	for _, item := range items {
		out = append(out, *item.snapshot())
	}
	return out, nil
}
