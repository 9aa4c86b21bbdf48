// Package environmentplugin reconciles deployment environments together with
// their approval check and pipeline permissions.
package environmentplugin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "environment"

const (
	approvalCheckType = "Approval"
	defaultTimeout    = 43200
	resourceType      = "environment"
)

// Params are the manifest parameters.
type Params struct {
	Name                 string   `yaml:"name"`
	Description          *string  `yaml:"description"`
	State                string   `yaml:"state"`
	Approvers            []string `yaml:"approvers"`
	MinRequiredApprovers *int     `yaml:"min_required_approvers"`
	Instructions         string   `yaml:"instructions"`
	Timeout              int      `yaml:"timeout"`
	PipelinePermissions  []string `yaml:"pipeline_permissions"`
}

// Environment is the remote representation.
type Environment struct {
	ID             int    `json:"id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CreatedOn      string `json:"createdOn,omitempty"`
	LastModifiedOn string `json:"lastModifiedOn,omitempty"`
}

func (e Environment) snapshot() *reconcile.Snapshot {
	return &reconcile.Snapshot{
		Kind: Kind,
		ID:   strconv.Itoa(e.ID),
		Name: e.Name,
		Fields: reconcile.Fields{
			"id":               e.ID,
			"name":             e.Name,
			"description":      e.Description,
			"created_on":       e.CreatedOn,
			"last_modified_on": e.LastModifiedOn,
		},
	}
}

// Check is a pipeline check configuration.
type Check struct {
	ID       int            `json:"id,omitempty"`
	Version  int            `json:"version,omitempty"`
	Type     checkType      `json:"type"`
	Settings map[string]any `json:"settings"`
	Resource checkResource  `json:"resource"`
	Timeout  int            `json:"timeout"`
}

type checkType struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type checkResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (c Check) snapshot() *reconcile.Snapshot {
	var approvers []string
	if raw, ok := c.Settings["approvers"].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				if id, ok := m["id"].(string); ok {
					approvers = append(approvers, strings.ToLower(id))
				}
			}
		}
	}
	sort.Strings(approvers)
	fields := reconcile.Fields{
		"id":        c.ID,
		"approvers": approvers,
		"timeout":   c.Timeout,
	}
	if n, ok := c.Settings["minRequiredApprovers"].(float64); ok {
		fields["min_required_approvers"] = int(n)
	}
	if s, ok := c.Settings["instructions"].(string); ok {
		fields["instructions"] = s
	}
	return &reconcile.Snapshot{Kind: "environment_approval", ID: strconv.Itoa(c.ID), Name: approvalCheckType, Fields: fields}
}

type pipelinePermission struct {
	ID         int  `json:"id"`
	Authorized bool `json:"authorized"`
}

type permissions struct {
	Pipelines []pipelinePermission `json:"pipelines"`
}

type environmentPlugin struct {
	pipelines plugin.PipelineResolver
}

// New creates the environment kind.
func New() plugin.Plugin {
	return &environmentPlugin{}
}

var (
	_ plugin.Plugin      = (*environmentPlugin)(nil)
	_ plugin.Initializer = (*environmentPlugin)(nil)
	_ plugin.Inspector   = (*environmentPlugin)(nil)
)

func (p *environmentPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         Kind,
		Version:      "1.0.0",
		APIVersion:   "^1.0",
		Dependencies: []plugin.Dependency{{Name: "pipeline", Constraint: "^1.0"}},
		Description:  "Deployment environments, approval checks and pipeline permissions.",
	}
}

func (p *environmentPlugin) Init(registry *plugin.Registry) error {
	pipelines, err := plugin.Resolve[plugin.PipelineResolver](registry, Kind, "pipeline")
	if err != nil {
		return err
	}
	p.pipelines = pipelines
	return nil
}

func (p *environmentPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("name", "name is required", nil))
	}
	state, err := reconcile.ParseState(params.State)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	if params.Timeout <= 0 {
		params.Timeout = defaultTimeout
	}

	if _, err := req.Client.Project(ctx, req.Project); err != nil {
		if devopserrors.IsNotFound(err) {
			return nil, plugin.NewValidationError(req.ResourceID(), err)
		}
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}

	existing, err := locate(ctx, req.Client, req.Project, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}

	envID := new(string)
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
		*envID = snap.ID
	}

	steps := []kindutil.Step{{
		Plan:    reconcile.NewPlan(Kind, params.Name, state, desired(params), snap, nil),
		Actions: actions(req, params, envID),
	}}

	if state == reconcile.StatePresent && len(params.Approvers) > 0 {
		step, err := approvalStep(ctx, req, params, envID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if state == reconcile.StatePresent && len(params.PipelinePermissions) > 0 {
		step, err := p.permissionStep(ctx, req, params, envID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return kindutil.EvaluateSteps(ctx, req, steps...)
}

func (p *environmentPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func desired(params Params) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name}
	if params.Description != nil {
		f["description"] = *params.Description
	}
	return f
}

func environmentsPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"distributedtask", "environments"}, parts...)...)
}

func locate(ctx context.Context, client *devops.Client, project, name string) (*Environment, error) {
	envs, err := devops.List[Environment](ctx, client, devops.Request{
		Path:  environmentsPath(project),
		Query: url.Values{"name": {name}},
	})
	if err != nil {
		return nil, err
	}
	for i := range envs {
		if envs[i].Name == name {
			return &envs[i], nil
		}
	}
	return nil, nil
}

func actions(req *plugin.Request, params Params, envID *string) reconcile.Actions {
	client := req.Client
	return reconcile.Actions{
		Create: func(ctx context.Context, desired reconcile.Fields) (*reconcile.Snapshot, error) {
			body := Environment{Name: params.Name}
			if params.Description != nil {
				body.Description = *params.Description
			}
			var created Environment
			if err := client.Post(ctx, environmentsPath(req.Project), nil, body, &created); err != nil {
				return nil, err
			}
			*envID = strconv.Itoa(created.ID)
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			body := map[string]any{}
			if v, ok := changes.Get("description"); ok {
				body["description"] = v
			}
			var updated Environment
			if err := client.Patch(ctx, environmentsPath(req.Project, located.ID), nil, body, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, environmentsPath(req.Project, located.ID), nil)
		},
	}
}

// ResolveApprover passes UUIDs through and looks everything else up as an
// account name or mail address.
func ResolveApprover(ctx context.Context, client *devops.Client, approver string) (string, error) {
	if id, err := uuid.Parse(approver); err == nil {
		return id.String(), nil
	}
	return client.FindIdentity(ctx, approver)
}

func checksPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"pipelines", "checks", "configurations"}, parts...)...)
}

func approvalCheck(ctx context.Context, client *devops.Client, project, envID string) (*Check, error) {
	checks, err := devops.List[Check](ctx, client, devops.Request{
		Path:       checksPath(project),
		Query:      url.Values{"resourceType": {resourceType}, "resourceId": {envID}, "$expand": {"settings"}},
		APIVersion: devops.PreviewAPIVersion,
	})
	if err != nil {
		return nil, err
	}
	for i := range checks {
		if checks[i].Type.Name == approvalCheckType {
			return &checks[i], nil
		}
	}
	return nil, nil
}

func approvalSettings(ids []string, fields map[string]any, base map[string]any) map[string]any {
	settings := map[string]any{}
	for k, v := range base {
		settings[k] = v
	}
	approvers := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		approvers = append(approvers, map[string]any{"id": id})
	}
	settings["approvers"] = approvers
	settings["minRequiredApprovers"] = fields["min_required_approvers"]
	settings["instructions"] = fields["instructions"]
	if _, ok := settings["executionOrder"]; !ok {
		settings["executionOrder"] = 1
	}
	if _, ok := settings["blockedApprovers"]; !ok {
		settings["blockedApprovers"] = []any{}
	}
	if _, ok := settings["requesterCannotBeApprover"]; !ok {
		settings["requesterCannotBeApprover"] = false
	}
	return settings
}

func approvalStep(ctx context.Context, req *plugin.Request, params Params, envID *string) (kindutil.Step, error) {
	ids := make([]string, 0, len(params.Approvers))
	for _, approver := range params.Approvers {
		id, err := ResolveApprover(ctx, req.Client, approver)
		if err != nil {
			if devopserrors.IsNotFound(err) {
				return kindutil.Step{}, plugin.NewValidationError(req.ResourceID(), err)
			}
			return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), err)
		}
		ids = append(ids, strings.ToLower(id))
	}
	sort.Strings(ids)

	minApprovers := 1
	if params.MinRequiredApprovers != nil {
		minApprovers = *params.MinRequiredApprovers
	}
	if minApprovers < 0 || minApprovers > len(ids) {
		return kindutil.Step{}, plugin.NewValidationError(req.ResourceID(),
			devopserrors.NewValidationError("min_required_approvers", fmt.Sprintf("must be between 0 and %d", len(ids)), nil))
	}

	want := reconcile.Fields{
		"approvers":              ids,
		"min_required_approvers": minApprovers,
		"instructions":           params.Instructions,
		"timeout":                params.Timeout,
	}

	var (
		existing *Check
		located  *reconcile.Snapshot
	)
	if *envID != "" {
		check, err := approvalCheck(ctx, req.Client, req.Project, *envID)
		if err != nil {
			return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), err)
		}
		if check != nil {
			existing, located = check, check.snapshot()
		}
	}

	client := req.Client
	return kindutil.Step{
		Field: "approval",
		Plan:  reconcile.NewPlan("environment_approval", approvalCheckType, reconcile.StatePresent, want, located, nil),
		Actions: reconcile.Actions{
			Create: func(ctx context.Context, desired reconcile.Fields) (*reconcile.Snapshot, error) {
				body := Check{
					Type:     checkType{Name: approvalCheckType},
					Settings: approvalSettings(ids, desired, nil),
					Resource: checkResource{Type: resourceType, ID: *envID},
					Timeout:  params.Timeout,
				}
				var created Check
				if err := client.Do(ctx, devops.Request{
					Method:     http.MethodPost,
					Path:       checksPath(req.Project),
					Body:       body,
					APIVersion: devops.PreviewAPIVersion,
				}, &created); err != nil {
					return nil, err
				}
				return created.snapshot(), nil
			},
			Update: func(ctx context.Context, located *reconcile.Snapshot, _ reconcile.ChangeSet) (*reconcile.Snapshot, error) {
				merged, err := reconcile.MergeOnto(existing, func(c *Check) {
					c.Settings = approvalSettings(ids, want, c.Settings)
					c.Timeout = params.Timeout
				})
				if err != nil {
					return nil, err
				}
				var updated Check
				if err := client.Do(ctx, devops.Request{
					Method:     http.MethodPut,
					Path:       checksPath(req.Project, located.ID),
					Body:       merged,
					APIVersion: devops.PreviewAPIVersion,
				}, &updated); err != nil {
					return nil, err
				}
				return updated.snapshot(), nil
			},
		},
	}, nil
}

func permissionsPath(project, envID string) string {
	return devops.ProjectPath(project, "pipelines", "pipelinePermissions", resourceType, envID)
}

// permissionStep grants the listed pipelines access. Pipelines authorized
// outside the manifest are left alone.
func (p *environmentPlugin) permissionStep(ctx context.Context, req *plugin.Request, params Params, envID *string) (kindutil.Step, error) {
	if p.pipelines == nil {
		return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), fmt.Errorf("pipeline kind is not available"))
	}
	wanted := make([]int, 0, len(params.PipelinePermissions))
	for _, ref := range params.PipelinePermissions {
		resolved, err := p.pipelines.ResolvePipeline(ctx, req, ref)
		if err != nil {
			return kindutil.Step{}, plugin.NewValidationError(req.ResourceID(), err)
		}
		id, err := kindutil.Int("pipeline_permissions", resolved.ID)
		if err != nil {
			return kindutil.Step{}, plugin.NewValidationError(req.ResourceID(), err)
		}
		wanted = append(wanted, id)
	}
	sort.Ints(wanted)

	var located *reconcile.Snapshot
	if *envID != "" {
		var current permissions
		if err := req.Client.Do(ctx, devops.Request{
			Method:     http.MethodGet,
			Path:       permissionsPath(req.Project, *envID),
			APIVersion: devops.PreviewAPIVersion,
		}, &current); err != nil {
			return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), err)
		}
		located = permissionSnapshot(wanted, current)
	}

	client := req.Client
	grant := func(ctx context.Context, ids []int) (*reconcile.Snapshot, error) {
		body := permissions{}
		for _, id := range ids {
			body.Pipelines = append(body.Pipelines, pipelinePermission{ID: id, Authorized: true})
		}
		var out permissions
		if err := client.Do(ctx, devops.Request{
			Method:     http.MethodPatch,
			Path:       permissionsPath(req.Project, *envID),
			Body:       body,
			APIVersion: devops.PreviewAPIVersion,
		}, &out); err != nil {
			return nil, err
		}
		return permissionSnapshot(wanted, out), nil
	}

	return kindutil.Step{
		Field: "pipeline_permissions",
		Plan:  reconcile.NewPlan("environment_permissions", params.Name, reconcile.StatePresent, reconcile.Fields{"authorized": wanted}, located, nil),
		Actions: reconcile.Actions{
			Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
				return grant(ctx, wanted)
			},
			Update: func(ctx context.Context, located *reconcile.Snapshot, _ reconcile.ChangeSet) (*reconcile.Snapshot, error) {
				have, _ := located.Fields["authorized"].([]int)
				return grant(ctx, missing(wanted, have))
			},
		},
	}, nil
}

// permissionSnapshot reports which of the wanted pipelines are authorized.
func permissionSnapshot(wanted []int, current permissions) *reconcile.Snapshot {
	authorized := map[int]bool{}
	for _, p := range current.Pipelines {
		if p.Authorized {
			authorized[p.ID] = true
		}
	}
	have := []int{}
	for _, id := range wanted {
		if authorized[id] {
			have = append(have, id)
		}
	}
	return &reconcile.Snapshot{Kind: "environment_permissions", Fields: reconcile.Fields{"authorized": have}}
}

func missing(wanted, have []int) []int {
	set := map[int]bool{}
	for _, id := range have {
		set[id] = true
	}
	var out []int
	for _, id := range wanted {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

// Show locates one environment by name.
func (p *environmentPlugin) Show(ctx context.Context, req *plugin.Request, name string) (*reconcile.Snapshot, error) {
	env, err := locate(ctx, req.Client, req.Project, name)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, devopserrors.NewNotFoundError(Kind, name, "")
	}
	return env.snapshot(), nil
}

// List returns every environment in the project.
func (p *environmentPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	envs, err := devops.List[Environment](ctx, req.Client, devops.Request{Path: environmentsPath(req.Project)})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(envs))
	for _, e := range envs {
		out = append(out, *e.snapshot())
	}
	return out, nil
}
