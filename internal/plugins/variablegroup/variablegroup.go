// Package variablegroupplugin reconciles library variable groups.
package variablegroupplugin

import (
	"context"
	"fmt"
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
const Kind = "variable_group"

const groupType = "Vsts"

// Params are the manifest parameters. Variables map a name to either a scalar
// or {value, is_secret}.
type Params struct {
	Name        string         `yaml:"name"`
	Description *string        `yaml:"description"`
	Variables   map[string]any `yaml:"variables"`
	State       string         `yaml:"state"`
}

// Value is one variable as the API carries it. Secret values come back null.
type Value struct {
	Value    *string `json:"value"`
	IsSecret bool    `json:"isSecret"`
}

type projectReference struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	ProjectReference devops.Ref `json:"projectReference"`
}

// Group is the remote representation.
type Group struct {
	ID                             int                `json:"id,omitempty"`
	Name                           string             `json:"name"`
	Description                    string             `json:"description"`
	Type                           string             `json:"type"`
	Variables                      map[string]Value   `json:"variables"`
	VariableGroupProjectReferences []projectReference `json:"variableGroupProjectReferences,omitempty"`
}

func (g Group) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{
		"id":          g.ID,
		"name":        g.Name,
		"description": g.Description,
		"type":        g.Type,
	}
	for name, v := range g.Variables {
		fields[variableField(name, "is_secret")] = v.IsSecret
		if !v.IsSecret {
			value := ""
			if v.Value != nil {
				value = *v.Value
			}
			fields[variableField(name, "value")] = value
		}
	}
	return &reconcile.Snapshot{Kind: Kind, ID: strconv.Itoa(g.ID), Name: g.Name, Fields: fields}
}

func variableField(name, attr string) string {
	return "variables." + name + "." + attr
}

type groupPlugin struct{}

// New creates the variable_group kind.
func New() plugin.Plugin {
	return &groupPlugin{}
}

var (
	_ plugin.Plugin    = (*groupPlugin)(nil)
	_ plugin.Inspector = (*groupPlugin)(nil)
)

func (p *groupPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Library variable groups with secret variables.",
	}
}

func (p *groupPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
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
	variables, err := Coerce(params.Variables)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}

	project, err := req.Client.Project(ctx, req.Project)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	existing, err := locate(ctx, req.Client, req.Project, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
	}

	plan := reconcile.NewPlan(Kind, params.Name, state, desired(params, variables), snap, Policy(variables))
	return kindutil.Evaluate(ctx, req, plan, actions(req.Client, params, variables, devops.Ref{ID: project.ID, Name: project.Name}, existing))
}

func (p *groupPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

// Coerce normalizes every manifest variable.
func Coerce(raw map[string]any) (map[string]reconcile.Variable, error) {
	out := make(map[string]reconcile.Variable, len(raw))
	for name, v := range raw {
		if strings.TrimSpace(name) == "" || strings.Contains(name, ".") {
			return nil, devopserrors.NewValidationError("variables", fmt.Sprintf("invalid variable name %q", name), nil)
		}
		coerced, err := reconcile.CoerceVariable(v)
		if err != nil {
			return nil, devopserrors.NewValidationError("variables."+name, err.Error(), err)
		}
		out[name] = coerced
	}
	return out, nil
}

// Policy marks every secret variable that carries a value as always dirty,
// since the server never returns it.
func Policy(variables map[string]reconcile.Variable) reconcile.FieldPolicy {
	policy := reconcile.FieldPolicy{}
	for name, v := range variables {
		if v.IsSecret && v.Value != "" {
			policy = policy.With(variableField(name, "value"), reconcile.Secret())
		}
	}
	return policy
}

func desired(params Params, variables map[string]reconcile.Variable) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name}
	if params.Description != nil {
		f["description"] = *params.Description
	}
	for name, v := range variables {
		f[variableField(name, "is_secret")] = v.IsSecret
		if !v.IsSecret || v.Value != "" {
			f[variableField(name, "value")] = v.Value
		}
	}
	return f
}

func groupsPath(parts ...string) string {
	return devops.OrgPath(append([]string{"distributedtask", "variablegroups"}, parts...)...)
}

func locate(ctx context.Context, client *devops.Client, project, name string) (*Group, error) {
	groups, err := devops.List[Group](ctx, client, devops.Request{
		Path:  devops.ProjectPath(project, "distributedtask", "variablegroups"),
		Query: url.Values{"groupName": {name}},
	})
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i], nil
		}
	}
	return nil, nil
}

func toValue(v reconcile.Variable) Value {
	value := v.Value
	return Value{Value: &value, IsSecret: v.IsSecret}
}

func actions(client *devops.Client, params Params, variables map[string]reconcile.Variable, project devops.Ref, existing *Group) reconcile.Actions {
	return reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			description := ""
			if params.Description != nil {
				description = *params.Description
			}
			body := Group{
				Name:        params.Name,
				Description: description,
				Type:        groupType,
				Variables:   make(map[string]Value, len(variables)),
				VariableGroupProjectReferences: []projectReference{{
					Name:             params.Name,
					Description:      description,
					ProjectReference: project,
				}},
			}
			for name, v := range variables {
				body.Variables[name] = toValue(v)
			}
			var created Group
			if err := client.Post(ctx, groupsPath(), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			merged, err := reconcile.MergeOnto(existing, func(g *Group) {
				if d, ok := changes.Get("description"); ok {
					g.Description = fmt.Sprint(d)
					for i := range g.VariableGroupProjectReferences {
						g.VariableGroupProjectReferences[i].Description = g.Description
					}
				}
				if g.Variables == nil {
					g.Variables = map[string]Value{}
				}
				for _, name := range changedVariables(changes) {
					g.Variables[name] = toValue(variables[name])
				}
				if g.Type == "" {
					g.Type = groupType
				}
			})
			if err != nil {
				return nil, err
			}
			var updated Group
			if err := client.Put(ctx, groupsPath(located.ID), nil, merged, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, groupsPath(located.ID), url.Values{"projectIds": {project.ID}})
		},
	}
}

// changedVariables lists the variable names touched by changes, sorted.
func changedVariables(changes reconcile.ChangeSet) []string {
	seen := map[string]bool{}
	for name := range changes.WithPrefix("variables") {
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Show locates one group by name.
func (p *groupPlugin) Show(ctx context.Context, req *plugin.Request, name string) (*reconcile.Snapshot, error) {
	g, err := locate(ctx, req.Client, req.Project, name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, devopserrors.NewNotFoundError(Kind, name, "")
	}
	return g.snapshot(), nil
}

// List returns every group in the project.
func (p *groupPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	groups, err := devops.List[Group](ctx, req.Client, devops.Request{Path: devops.ProjectPath(req.Project, "distributedtask", "variablegroups")})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g.snapshot())
	}
	return out, nil
}
