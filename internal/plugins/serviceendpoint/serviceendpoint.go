// Package serviceendpointplugin reconciles service connections.
package serviceendpointplugin

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "service_endpoint"

const (
	defaultType     = "generic"
	authParamPrefix = "authorization.parameters."
	dataPrefix      = "data."
)

var endpointTypes = []string{"azurerm", "github", "dockerregistry", "generic", "kubernetes"}

// secretKeys are authorization parameters the server never returns. They are
// compared case-insensitively.
var secretKeys = map[string]bool{
	"password":            true,
	"accesstoken":         true,
	"serviceprincipalkey": true,
	"token":               true,
	"apitoken":            true,
}

// IsSecretKey reports whether an authorization parameter is write-only.
func IsSecretKey(key string) bool {
	return secretKeys[strings.ToLower(key)]
}

// Params are the manifest parameters.
type Params struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	URL           string            `yaml:"url"`
	Description   *string           `yaml:"description"`
	Authorization *Authorization    `yaml:"authorization"`
	Data          map[string]string `yaml:"data"`
	State         string            `yaml:"state"`
}

// Authorization is the endpoint credential.
type Authorization struct {
	Scheme     string            `yaml:"scheme" json:"scheme"`
	Parameters map[string]string `yaml:"parameters" json:"parameters,omitempty"`
}

type projectReference struct {
	ProjectReference devops.Ref `json:"projectReference"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
}

// Endpoint is the remote representation.
type Endpoint struct {
	ID                               string             `json:"id,omitempty"`
	Name                             string             `json:"name"`
	Type                             string             `json:"type"`
	URL                              string             `json:"url,omitempty"`
	Description                      string             `json:"description"`
	Authorization                    *Authorization     `json:"authorization,omitempty"`
	Data                             map[string]string  `json:"data,omitempty"`
	IsReady                          bool               `json:"isReady,omitempty"`
	IsShared                         bool               `json:"isShared,omitempty"`
	Owner                            string             `json:"owner,omitempty"`
	ServiceEndpointProjectReferences []projectReference `json:"serviceEndpointProjectReferences,omitempty"`
}

func (e Endpoint) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{
		"id":          e.ID,
		"name":        e.Name,
		"type":        e.Type,
		"url":         e.URL,
		"description": e.Description,
		"is_ready":    e.IsReady,
		"is_shared":   e.IsShared,
		"owner":       e.Owner,
	}
	if e.Authorization != nil {
		fields["authorization.scheme"] = e.Authorization.Scheme
		for k, v := range e.Authorization.Parameters {
			if !IsSecretKey(k) {
				fields[authParamPrefix+k] = v
			}
		}
	}
	for k, v := range e.Data {
		fields[dataPrefix+k] = v
	}
	return &reconcile.Snapshot{Kind: Kind, ID: e.ID, Name: e.Name, Fields: fields}
}

type endpointPlugin struct{}

// New creates the service_endpoint kind.
func New() plugin.Plugin {
	return &endpointPlugin{}
}

var (
	_ plugin.Plugin    = (*endpointPlugin)(nil)
	_ plugin.Inspector = (*endpointPlugin)(nil)
)

func (p *endpointPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Service connections with write-only credentials.",
	}
}

func (p *endpointPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
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
	if params.Type == "" {
		params.Type = defaultType
	}
	if !validType(params.Type) {
		return nil, plugin.NewValidationError(req.ResourceID(),
			devopserrors.NewValidationError("type", fmt.Sprintf("unsupported type %q (supported: %s)", params.Type, strings.Join(endpointTypes, ", ")), nil))
	}
	state, err := reconcile.ParseState(params.State)
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

	plan := reconcile.NewPlan(Kind, params.Name, state, desired(params), snap, Policy(params))
	return kindutil.Evaluate(ctx, req, plan, actions(req, params, devops.Ref{ID: project.ID, Name: project.Name}, existing))
}

func (p *endpointPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func validType(t string) bool {
	for _, known := range endpointTypes {
		if strings.EqualFold(t, known) {
			return true
		}
	}
	return false
}

// Policy builds the field policy for the supplied parameters: secret
// authorization keys are always dirty, type is case-insensitive.
func Policy(params Params) reconcile.FieldPolicy {
	policy := reconcile.FieldPolicy{"type": reconcile.Normalized(reconcile.FoldCase)}
	if params.Authorization != nil {
		for k := range params.Authorization.Parameters {
			if IsSecretKey(k) {
				policy = policy.With(authParamPrefix+k, reconcile.Secret())
			}
		}
	}
	return policy
}

func desired(params Params) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name, "type": params.Type}
	if params.URL != "" {
		f["url"] = params.URL
	}
	if params.Description != nil {
		f["description"] = *params.Description
	}
	if auth := params.Authorization; auth != nil {
		if auth.Scheme != "" {
			f["authorization.scheme"] = auth.Scheme
		}
		for k, v := range auth.Parameters {
			f[authParamPrefix+k] = v
		}
	}
	for k, v := range params.Data {
		f[dataPrefix+k] = v
	}
	return f
}

func endpointsPath(parts ...string) string {
	return devops.OrgPath(append([]string{"serviceendpoint", "endpoints"}, parts...)...)
}

func locate(ctx context.Context, client *devops.Client, project, name string) (*Endpoint, error) {
	endpoints, err := devops.List[Endpoint](ctx, client, devops.Request{
		Path:  devops.ProjectPath(project, "serviceendpoint", "endpoints"),
		Query: url.Values{"endpointNames": {name}},
	})
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		if endpoints[i].Name == name {
			return &endpoints[i], nil
		}
	}
	return nil, nil
}

func actions(req *plugin.Request, params Params, project devops.Ref, existing *Endpoint) reconcile.Actions {
	client := req.Client
	return reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			description := ""
			if params.Description != nil {
				description = *params.Description
			}
			auth := params.Authorization
			if auth == nil {
				auth = &Authorization{Scheme: "None"}
			}
			body := Endpoint{
				Name:          params.Name,
				Type:          params.Type,
				URL:           params.URL,
				Description:   description,
				Authorization: auth,
				Data:          params.Data,
				ServiceEndpointProjectReferences: []projectReference{{
					ProjectReference: project,
					Name:             params.Name,
					Description:      description,
				}},
			}
			var created Endpoint
			if err := client.Post(ctx, endpointsPath(), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			merged, err := reconcile.MergeOnto(existing, func(e *Endpoint) {
				mergeChanges(e, changes)
			})
			if err != nil {
				return nil, err
			}
			var updated Endpoint
			if err := client.Put(ctx, endpointsPath(located.ID), nil, merged, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, endpointsPath(located.ID), url.Values{"projectIds": {project.ID}})
		},
	}
}

// mergeChanges writes the changed fields into e. Keys not in the change set
// keep their remote value.
func mergeChanges(e *Endpoint, changes reconcile.ChangeSet) {
	for field, value := range changes.Values() {
		s := fmt.Sprint(value)
		switch {
		case field == "type":
			e.Type = s
		case field == "url":
			e.URL = s
		case field == "description":
			e.Description = s
			for i := range e.ServiceEndpointProjectReferences {
				e.ServiceEndpointProjectReferences[i].Description = s
			}
		case field == "authorization.scheme":
			if e.Authorization == nil {
				e.Authorization = &Authorization{}
			}
			e.Authorization.Scheme = s
		case strings.HasPrefix(field, authParamPrefix):
			if e.Authorization == nil {
				e.Authorization = &Authorization{}
			}
			if e.Authorization.Parameters == nil {
				e.Authorization.Parameters = map[string]string{}
			}
			e.Authorization.Parameters[strings.TrimPrefix(field, authParamPrefix)] = s
		case strings.HasPrefix(field, dataPrefix):
			if e.Data == nil {
				e.Data = map[string]string{}
			}
			e.Data[strings.TrimPrefix(field, dataPrefix)] = s
		}
	}
}

// Show locates one endpoint by name.
func (p *endpointPlugin) Show(ctx context.Context, req *plugin.Request, name string) (*reconcile.Snapshot, error) {
	e, err := locate(ctx, req.Client, req.Project, name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, devopserrors.NewNotFoundError(Kind, name, "")
	}
	return e.snapshot(), nil
}

// List returns every endpoint in the project.
func (p *endpointPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	endpoints, err := devops.List[Endpoint](ctx, req.Client, devops.Request{Path: devops.ProjectPath(req.Project, "serviceendpoint", "endpoints")})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, *e.snapshot())
	}
	return out, nil
}
