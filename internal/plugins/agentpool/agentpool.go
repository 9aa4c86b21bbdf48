// Package agentpoolplugin reconciles organization agent pools.
package agentpoolplugin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "agent_pool"

// Params are the manifest parameters.
type Params struct {
	Name          string `yaml:"name"`
	PoolID        int    `yaml:"pool_id"`
	State         string `yaml:"state"`
	AutoProvision *bool  `yaml:"auto_provision"`
	AutoUpdate    *bool  `yaml:"auto_update"`
	PoolType      string `yaml:"pool_type"`
	Size          int    `yaml:"size"`
	IncludeAgents bool   `yaml:"include_agents"`
}

// policy: pool_type and size can only be set at creation.
var policy = reconcile.FieldPolicy{
	"pool_type": reconcile.Ignored(),
	"size":      reconcile.Ignored(),
}

type pool struct {
	ID            int    `json:"id,omitempty"`
	Name          string `json:"name"`
	Size          int    `json:"size,omitempty"`
	IsHosted      bool   `json:"isHosted"`
	PoolType      string `json:"poolType,omitempty"`
	AutoProvision bool   `json:"autoProvision"`
	AutoUpdate    bool   `json:"autoUpdate"`
	CreatedOn     string `json:"createdOn,omitempty"`
}

func (p pool) snapshot() *reconcile.Snapshot {
	return &reconcile.Snapshot{
		Kind: Kind,
		ID:   strconv.Itoa(p.ID),
		Name: p.Name,
		Fields: reconcile.Fields{
			"id":             p.ID,
			"name":           p.Name,
			"size":           p.Size,
			"is_hosted":      p.IsHosted,
			"pool_type":      p.PoolType,
			"auto_provision": p.AutoProvision,
			"auto_update":    p.AutoUpdate,
			"created_on":     p.CreatedOn,
		},
	}
}

type agent struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
}

type agentPoolPlugin struct{}

// New creates the agent pool kind.
func New() plugin.Plugin {
	return &agentPoolPlugin{}
}

var (
	_ plugin.Plugin    = (*agentPoolPlugin)(nil)
	_ plugin.Inspector = (*agentPoolPlugin)(nil)
)

func (p *agentPoolPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Organization agent pools.",
	}
}

func (p *agentPoolPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	state, err := reconcile.ParseState(params.State, reconcile.StatePresent, reconcile.StateAbsent, reconcile.StateInfo)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}

	if state == reconcile.StateInfo {
		return p.info(ctx, req, params)
	}

	if state == reconcile.StateAbsent && params.PoolID == 0 && params.Name == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("name", "pool_id or name is required", nil))
	}
	if state == reconcile.StatePresent && params.Name == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("name", "name is required", nil))
	}
	if params.PoolType != "" && params.PoolType != "automation" && params.PoolType != "deployment" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("pool_type", fmt.Sprintf("unsupported pool_type %q", params.PoolType), nil))
	}

	located, err := locate(ctx, req.Client, params.PoolID, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	var snap *reconcile.Snapshot
	if located != nil {
		snap = located.snapshot()
	}

	plan := reconcile.NewPlan(Kind, poolLabel(params), state, desired(params), snap, policy)
	return kindutil.Evaluate(ctx, req, plan, actions(req.Client, params))
}

func (p *agentPoolPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

// desired only carries what the user supplied so omitted flags never diff.
func desired(params Params) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name}
	if params.AutoProvision != nil {
		f["auto_provision"] = *params.AutoProvision
	}
	if params.AutoUpdate != nil {
		f["auto_update"] = *params.AutoUpdate
	}
	if params.PoolType != "" {
		f["pool_type"] = params.PoolType
	}
	if params.Size > 0 {
		f["size"] = params.Size
	}
	return f
}

var fieldToJSON = map[string]string{
	"name":           "name",
	"auto_provision": "autoProvision",
	"auto_update":    "autoUpdate",
}

func actions(client *devops.Client, params Params) reconcile.Actions {
	return reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			body := pool{
				Name:          params.Name,
				Size:          params.Size,
				PoolType:      params.PoolType,
				AutoProvision: kindutil.BoolOr(params.AutoProvision, false),
				AutoUpdate:    kindutil.BoolOr(params.AutoUpdate, true),
			}
			var created pool
			if err := client.Post(ctx, devops.OrgPath("distributedtask", "pools"), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			body := map[string]any{}
			for field, value := range changes.Values() {
				if key, ok := fieldToJSON[field]; ok {
					body[key] = value
				}
			}
			var updated pool
			if err := client.Patch(ctx, devops.OrgPath("distributedtask", "pools", located.ID), nil, body, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, devops.OrgPath("distributedtask", "pools", located.ID), nil)
		},
	}
}

// locate finds a pool by id when given, otherwise by exact name.
func locate(ctx context.Context, client *devops.Client, id int, name string) (*pool, error) {
	if id > 0 {
		var found pool
		ok, err := client.GetOptional(ctx, devops.OrgPath("distributedtask", "pools", strconv.Itoa(id)), nil, &found)
		if err != nil || !ok {
			return nil, err
		}
		return &found, nil
	}

	pools, err := devops.List[pool](ctx, client, devops.Request{
		Path:  devops.OrgPath("distributedtask", "pools"),
		Query: url.Values{"poolName": {name}},
	})
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if pools[i].Name == name {
			return &pools[i], nil
		}
	}
	return nil, nil
}

func (p *agentPoolPlugin) info(ctx context.Context, req *plugin.Request, params Params) (*model.EvaluationResult, error) {
	rec := reconcile.Record{Kind: Kind, Name: params.Name, Action: reconcile.ActionUnchanged}

	if params.PoolID == 0 && params.Name == "" {
		pools, err := p.List(ctx, req)
		if err != nil {
			return nil, plugin.NewStateError(req.ResourceID(), err)
		}
		items := make([]map[string]any, 0, len(pools))
		for _, s := range pools {
			items = append(items, s.Fields)
		}
		rec.Resource = map[string]any{"count": len(items), "pools": items}
		return kindutil.Action(req, model.StatusSatisfied, false, fmt.Sprintf("%d agent pools", len(items)), rec, nil), nil
	}

	found, err := locate(ctx, req.Client, params.PoolID, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	if found == nil {
		return nil, devopserrors.NewNotFoundError(Kind, poolLabel(params), "")
	}
	snap := found.snapshot()
	rec.ID, rec.Name, rec.Resource = snap.ID, snap.Name, snap.Fields.Clone()

	if params.IncludeAgents {
		agents, err := devops.List[agent](ctx, req.Client, devops.Request{
			Path: devops.OrgPath("distributedtask", "pools", snap.ID, "agents"),
		})
		if err != nil {
			return nil, plugin.NewStateError(req.ResourceID(), err)
		}
		rec.Resource["agents"] = agents
	}
	return kindutil.Action(req, model.StatusSatisfied, false, fmt.Sprintf("agent pool %q", snap.Name), rec, nil), nil
}

func poolLabel(params Params) string {
	if params.PoolID > 0 {
		return strconv.Itoa(params.PoolID)
	}
	return params.Name
}

// Show locates one pool by numeric id or name.
func (p *agentPoolPlugin) Show(ctx context.Context, req *plugin.Request, nameOrID string) (*reconcile.Snapshot, error) {
	id, _ := strconv.Atoi(nameOrID)
	found, err := locate(ctx, req.Client, id, nameOrID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, devopserrors.NewNotFoundError(Kind, nameOrID, "")
	}
	return found.snapshot(), nil
}

// List returns every pool in the organization.
func (p *agentPoolPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	pools, err := devops.List[pool](ctx, req.Client, devops.Request{Path: devops.OrgPath("distributedtask", "pools")})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(pools))
	for _, item := range pools {
		out = append(out, *item.snapshot())
	}
	return out, nil
}
