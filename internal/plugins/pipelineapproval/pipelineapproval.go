// Package pipelineapprovalplugin queries and decides pending pipeline
// approvals.
package pipelineapprovalplugin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "pipeline_approval"

const statusPending = "pending"

// Params are the manifest parameters.
type Params struct {
	BuildID    int    `yaml:"build_id"`
	ApprovalID string `yaml:"approval_id"`
	State      string `yaml:"state"`
	Comment    string `yaml:"comment"`
}

// Approval is a pipeline approval.
type Approval struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	Instructions         string `json:"instructions"`
	CreatedOn            string `json:"createdOn"`
	MinRequiredApprovers int    `json:"minRequiredApprovers"`
	Pipeline             struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Owner struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"pipeline"`
}

func (a Approval) fields() map[string]any {
	minApprovers := a.MinRequiredApprovers
	if minApprovers == 0 {
		minApprovers = 1
	}
	return map[string]any{
		"id":                     a.ID,
		"status":                 a.Status,
		"pipeline_id":            a.Pipeline.ID,
		"pipeline_name":          a.Pipeline.Name,
		"build_id":               a.Pipeline.Owner.ID,
		"build_name":             a.Pipeline.Owner.Name,
		"instructions":           a.Instructions,
		"created_on":             a.CreatedOn,
		"min_required_approvers": minApprovers,
	}
}

type decision struct {
	ApprovalID string `json:"approvalId"`
	Status     string `json:"status"`
	Comment    string `json:"comment"`
}

type pendingDecision struct {
	approvals []Approval
	status    string
	comment   string
}

type approvalPlugin struct{}

// New creates the pipeline_approval kind.
func New() plugin.Plugin {
	return &approvalPlugin{}
}

var _ plugin.Plugin = (*approvalPlugin)(nil)

func (p *approvalPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Query, approve or reject pending pipeline approvals.",
	}
}

func (p *approvalPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	if params.State == "" {
		params.State = string(reconcile.StateQuery)
	}
	state, err := reconcile.ParseState(params.State, reconcile.StateQuery, reconcile.StateApprove, reconcile.StateReject)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	if state != reconcile.StateQuery && params.BuildID == 0 {
		return nil, plugin.NewValidationError(req.ResourceID(),
			devopserrors.NewValidationError("build_id", fmt.Sprintf("build_id is required to %s", state), nil))
	}

	approvals, err := Pending(ctx, req.Client, req.Project, params.BuildID)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}

	rec := reconcile.Record{Kind: Kind, Name: fmt.Sprintf("build %d", params.BuildID), Action: reconcile.ActionUnchanged}
	if state == reconcile.StateQuery {
		rec.Name = "pending approvals"
		rec.Resource = summary(approvals)
		msg := fmt.Sprintf("%d pending approvals", len(approvals))
		return kindutil.Action(req, model.StatusSatisfied, false, msg, rec, nil), nil
	}

	if params.ApprovalID != "" {
		var matched []Approval
		for _, a := range approvals {
			if a.ID == params.ApprovalID {
				matched = append(matched, a)
			}
		}
		if len(matched) == 0 {
			return nil, plugin.NewValidationError(req.ResourceID(),
				devopserrors.NewNotFoundError("approval", params.ApprovalID, "not found or not pending"))
		}
		approvals = matched
	}

	if len(approvals) == 0 {
		rec.Resource = summary(approvals)
		return kindutil.Action(req, model.StatusSatisfied, false, "no pending approvals", rec, nil), nil
	}

	status, would := "approved", reconcile.ActionWouldApprove
	if state == reconcile.StateReject {
		status, would = "rejected", reconcile.ActionWouldReject
	}
	rec.Changed = true
	rec.Action = would
	rec.Resource = summary(approvals)
	msg := fmt.Sprintf("%d approvals would be %s", len(approvals), status)
	data := &pendingDecision{approvals: approvals, status: status, comment: params.Comment}
	return kindutil.Action(req, model.StatusDrifted, true, msg, rec, data), nil
}

func (p *approvalPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	started := time.Now()
	if eval == nil {
		var err error
		if eval, err = p.Evaluate(ctx, req); err != nil {
			return nil, err
		}
	}
	pending, ok := eval.InternalData.(*pendingDecision)
	if !ok || req.DryRun {
		return kindutil.Result(req, eval.Preview, started), nil
	}

	body := make([]decision, 0, len(pending.approvals))
	for _, a := range pending.approvals {
		body = append(body, decision{ApprovalID: a.ID, Status: pending.status, Comment: pending.comment})
	}

	rec := eval.Preview
	rec.Action = reconcile.ActionApproved
	if pending.status == "rejected" {
		rec.Action = reconcile.ActionRejected
	}

	updated, err := devops.List[Approval](ctx, req.Client, devops.Request{
		Method:     http.MethodPatch,
		Path:       approvalsPath(req.Project),
		Body:       body,
		APIVersion: devops.PreviewAPIVersion,
	})
	if err != nil {
		rec.Changed = false
		return kindutil.Failed(req, rec, err, started), plugin.NewExecutionError(req.ResourceID(), err)
	}
	rec.Changed = len(updated) > 0
	rec.Resource = summary(updated)

	req.Log().WithFields(map[string]any{"count": len(updated), "status": pending.status}).Info("approvals decided")
	return kindutil.Result(req, rec, started), nil
}

func approvalsPath(project string) string {
	return devops.ProjectPath(project, "pipelines", "approvals")
}

// Pending lists pending approvals, optionally only those of one build.
func Pending(ctx context.Context, client *devops.Client, project string, buildID int) ([]Approval, error) {
	all, err := devops.List[Approval](ctx, client, devops.Request{
		Path:       approvalsPath(project),
		APIVersion: devops.PreviewAPIVersion,
	})
	if err != nil {
		return nil, err
	}
	var out []Approval
	for _, a := range all {
		if a.Status != statusPending {
			continue
		}
		if buildID != 0 && a.Pipeline.Owner.ID != buildID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func summary(approvals []Approval) map[string]any {
	items := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		items = append(items, a.fields())
	}
	return map[string]any{"count": len(approvals), "approvals": items}
}
