// Package kindutil converts between the reconcile core and the plugin
// contract so each kind only supplies locate, normalize and the mutating
// calls.
package kindutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Step is one plan of a resource. Kinds with a sub-resource (a repository
// branch) evaluate more than one; Field names the key the sub-resource is
// reported under.
type Step struct {
	Plan    reconcile.Plan
	Actions reconcile.Actions
	Field   string
}

// Pending is the evaluation state handed from Evaluate to Apply.
type Pending struct {
	Steps []Step
}

// Decode decodes the resource params into out and wraps failures.
func Decode(req *plugin.Request, out any) error {
	if req == nil || req.Resource == nil {
		return plugin.NewValidationError("", fmt.Errorf("resource is required"))
	}
	if err := req.Resource.DecodeParams(out); err != nil {
		return plugin.NewValidationError(req.Resource.ID, err)
	}
	return nil
}

// RequireProject fails when the request has no project.
func RequireProject(req *plugin.Request) error {
	if req.Project == "" {
		return plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("project", "project is required for this kind", nil))
	}
	return nil
}

// Evaluate runs the converger in dry-run over plan and packages the preview.
func Evaluate(ctx context.Context, req *plugin.Request, plan reconcile.Plan, actions reconcile.Actions) (*model.EvaluationResult, error) {
	return EvaluateSteps(ctx, req, Step{Plan: plan, Actions: actions})
}

// EvaluateSteps is Evaluate for a resource made of several plans. The first
// step is the primary resource.
func EvaluateSteps(ctx context.Context, req *plugin.Request, steps ...Step) (*model.EvaluationResult, error) {
	records := make([]reconcile.Record, 0, len(steps))
	var diffs, messages []string
	requiresAction := false
	for _, step := range steps {
		out, err := reconcile.Converge(ctx, step.Plan, step.Actions, true)
		if err != nil {
			return nil, plugin.NewValidationError(req.ResourceID(), err)
		}
		records = append(records, reconcile.Report(out, step.Plan.Policy))
		if d := step.Plan.Changes.Render(); d != "" {
			diffs = append(diffs, d)
		}
		messages = append(messages, describe(step.Plan, out))
		requiresAction = requiresAction || step.Plan.RequiresAction()
	}

	return &model.EvaluationResult{
		ResourceID:     req.ResourceID(),
		CurrentState:   currentState(steps),
		RequiresAction: requiresAction,
		Message:        strings.Join(messages, "; "),
		Diff:           strings.Join(diffs, ""),
		Preview:        combine(steps, records, true),
		InternalData:   &Pending{Steps: steps},
	}, nil
}

// combine folds sub-resource records into the primary one.
func combine(steps []Step, records []reconcile.Record, dryRun bool) reconcile.Record {
	rec := records[0]
	for i := 1; i < len(records); i++ {
		sub := records[i]
		field := steps[i].Field
		if sub.Changed && !rec.Changed {
			rec.Action = reconcile.ActionUpdated
			if dryRun {
				rec.Action = reconcile.ActionWouldUpdate
			}
		}
		rec.Changed = rec.Changed || sub.Changed
		if rec.Resource == nil {
			rec.Resource = map[string]any{}
		}
		detail := map[string]any{"action": string(sub.Action)}
		for k, v := range sub.Resource {
			detail[k] = v
		}
		rec.Resource[field] = detail
		for _, ch := range sub.Changes {
			ch.Field = field + "." + ch.Field
			rec.Changes = append(rec.Changes, ch)
		}
		if rec.Error == "" {
			rec.Error = sub.Error
		}
	}
	return rec
}

func currentState(steps []Step) model.VerificationStatus {
	primary := steps[0].Plan
	if primary.Target == reconcile.StatePresent && primary.Located == nil {
		return model.StatusMissing
	}
	for _, step := range steps {
		if step.Plan.RequiresAction() {
			return model.StatusDrifted
		}
	}
	return model.StatusSatisfied
}

func describe(plan reconcile.Plan, out reconcile.Outcome) string {
	switch out.Action {
	case reconcile.ActionWouldCreate:
		return fmt.Sprintf("%s %q does not exist", plan.Kind, plan.Name)
	case reconcile.ActionWouldUpdate:
		return fmt.Sprintf("%s %q differs in %v", plan.Kind, plan.Name, plan.Changes.Fields())
	case reconcile.ActionWouldDelete:
		return fmt.Sprintf("%s %q exists and should be absent", plan.Kind, plan.Name)
	case reconcile.ActionAbsent:
		return fmt.Sprintf("%s %q is absent", plan.Kind, plan.Name)
	default:
		return fmt.Sprintf("%s %q is up to date", plan.Kind, plan.Name)
	}
}

// Apply converges the plan stored by Evaluate. When eval does not carry one
// the kind's evaluate func is called again.
func Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request, evaluate func(context.Context, *plugin.Request) (*model.EvaluationResult, error)) (*model.ResourceResult, error) {
	started := time.Now()

	if eval != nil && !eval.RequiresAction {
		return Result(req, eval.Preview, started), nil
	}

	pending, ok := pendingOf(eval)
	if !ok {
		var err error
		if eval, err = evaluate(ctx, req); err != nil {
			return nil, err
		}
		if pending, ok = pendingOf(eval); !ok {
			return nil, plugin.NewExecutionError(req.ResourceID(), fmt.Errorf("evaluation carried no plan"))
		}
	}

	records := make([]reconcile.Record, 0, len(pending.Steps))
	var failure error
	for _, step := range pending.Steps {
		out, err := reconcile.Converge(ctx, step.Plan, step.Actions, req.DryRun)
		records = append(records, reconcile.Report(out, step.Plan.Policy))
		if err != nil {
			failure = err
			break
		}
	}
	for len(records) < len(pending.Steps) {
		records = append(records, reconcile.Record{Kind: pending.Steps[len(records)].Plan.Kind})
	}
	rec := combine(pending.Steps, records, req.DryRun)
	if failure != nil {
		return Failed(req, rec, failure, started), plugin.NewExecutionError(req.ResourceID(), failure)
	}

	req.Log().WithFields(map[string]any{
		"kind":    rec.Kind,
		"name":    rec.Name,
		"action":  string(rec.Action),
		"changed": rec.Changed,
	}).Info("converged")

	return Result(req, rec, started), nil
}

func pendingOf(eval *model.EvaluationResult) (*Pending, bool) {
	if eval == nil {
		return nil, false
	}
	p, ok := eval.InternalData.(*Pending)
	return p, ok && p != nil && len(p.Steps) > 0
}

// Result wraps a successful record.
func Result(req *plugin.Request, rec reconcile.Record, started time.Time) *model.ResourceResult {
	return &model.ResourceResult{
		ResourceID: req.ResourceID(),
		Kind:       rec.Kind,
		Status:     model.StatusForAction(rec.Action),
		Message:    fmt.Sprintf("%s %s", rec.Action, rec.Name),
		Record:     rec,
		Duration:   time.Since(started),
		Timestamp:  time.Now(),
	}
}

// Failed wraps a failed record.
func Failed(req *plugin.Request, rec reconcile.Record, err error, started time.Time) *model.ResourceResult {
	if rec.Error == "" && err != nil {
		rec.Error = err.Error()
	}
	return &model.ResourceResult{
		ResourceID: req.ResourceID(),
		Kind:       rec.Kind,
		Status:     model.StatusFailed,
		Message:    rec.Error,
		Record:     rec,
		Error:      err,
		Duration:   time.Since(started),
		Timestamp:  time.Now(),
	}
}

// Action packages an evaluation for the imperative states (run, approve,
// info). Apply is expected to re-run the work with DryRun false.
func Action(req *plugin.Request, state model.VerificationStatus, requiresAction bool, message string, preview reconcile.Record, data any) *model.EvaluationResult {
	return &model.EvaluationResult{
		ResourceID:     req.ResourceID(),
		CurrentState:   state,
		RequiresAction: requiresAction,
		Message:        message,
		Preview:        preview,
		InternalData:   data,
	}
}

// Params is a convenience for tests and the CLI: it wraps ad-hoc parameters
// into a resource.
func Params(id, kind string, params map[string]any) *config.Resource {
	return &config.Resource{ID: id, Kind: kind, Enabled: true, Params: params}
}

// Int parses a numeric id string, reporting a validation error on failure.
func Int(field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, devopserrors.NewValidationError(field, fmt.Sprintf("%q is not a numeric id", raw), err)
	}
	return n, nil
}

// BoolOr dereferences b or returns def.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
