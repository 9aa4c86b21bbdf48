package reconcile

import (
	"context"
	"fmt"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Action names what a converge did, or would do in dry-run.
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionDeleted     Action = "deleted"
	ActionUnchanged   Action = "unchanged"
	ActionAbsent      Action = "absent"
	ActionWouldCreate Action = "would_create"
	ActionWouldUpdate Action = "would_update"
	ActionWouldDelete Action = "would_delete"

	// Imperative states (run, approve, reject) report these.
	ActionQueued       Action = "queued"
	ActionWouldRun     Action = "would_run"
	ActionApproved     Action = "approved"
	ActionWouldApprove Action = "would_approve"
	ActionRejected     Action = "rejected"
	ActionWouldReject  Action = "would_reject"
)

// WouldBeCreated is the synthetic state reported for dry-run creations.
const WouldBeCreated = "would_be_created"

// Plan is everything the converger needs for one resource.
type Plan struct {
	Kind    string
	Name    string
	Target  State
	Desired Fields
	Located *Snapshot
	Changes ChangeSet
	Policy  FieldPolicy
}

// NewPlan diffs desired against the located snapshot.
func NewPlan(kind, name string, target State, desired Fields, located *Snapshot, policy FieldPolicy) Plan {
	var actual Fields
	if located != nil {
		actual = located.Fields
		if actual == nil {
			actual = Fields{}
		}
	}
	p := Plan{Kind: kind, Name: name, Target: target, Desired: desired, Located: located, Policy: policy}
	if target == StatePresent {
		p.Changes = Diff(desired, actual, policy)
	}
	return p
}

// RequiresAction reports whether converging the plan mutates anything.
func (p Plan) RequiresAction() bool {
	switch p.Target {
	case StateAbsent:
		return p.Located != nil
	case StatePresent:
		return p.Located == nil || !p.Changes.Empty()
	}
	return false
}

// Actions are the mutating calls a kind provides to the converger.
type Actions struct {
	Create func(ctx context.Context, desired Fields) (*Snapshot, error)
	Update func(ctx context.Context, located *Snapshot, changes ChangeSet) (*Snapshot, error)
	Delete func(ctx context.Context, located *Snapshot) error
}

// Outcome is the result of one converge.
type Outcome struct {
	Kind     string
	Name     string
	Changed  bool
	Action   Action
	Resource *Snapshot
	Changes  ChangeSet
	Err      error
}

// Converge issues at most one mutating call for the plan. In dry-run no call
// is made and the outcome describes exactly what would be sent.
func Converge(ctx context.Context, plan Plan, actions Actions, dryRun bool) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch plan.Target {
	case StateAbsent:
		out, err = convergeAbsent(ctx, plan, actions, dryRun)
	case StatePresent:
		out, err = convergePresent(ctx, plan, actions, dryRun)
	default:
		err = devopserrors.NewValidationError("state", fmt.Sprintf("%s cannot converge state %q", plan.Kind, plan.Target), nil)
		out.Err = err
	}
	out.Kind, out.Name = plan.Kind, plan.Name
	return out, err
}

func convergePresent(ctx context.Context, plan Plan, actions Actions, dryRun bool) (Outcome, error) {
	if plan.Located == nil {
		changes := plan.Changes
		if dryRun {
			fields := plan.Desired.Clone()
			fields["state"] = WouldBeCreated
			return Outcome{
				Changed:  true,
				Action:   ActionWouldCreate,
				Resource: &Snapshot{Kind: plan.Kind, Name: plan.Name, Fields: fields},
				Changes:  changes,
			}, nil
		}
		if actions.Create == nil {
			return Outcome{}, devopserrors.NewValidationError("state", fmt.Sprintf("%s does not support create", plan.Kind), nil)
		}
		created, err := actions.Create(ctx, plan.Desired)
		if err != nil {
			return Outcome{Err: err}, err
		}
		return Outcome{Changed: true, Action: ActionCreated, Resource: created, Changes: changes}, nil
	}

	if plan.Changes.Empty() {
		return Outcome{Action: ActionUnchanged, Resource: plan.Located}, nil
	}

	if actions.Update == nil {
		return Outcome{}, devopserrors.NewValidationError("state", fmt.Sprintf("%s %q differs but the kind does not support update (fields: %v)", plan.Kind, plan.Name, plan.Changes.Fields()), nil)
	}

	if dryRun {
		preview := &Snapshot{Kind: plan.Located.Kind, ID: plan.Located.ID, Name: plan.Located.Name, Fields: plan.Located.Fields.Clone()}
		if preview.Fields == nil {
			preview.Fields = Fields{}
		}
		for _, ch := range plan.Changes.Changes {
			preview.Fields[ch.Field] = ch.To
		}
		return Outcome{Changed: true, Action: ActionWouldUpdate, Resource: preview, Changes: plan.Changes}, nil
	}

	updated, err := actions.Update(ctx, plan.Located, plan.Changes)
	if err != nil {
		return Outcome{Err: err}, err
	}
	return Outcome{Changed: true, Action: ActionUpdated, Resource: updated, Changes: plan.Changes}, nil
}

func convergeAbsent(ctx context.Context, plan Plan, actions Actions, dryRun bool) (Outcome, error) {
	if plan.Located == nil {
		return Outcome{Action: ActionAbsent}, nil
	}
	if dryRun {
		return Outcome{Changed: true, Action: ActionWouldDelete, Resource: plan.Located}, nil
	}
	if actions.Delete == nil {
		return Outcome{}, devopserrors.NewValidationError("state", fmt.Sprintf("%s does not support delete", plan.Kind), nil)
	}
	if err := actions.Delete(ctx, plan.Located); err != nil {
		return Outcome{Err: err}, err
	}
	return Outcome{Changed: true, Action: ActionDeleted, Resource: plan.Located}, nil
}
