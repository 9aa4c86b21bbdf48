package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

// Verify evaluates every enabled resource without mutating anything. A
// resource whose dependency is missing, blocked or unknown is reported as
// blocked. Validation errors abort the run; other failures make the resource
// unknown.
func (x *Executor) Verify(ctx context.Context, ec *ExecutionContext, resources []config.Resource) (*model.VerificationSummary, error) {
	if ec == nil || ec.Registry == nil {
		return nil, fmt.Errorf("execution context requires a registry")
	}
	plan, err := x.Plan(resources)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	summary := &model.VerificationSummary{}
	statuses := make(map[string]model.VerificationStatus)

	for _, level := range plan.Levels {
		for _, id := range level.ResourceIDs {
			if err := ctx.Err(); err != nil {
				summary.Duration = time.Since(started)
				return summary, err
			}
			node := plan.graph.Nodes[id]
			result, err := x.verifyResource(ctx, ec, node, statuses)
			if err != nil {
				summary.Add(result)
				summary.Duration = time.Since(started)
				return summary, err
			}
			statuses[id] = result.Status
			summary.Add(result)
			if ec.OnComplete != nil {
				ec.OnComplete(model.ResourceResult{
					ResourceID: result.ResourceID,
					Kind:       result.Kind,
					Status:     string(result.Status),
					Message:    result.Message,
					Error:      result.Error,
					Duration:   result.Duration,
					Timestamp:  result.Timestamp,
				})
			}
		}
	}

	summary.Duration = time.Since(started)
	return summary, nil
}

func (x *Executor) verifyResource(ctx context.Context, ec *ExecutionContext, node *Node, statuses map[string]model.VerificationStatus) (model.VerificationResult, error) {
	res := node.Resource
	started := time.Now()
	result := model.VerificationResult{ResourceID: res.ID, Kind: res.Kind}
	finish := func() model.VerificationResult {
		result.Duration = time.Since(started)
		result.Timestamp = time.Now()
		return result
	}

	for _, dep := range node.DependsOn {
		switch statuses[dep.ID] {
		case model.StatusMissing, model.StatusBlocked, model.StatusUnknown:
			result.Status = model.StatusBlocked
			result.Message = fmt.Sprintf("blocked by %s (%s)", dep.ID, statuses[dep.ID])
			return finish(), nil
		}
	}

	impl, err := ec.Registry.Get(res.Kind)
	if err != nil {
		result.Status = model.StatusBlocked
		result.Message = err.Error()
		result.Error = err
		return finish(), nil
	}

	rctx := ctx
	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}
	req := ec.request(res)
	req.DryRun = true
	rctx = logger.IntoContext(rctx, req.Logger)

	eval, err := impl.Evaluate(rctx, req)
	if err != nil {
		result.Error = err
		result.Message = err.Error()
		var validationErr *plugin.ValidationError
		if errors.As(err, &validationErr) {
			result.Status = model.StatusBlocked
			return finish(), err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			result.Message = "timeout exceeded"
		}
		result.Status = model.StatusUnknown
		req.Log().Warn("verification failed: " + err.Error())
		return finish(), nil
	}

	result.Status = eval.CurrentState
	if !result.Status.IsValid() {
		result.Status = model.StatusUnknown
	}
	result.Message = eval.Message
	result.Details = eval.Diff
	return finish(), nil
}
