package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

// Executor reconciles manifest resources level by level.
type Executor struct{}

// NewExecutor returns an executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Plan builds the execution plan for resources.
func (x *Executor) Plan(resources []config.Resource) (*ExecutionPlan, error) {
	graph, err := BuildDAG(resources)
	if err != nil {
		return nil, err
	}
	return GeneratePlan(graph)
}

// Apply evaluates every enabled resource and converges those that need it.
// Results come back in plan order. The returned error is the first resource
// failure, or nil when every resource succeeded.
func (x *Executor) Apply(ctx context.Context, ec *ExecutionContext, resources []config.Resource) (*Report, error) {
	if ec == nil || ec.Registry == nil {
		return nil, fmt.Errorf("execution context requires a registry")
	}
	plan, err := x.Plan(resources)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	report := &Report{DryRun: ec.DryRun}
	failed := make(map[string]bool)
	var firstErr error
	stopped := false

	for _, level := range plan.Levels {
		results := make([]model.ResourceResult, len(level.ResourceIDs))

		if stopped {
			for i, id := range level.ResourceIDs {
				results[i] = x.skip(ec, plan.graph.Nodes[id].Resource, "not run: execution stopped after a failure")
			}
			report.Results = append(report.Results, results...)
			continue
		}

		var (
			g    *errgroup.Group
			gctx = ctx
		)
		if ec.ContinueOnError {
			g = &errgroup.Group{}
		} else {
			g, gctx = errgroup.WithContext(ctx)
		}
		parallel := ec.Parallel
		if parallel <= 0 {
			parallel = defaultParallel
		}
		g.SetLimit(parallel)

		var mu sync.Mutex
		for i, id := range level.ResourceIDs {
			node := plan.graph.Nodes[id]
			if dep := failedDependency(node, failed); dep != "" {
				results[i] = x.skip(ec, node.Resource, fmt.Sprintf("dependency %q failed", dep))
				failed[id] = true
				continue
			}

			g.Go(func() error {
				result := x.reconcile(gctx, ec, node.Resource)
				mu.Lock()
				results[i] = result
				mu.Unlock()
				if result.Status == model.StatusFailed {
					return result.Error
				}
				return nil
			})
		}

		levelErr := g.Wait()
		for i, id := range level.ResourceIDs {
			if results[i].Status == model.StatusFailed {
				failed[id] = true
				if firstErr == nil {
					firstErr = results[i].Error
				}
			}
		}
		if firstErr == nil && levelErr != nil {
			firstErr = levelErr
		}
		report.Results = append(report.Results, results...)

		if ctx.Err() != nil || (levelErr != nil && !ec.ContinueOnError) {
			stopped = true
		}
	}

	report.Duration = time.Since(started)
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	return report, firstErr
}

func failedDependency(node *Node, failed map[string]bool) string {
	for _, dep := range node.DependsOn {
		if failed[dep.ID] {
			return dep.ID
		}
	}
	return ""
}

func (x *Executor) skip(ec *ExecutionContext, res *config.Resource, msg string) model.ResourceResult {
	result := model.ResourceResult{
		ResourceID: res.ID,
		Kind:       res.Kind,
		Status:     model.StatusSkipped,
		Message:    msg,
		Timestamp:  time.Now(),
	}
	ec.completed(result)
	return result
}

// reconcile evaluates one resource and applies it when needed.
func (x *Executor) reconcile(ctx context.Context, ec *ExecutionContext, res *config.Resource) model.ResourceResult {
	ec.started(res)
	started := time.Now()

	result := x.run(ctx, ec, res)
	if result.ResourceID == "" {
		result.ResourceID = res.ID
	}
	if result.Kind == "" {
		result.Kind = res.Kind
	}
	result.Duration = time.Since(started)
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	log := ec.log().WithFields(map[string]any{
		"resource": res.ID,
		"kind":     res.Kind,
		"status":   result.Status,
		"duration": result.Duration.String(),
	})
	if result.Status == model.StatusFailed {
		log.Error(result.Error, "resource failed")
	} else {
		log.Info(result.Message)
	}

	ec.completed(result)
	return result
}

func (x *Executor) run(ctx context.Context, ec *ExecutionContext, res *config.Resource) model.ResourceResult {
	if err := ctx.Err(); err != nil {
		return failure(res, err, ctx)
	}

	impl, err := ec.Registry.Get(res.Kind)
	if err != nil {
		return failure(res, plugin.NewValidationError(res.ID, err), ctx)
	}

	req := ec.request(res)
	rctx := ctx
	if timeout := resourceTimeout(impl, req, ec.Timeout); timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rctx = logger.IntoContext(rctx, req.Logger)

	eval, err := impl.Evaluate(rctx, req)
	if err != nil {
		return failure(res, err, rctx)
	}

	if ec.DryRun || !eval.RequiresAction {
		status := model.StatusSkipped
		if eval.RequiresAction {
			status = model.StatusForAction(eval.Preview.Action)
		}
		return model.ResourceResult{
			ResourceID: res.ID,
			Kind:       res.Kind,
			Status:     status,
			Message:    eval.Message,
			Record:     eval.Preview,
		}
	}

	out, err := impl.Apply(rctx, eval, req)
	if err != nil {
		result := failure(res, err, rctx)
		if out != nil {
			result.Record = out.Record
		}
		return result
	}
	if out == nil {
		return model.ResourceResult{ResourceID: res.ID, Kind: res.Kind, Status: model.StatusSuccess, Message: "completed"}
	}
	if out.Status == "" {
		out.Status = model.StatusSuccess
	}
	return *out
}

// resourceTimeout widens timeout so a kind that waits on remote work gets
// its own deadline plus timeoutGrace. A zero timeout stays unbounded.
func resourceTimeout(impl plugin.Plugin, req *plugin.Request, timeout time.Duration) time.Duration {
	ext, ok := impl.(plugin.TimeoutExtender)
	if !ok || timeout <= 0 {
		return timeout
	}
	if need := ext.ResourceTimeout(req); need > 0 && need+timeoutGrace > timeout {
		return need + timeoutGrace
	}
	return timeout
}

func failure(res *config.Resource, err error, ctx context.Context) model.ResourceResult {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "timeout exceeded"
	} else if errors.Is(err, context.Canceled) {
		msg = "canceled"
	}
	return model.ResourceResult{
		ResourceID: res.ID,
		Kind:       res.Kind,
		Status:     model.StatusFailed,
		Message:    strings.TrimSpace(msg),
		Error:      err,
	}
}
