package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

// fakeKind reports drift for resources whose "state" param is "drifted",
// fails for "broken" and sleeps for "slow". "waits" applies for 100ms and
// asks for a 200ms deadline.
type fakeKind struct {
	mu       sync.Mutex
	applied  []string
	projects map[string]string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeKind) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: "fake", Version: "1.0.0", APIVersion: ">=1.0.0"}
}

func (f *fakeKind) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	f.mu.Lock()
	if f.projects == nil {
		f.projects = map[string]string{}
	}
	f.projects[req.ResourceID()] = req.Project
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	switch req.Resource.Param("state") {
	case "broken":
		return nil, plugin.NewStateError(req.ResourceID(), fmt.Errorf("boom"))
	case "invalid":
		return nil, plugin.NewValidationError(req.ResourceID(), fmt.Errorf("bad params"))
	case "slow":
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, plugin.NewStateError(req.ResourceID(), ctx.Err())
		}
	case "missing":
		return &model.EvaluationResult{
			ResourceID:     req.ResourceID(),
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        "does not exist",
			Preview:        reconcile.Record{Kind: "fake", Name: req.ResourceID(), Changed: true, Action: reconcile.ActionWouldCreate},
		}, nil
	case "drifted", "fail_apply", "waits":
		return &model.EvaluationResult{
			ResourceID:     req.ResourceID(),
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        "differs",
			Diff:           "-a\n+b\n",
			Preview:        reconcile.Record{Kind: "fake", Name: req.ResourceID(), Changed: true, Action: reconcile.ActionWouldUpdate},
		}, nil
	}
	return &model.EvaluationResult{
		ResourceID:   req.ResourceID(),
		CurrentState: model.StatusSatisfied,
		Message:      "up to date",
		Preview:      reconcile.Record{Kind: "fake", Name: req.ResourceID(), Action: reconcile.ActionUnchanged},
	}, nil
}

func (f *fakeKind) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	switch req.Resource.Param("state") {
	case "fail_apply":
		return nil, plugin.NewExecutionError(req.ResourceID(), fmt.Errorf("server said no"))
	case "waits":
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, plugin.NewExecutionError(req.ResourceID(), ctx.Err())
		}
	}
	f.mu.Lock()
	f.applied = append(f.applied, req.ResourceID())
	f.mu.Unlock()
	rec := eval.Preview
	rec.Action = reconcile.ActionUpdated
	return &model.ResourceResult{ResourceID: req.ResourceID(), Kind: "fake", Status: model.StatusSuccess, Record: rec}, nil
}

func (f *fakeKind) ResourceTimeout(req *plugin.Request) time.Duration {
	if req.Resource.Param("state") == "waits" {
		return 200 * time.Millisecond
	}
	return 0
}

func (f *fakeKind) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func newTestContext(t *testing.T) (*ExecutionContext, *fakeKind) {
	t.Helper()
	kind := &fakeKind{}
	reg := plugin.NewRegistry(&plugin.RegistryConfig{DependencyPolicy: plugin.PolicyStrict, AccessPolicy: plugin.AccessStrict}, nil)
	require.NoError(t, reg.Register(kind))
	require.NoError(t, reg.ValidateDependencies())
	require.NoError(t, reg.InitializePlugins())

	ec := NewExecutionContext(&config.Manifest{Project: "web"}, reg, nil, nil)
	return ec, kind
}

func res(id, state string, deps ...string) config.Resource {
	return config.Resource{
		ID:        id,
		Kind:      "fake",
		DependsOn: deps,
		Enabled:   true,
		Params:    map[string]any{"state": state},
	}
}

func statuses(results []model.ResourceResult) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.ResourceID] = r.Status
	}
	return out
}
