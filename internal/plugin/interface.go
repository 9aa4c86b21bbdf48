// Package plugin defines the contract every resource kind implements and the
// registry that wires kinds to each other.
package plugin

import (
	"context"
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
)

// Request is everything a kind needs to reconcile one resource.
type Request struct {
	Resource *config.Resource
	Client   *devops.Client
	Project  string
	DryRun   bool
	Logger   *logger.Logger
}

// ResourceID returns the manifest id, or "" for ad-hoc CLI requests.
func (r *Request) ResourceID() string {
	if r == nil || r.Resource == nil {
		return ""
	}
	return r.Resource.ID
}

// Log returns the request logger, never nil.
func (r *Request) Log() *logger.Logger {
	if r == nil || r.Logger == nil {
		return logger.Nop()
	}
	return r.Logger
}

// Initializer lets a kind keep a reference to the registry so it can reach
// the kinds it depends on. The registry calls Init in dependency order.
type Initializer interface {
	Init(registry *Registry) error
}

// Plugin is the contract every resource kind satisfies.
type Plugin interface {
	Metadata() Metadata

	// Evaluate locates the remote resource, diffs it and computes the dry-run
	// outcome. It MUST NOT mutate remote state.
	Evaluate(ctx context.Context, req *Request) (*model.EvaluationResult, error)

	// Apply converges the resource. The engine only calls it when Evaluate
	// reported RequiresAction.
	Apply(ctx context.Context, eval *model.EvaluationResult, req *Request) (*model.ResourceResult, error)
}

// TimeoutExtender is implemented by kinds whose Apply can outlast the
// per-resource timeout, such as a run that waits for completion.
type TimeoutExtender interface {
	// ResourceTimeout returns how long Apply needs for req, or 0 when the
	// default timeout is enough.
	ResourceTimeout(req *Request) time.Duration
}

// Inspector is implemented by kinds that can be queried from the CLI.
type Inspector interface {
	Show(ctx context.Context, req *Request, nameOrID string) (*reconcile.Snapshot, error)
	List(ctx context.Context, req *Request) ([]reconcile.Snapshot, error)
}

// RepositoryResolver resolves a repository name or id within a project.
type RepositoryResolver interface {
	ResolveRepository(ctx context.Context, req *Request, nameOrID string) (devops.Ref, error)
}

// PipelineResolver resolves a pipeline (build definition) name or id.
type PipelineResolver interface {
	ResolvePipeline(ctx context.Context, req *Request, nameOrID string) (devops.Ref, error)
}
