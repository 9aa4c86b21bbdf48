package engine

import (
	"time"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

const (
	defaultParallel = 4
	defaultTimeout  = 300 * time.Second
	// timeoutGrace is added on top of a kind's own wait deadline so the
	// kind reports its timeout before the context expires.
	timeoutGrace = time.Minute
)

// ExecutionContext holds everything shared by the workers of one run.
type ExecutionContext struct {
	Manifest        *config.Manifest
	Registry        *plugin.Registry
	Client          *devops.Client
	Project         string
	DryRun          bool
	ContinueOnError bool
	Parallel        int
	Timeout         time.Duration
	Logger          *logger.Logger

	// OnStart and OnComplete are called from worker goroutines.
	OnStart    func(resource *config.Resource)
	OnComplete func(result model.ResourceResult)
}

// NewExecutionContext fills the context from the manifest settings. Callers
// override fields from flags afterwards.
func NewExecutionContext(m *config.Manifest, registry *plugin.Registry, client *devops.Client, log *logger.Logger) *ExecutionContext {
	ec := &ExecutionContext{
		Manifest: m,
		Registry: registry,
		Client:   client,
		Logger:   log,
		Parallel: defaultParallel,
		Timeout:  defaultTimeout,
	}
	if m != nil {
		ec.Project = m.Project
		ec.DryRun = m.Settings.DryRun
		ec.ContinueOnError = m.Settings.ContinueOnError
		if m.Settings.Parallel > 0 {
			ec.Parallel = m.Settings.Parallel
		}
		if m.Settings.Timeout > 0 {
			ec.Timeout = time.Duration(m.Settings.Timeout) * time.Second
		}
	}
	return ec
}

func (ec *ExecutionContext) log() *logger.Logger {
	if ec.Logger == nil {
		return logger.Nop()
	}
	return ec.Logger
}

// request builds the plugin request for res. A "project" parameter overrides
// the manifest project for that resource only.
func (ec *ExecutionContext) request(res *config.Resource) *plugin.Request {
	project := ec.Project
	if override := res.Param("project"); override != "" {
		project = override
		scoped := *res
		scoped.Params = make(map[string]any, len(res.Params))
		for k, v := range res.Params {
			if k != "project" {
				scoped.Params[k] = v
			}
		}
		res = &scoped
	}
	return &plugin.Request{
		Resource: res,
		Client:   ec.Client,
		Project:  project,
		DryRun:   ec.DryRun,
		Logger:   ec.log().WithFields(map[string]any{"resource": res.ID, "kind": res.Kind}),
	}
}

func (ec *ExecutionContext) started(res *config.Resource) {
	if ec.OnStart != nil {
		ec.OnStart(res)
	}
}

func (ec *ExecutionContext) completed(result model.ResourceResult) {
	if ec.OnComplete != nil {
		ec.OnComplete(result)
	}
}
