// Package pipelineplugin reconciles YAML build definitions and queues runs.
package pipelineplugin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "pipeline"

const (
	defaultFolder       = `\`
	defaultBranch       = "main"
	defaultRepoType     = "azureReposGit"
	defaultWaitTimeout  = 600
	defaultPollInterval = 5
	hostedQueueName     = "Azure Pipelines"
	yamlProcessType     = 2
)

// terminalStatuses end a wait_for_completion poll.
var terminalStatuses = map[string]bool{
	"completed":  true,
	"cancelling": true,
	"postponed":  true,
	"notStarted": true,
}

var repoTypes = map[string]string{
	"azurereposgit":     "TfsGit",
	"tfsgit":            "TfsGit",
	"github":            "GitHub",
	"tfsversioncontrol": "TfsVersionControl",
}

// Params are the manifest parameters.
type Params struct {
	Name               string         `yaml:"name"`
	Folder             string         `yaml:"folder"`
	Repository         string         `yaml:"repository"`
	RepositoryType     string         `yaml:"repository_type"`
	YAMLPath           string         `yaml:"yaml_path"`
	DefaultBranch      string         `yaml:"default_branch"`
	State              string         `yaml:"state"`
	Branch             string         `yaml:"branch"`
	Variables          map[string]any `yaml:"variables"`
	TemplateParameters map[string]any `yaml:"template_parameters"`
	WaitForCompletion  bool           `yaml:"wait_for_completion"`
	WaitTimeout        int            `yaml:"wait_timeout"`
	PollInterval       int            `yaml:"poll_interval"`
}

func (p *Params) defaults() {
	if p.Folder == "" {
		p.Folder = defaultFolder
	}
	if p.DefaultBranch == "" {
		p.DefaultBranch = defaultBranch
	}
	if p.RepositoryType == "" {
		p.RepositoryType = defaultRepoType
	}
	if p.WaitTimeout <= 0 {
		p.WaitTimeout = defaultWaitTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultPollInterval
	}
}

// RepositoryType maps a manifest repository type onto the build API name.
// Unknown values pass through unchanged.
func RepositoryType(raw string) string {
	if mapped, ok := repoTypes[strings.ToLower(raw)]; ok {
		return mapped
	}
	return raw
}

var policy = reconcile.FieldPolicy{
	"folder": reconcile.Ignored(),
}

type buildRepository struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Type          string `json:"type"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
}

type yamlProcess struct {
	YAMLFilename string `json:"yamlFilename"`
	Type         int    `json:"type"`
}

type queueRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Definition is a build definition as returned by the API.
type Definition struct {
	ID          int              `json:"id,omitempty"`
	Name        string           `json:"name"`
	Path        string           `json:"path"`
	Type        string           `json:"type,omitempty"`
	Revision    int              `json:"revision,omitempty"`
	URL         string           `json:"url,omitempty"`
	QueueStatus string           `json:"queueStatus,omitempty"`
	Repository  *buildRepository `json:"repository,omitempty"`
	Process     *yamlProcess     `json:"process,omitempty"`
	Queue       *queueRef        `json:"queue,omitempty"`
}

func (d Definition) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{
		"id":           d.ID,
		"name":         d.Name,
		"folder":       d.Path,
		"revision":     d.Revision,
		"url":          d.URL,
		"queue_status": d.QueueStatus,
	}
	if d.Repository != nil {
		fields["repository"] = d.Repository.Name
		fields["repository_id"] = d.Repository.ID
		fields["repository_type"] = d.Repository.Type
		fields["default_branch"] = d.Repository.DefaultBranch
	}
	if d.Process != nil {
		fields["yaml_path"] = d.Process.YAMLFilename
	}
	return &reconcile.Snapshot{Kind: Kind, ID: strconv.Itoa(d.ID), Name: d.Name, Fields: fields}
}

// Build is a queued run.
type Build struct {
	ID           int    `json:"id"`
	BuildNumber  string `json:"buildNumber"`
	Status       string `json:"status"`
	Result       string `json:"result"`
	SourceBranch string `json:"sourceBranch"`
	URL          string `json:"url"`
	Links        struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

func (b Build) fields() map[string]any {
	return map[string]any{
		"id":            b.ID,
		"name":          b.BuildNumber,
		"status":        b.Status,
		"result":        b.Result,
		"source_branch": b.SourceBranch,
		"url":           b.Links.Web.Href,
	}
}

// runPlan is the evaluation state of state=run.
type runPlan struct {
	definition Definition
	params     Params
}

type pipelinePlugin struct {
	repos plugin.RepositoryResolver
}

// New creates the pipeline kind. Repository names are resolved through the
// repository kind once the registry calls Init.
func New() plugin.Plugin {
	return &pipelinePlugin{}
}

var (
	_ plugin.Plugin           = (*pipelinePlugin)(nil)
	_ plugin.Initializer      = (*pipelinePlugin)(nil)
	_ plugin.Inspector        = (*pipelinePlugin)(nil)
	_ plugin.PipelineResolver = (*pipelinePlugin)(nil)
)

func (p *pipelinePlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         Kind,
		Version:      "1.0.0",
		APIVersion:   "^1.0",
		Dependencies: []plugin.Dependency{{Name: "repository", Constraint: "^1.0"}},
		Description:  "YAML pipelines (build definitions) and pipeline runs.",
	}
}

func (p *pipelinePlugin) Init(registry *plugin.Registry) error {
	repos, err := plugin.Resolve[plugin.RepositoryResolver](registry, Kind, "repository")
	if err != nil {
		return err
	}
	p.repos = repos
	return nil
}

// ResourceTimeout covers wait_for_completion so the poll, not the engine
// deadline, decides when a run has taken too long.
func (p *pipelinePlugin) ResourceTimeout(req *plugin.Request) time.Duration {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil || !params.WaitForCompletion {
		return 0
	}
	state, err := reconcile.ParseState(params.State, reconcile.StatePresent, reconcile.StateAbsent, reconcile.StateRun)
	if err != nil || state != reconcile.StateRun {
		return 0
	}
	params.defaults()
	return time.Duration(params.WaitTimeout) * time.Second
}

func (p *pipelinePlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	params.defaults()
	if params.Name == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("name", "name is required", nil))
	}
	state, err := reconcile.ParseState(params.State, reconcile.StatePresent, reconcile.StateAbsent, reconcile.StateRun)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}

	existing, err := locate(ctx, req.Client, req.Project, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}

	if state == reconcile.StateRun {
		return p.evaluateRun(req, params, existing)
	}

	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
		if existing.Path != params.Folder {
			req.Log().WithFields(map[string]any{"pipeline": params.Name, "current": existing.Path, "desired": params.Folder}).
				Warn("pipeline folder differs; moving a pipeline between folders is not supported")
		}
	} else if state == reconcile.StatePresent {
		if params.Repository == "" || params.YAMLPath == "" {
			return nil, plugin.NewValidationError(req.ResourceID(),
				devopserrors.NewValidationError("repository", "repository and yaml_path are required to create a pipeline", nil))
		}
	}

	plan := reconcile.NewPlan(Kind, params.Name, state, desired(params), snap, policy)
	return kindutil.Evaluate(ctx, req, plan, p.actions(req, params))
}

func (p *pipelinePlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	if eval != nil {
		if run, ok := eval.InternalData.(*runPlan); ok {
			return p.run(ctx, req, run, eval.Preview)
		}
	}
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func desired(params Params) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name, "folder": params.Folder}
	if params.YAMLPath != "" {
		f["yaml_path"] = params.YAMLPath
	}
	return f
}

func definitionsPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"build", "definitions"}, parts...)...)
}

// locate finds a definition by exact name and returns its full form.
func locate(ctx context.Context, client *devops.Client, project, name string) (*Definition, error) {
	refs, err := devops.List[Definition](ctx, client, devops.Request{
		Path:  definitionsPath(project),
		Query: url.Values{"name": {name}},
	})
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.Name == name {
			return getDefinition(ctx, client, project, ref.ID)
		}
	}
	return nil, nil
}

func getDefinition(ctx context.Context, client *devops.Client, project string, id int) (*Definition, error) {
	var def Definition
	found, err := client.GetOptional(ctx, definitionsPath(project, strconv.Itoa(id)), nil, &def)
	if err != nil || !found {
		return nil, err
	}
	return &def, nil
}

func (p *pipelinePlugin) actions(req *plugin.Request, params Params) reconcile.Actions {
	client := req.Client
	return reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			repoType := RepositoryType(params.RepositoryType)
			repo := &buildRepository{ID: params.Repository, Type: repoType, DefaultBranch: reconcile.NormalizeRef(params.DefaultBranch)}
			if repoType == "TfsGit" {
				if p.repos == nil {
					return nil, fmt.Errorf("repository kind is not available to resolve %q", params.Repository)
				}
				ref, err := p.repos.ResolveRepository(ctx, req, params.Repository)
				if err != nil {
					return nil, err
				}
				repo.ID, repo.Name = ref.ID, ref.Name
			}

			queue, err := hostedQueue(ctx, client, req.Project)
			if err != nil {
				return nil, err
			}

			body := Definition{
				Name:       params.Name,
				Path:       params.Folder,
				Type:       "build",
				Repository: repo,
				Process:    &yamlProcess{YAMLFilename: params.YAMLPath, Type: yamlProcessType},
				Queue:      queue,
			}
			var created Definition
			if err := client.Post(ctx, definitionsPath(req.Project), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			var raw map[string]any
			if err := client.Get(ctx, definitionsPath(req.Project, located.ID), nil, &raw); err != nil {
				return nil, err
			}
			merged, err := reconcile.MergeOnto(&raw, func(def *map[string]any) {
				if v, ok := changes.Get("yaml_path"); ok {
					process, _ := (*def)["process"].(map[string]any)
					if process == nil {
						process = map[string]any{"type": yamlProcessType}
					}
					process["yamlFilename"] = v
					(*def)["process"] = process
				}
			})
			if err != nil {
				return nil, err
			}
			var updated Definition
			if err := client.Put(ctx, definitionsPath(req.Project, located.ID), nil, *merged, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, definitionsPath(req.Project, located.ID), nil)
		},
	}
}

// hostedQueue returns the project's "Azure Pipelines" queue, or nil when the
// project has none.
func hostedQueue(ctx context.Context, client *devops.Client, project string) (*queueRef, error) {
	queues, err := devops.List[queueRef](ctx, client, devops.Request{
		Path:  devops.ProjectPath(project, "distributedtask", "queues"),
		Query: url.Values{"queueName": {hostedQueueName}},
	})
	if err != nil {
		return nil, fmt.Errorf("list agent queues: %w", err)
	}
	for i := range queues {
		if queues[i].Name == hostedQueueName {
			return &queues[i], nil
		}
	}
	return nil, nil
}

func (p *pipelinePlugin) evaluateRun(req *plugin.Request, params Params, existing *Definition) (*model.EvaluationResult, error) {
	if existing == nil {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewNotFoundError(Kind, params.Name, "cannot run a pipeline that does not exist"))
	}
	snap := existing.snapshot()
	rec := reconcile.Record{
		Kind:     Kind,
		Name:     existing.Name,
		ID:       snap.ID,
		Changed:  true,
		Action:   reconcile.ActionWouldRun,
		Resource: snap.Fields,
	}
	if params.Branch != "" {
		rec.Resource = snap.Fields.Clone()
		rec.Resource["run_branch"] = reconcile.NormalizeRef(params.Branch)
	}
	msg := fmt.Sprintf("pipeline %q would be queued", existing.Name)
	return kindutil.Action(req, model.StatusDrifted, true, msg, rec, &runPlan{definition: *existing, params: params}), nil
}

func buildsPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"build", "builds"}, parts...)...)
}

func (p *pipelinePlugin) run(ctx context.Context, req *plugin.Request, plan *runPlan, preview reconcile.Record) (*model.ResourceResult, error) {
	started := time.Now()
	if req.DryRun {
		return kindutil.Result(req, preview, started), nil
	}

	params := plan.params
	body := map[string]any{"definition": map[string]any{"id": plan.definition.ID}}
	if params.Branch != "" {
		body["sourceBranch"] = reconcile.NormalizeRef(params.Branch)
	}
	if len(params.TemplateParameters) > 0 {
		body["templateParameters"] = params.TemplateParameters
	}
	if len(params.Variables) > 0 {
		encoded, err := json.Marshal(params.Variables)
		if err != nil {
			return nil, plugin.NewValidationError(req.ResourceID(), fmt.Errorf("encode variables: %w", err))
		}
		body["parameters"] = string(encoded)
	}

	rec := reconcile.Record{Kind: Kind, Name: plan.definition.Name, ID: strconv.Itoa(plan.definition.ID), Action: reconcile.ActionQueued}
	rec.Resource = plan.definition.snapshot().Fields.Clone()

	var build Build
	if err := req.Client.Post(ctx, buildsPath(req.Project), nil, body, &build); err != nil {
		return kindutil.Failed(req, rec, err, started), plugin.NewExecutionError(req.ResourceID(), err)
	}
	rec.Changed = true

	if params.WaitForCompletion {
		interval := time.Duration(params.PollInterval) * time.Second
		timeout := time.Duration(params.WaitTimeout) * time.Second
		err := reconcile.Poll(ctx, interval, timeout, "wait for build", fmt.Sprintf("%s #%d", plan.definition.Name, build.ID),
			func(ctx context.Context) (bool, error) {
				if err := req.Client.Get(ctx, buildsPath(req.Project, strconv.Itoa(build.ID)), nil, &build); err != nil {
					return false, err
				}
				return terminalStatuses[build.Status], nil
			})
		rec.Resource["run"] = build.fields()
		if err != nil {
			return kindutil.Failed(req, rec, err, started), plugin.NewExecutionError(req.ResourceID(), err)
		}
	}
	rec.Resource["run"] = build.fields()

	req.Log().WithFields(map[string]any{"pipeline": rec.Name, "build_id": build.ID, "status": build.Status}).Info("pipeline queued")
	return kindutil.Result(req, rec, started), nil
}

// ResolvePipeline maps a pipeline name or numeric id to its reference.
func (p *pipelinePlugin) ResolvePipeline(ctx context.Context, req *plugin.Request, nameOrID string) (devops.Ref, error) {
	def, err := find(ctx, req, nameOrID)
	if err != nil {
		return devops.Ref{}, err
	}
	return devops.Ref{ID: strconv.Itoa(def.ID), Name: def.Name}, nil
}

func find(ctx context.Context, req *plugin.Request, nameOrID string) (*Definition, error) {
	var (
		def *Definition
		err error
	)
	if id, convErr := strconv.Atoi(nameOrID); convErr == nil {
		def, err = getDefinition(ctx, req.Client, req.Project, id)
	} else {
		def, err = locate(ctx, req.Client, req.Project, nameOrID)
	}
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, devopserrors.NewNotFoundError(Kind, nameOrID, "in project "+req.Project)
	}
	return def, nil
}

// Show locates one pipeline by name or id.
func (p *pipelinePlugin) Show(ctx context.Context, req *plugin.Request, nameOrID string) (*reconcile.Snapshot, error) {
	def, err := find(ctx, req, nameOrID)
	if err != nil {
		return nil, err
	}
	return def.snapshot(), nil
}

// List returns every definition in the project. The list endpoint returns
// references, so repository and yaml_path are left empty.
func (p *pipelinePlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	defs, err := devops.List[Definition](ctx, req.Client, devops.Request{Path: definitionsPath(req.Project)})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(defs))
	for _, d := range defs {
		out = append(out, *d.snapshot())
	}
	return out, nil
}
