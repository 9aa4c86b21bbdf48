// Package repositoryplugin reconciles Git repositories and, optionally, one
// branch inside them.
package repositoryplugin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "repository"

const branchKind = "repository_branch"

// Params are the manifest parameters.
type Params struct {
	Name             string `yaml:"name"`
	State            string `yaml:"state"`
	DefaultBranch    string `yaml:"default_branch"`
	IsDisabled       *bool  `yaml:"is_disabled"`
	ParentRepository string `yaml:"parent_repository"`
	ParentProject    string `yaml:"parent_project"`
	BranchName       string `yaml:"branch_name"`
	SourceBranch     string `yaml:"source_branch"`
	BranchState      string `yaml:"branch_state"`
}

var policy = reconcile.FieldPolicy{
	"default_branch": reconcile.Normalized(reconcile.RefName),
}

// Repository is the remote representation.
type Repository struct {
	ID               string      `json:"id,omitempty"`
	Name             string      `json:"name"`
	URL              string      `json:"url,omitempty"`
	RemoteURL        string      `json:"remoteUrl,omitempty"`
	SSHURL           string      `json:"sshUrl,omitempty"`
	WebURL           string      `json:"webUrl,omitempty"`
	Size             int64       `json:"size,omitempty"`
	IsDisabled       bool        `json:"isDisabled,omitempty"`
	DefaultBranch    string      `json:"defaultBranch,omitempty"`
	IsFork           bool        `json:"isFork,omitempty"`
	ParentRepository *parentRef  `json:"parentRepository,omitempty"`
	Project          *devops.Ref `json:"project,omitempty"`
}

type parentRef struct {
	ID      string     `json:"id"`
	Name    string     `json:"name,omitempty"`
	Project devops.Ref `json:"project"`
}

func (r Repository) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{
		"id":             r.ID,
		"name":           r.Name,
		"url":            r.URL,
		"remote_url":     r.RemoteURL,
		"ssh_url":        r.SSHURL,
		"web_url":        r.WebURL,
		"size":           r.Size,
		"is_disabled":    r.IsDisabled,
		"default_branch": r.DefaultBranch,
		"is_fork":        r.IsFork,
	}
	if r.ParentRepository != nil {
		fields["parent"] = r.ParentRepository.Name
		fields["parent_id"] = r.ParentRepository.ID
	}
	if r.Project != nil {
		fields["project"] = r.Project.Name
	}
	return &reconcile.Snapshot{Kind: Kind, ID: r.ID, Name: r.Name, Fields: fields}
}

type gitRef struct {
	Name     string `json:"name"`
	ObjectID string `json:"objectId"`
}

type refUpdate struct {
	Name        string `json:"name"`
	OldObjectID string `json:"oldObjectId"`
	NewObjectID string `json:"newObjectId"`
}

type refUpdateResult struct {
	Name          string `json:"name"`
	NewObjectID   string `json:"newObjectId"`
	Success       bool   `json:"success"`
	UpdateStatus  string `json:"updateStatus"`
	CustomMessage string `json:"customMessage"`
}

type repositoryPlugin struct{}

// New creates the repository kind.
func New() plugin.Plugin {
	return &repositoryPlugin{}
}

var (
	_ plugin.Plugin             = (*repositoryPlugin)(nil)
	_ plugin.Inspector          = (*repositoryPlugin)(nil)
	_ plugin.RepositoryResolver = (*repositoryPlugin)(nil)
)

func (p *repositoryPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Git repositories, forks and branches.",
	}
}

func (p *repositoryPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("name", "name is required", nil))
	}
	state, err := reconcile.ParseState(params.State)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	branchState, err := reconcile.ParseState(params.BranchState)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), fmt.Errorf("branch_state: %w", err))
	}
	if params.BranchName != "" && branchState == reconcile.StatePresent && params.SourceBranch == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("source_branch", "source_branch is required to create a branch", nil))
	}

	existing, err := locate(ctx, req.Client, req.Project, params.Name)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}

	// repoID is filled once the repository exists so the branch step can
	// target a repository created in the same run.
	repoID := new(string)
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
		*repoID = existing.ID
	}

	steps := []kindutil.Step{{
		Plan:    reconcile.NewPlan(Kind, params.Name, state, desired(params), snap, policy),
		Actions: actions(req, params, repoID),
	}}

	if params.BranchName != "" && state == reconcile.StatePresent {
		step, err := branchStep(ctx, req, params, branchState, repoID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return kindutil.EvaluateSteps(ctx, req, steps...)
}

func (p *repositoryPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func desired(params Params) reconcile.Fields {
	f := reconcile.Fields{"name": params.Name}
	if params.DefaultBranch != "" {
		f["default_branch"] = reconcile.NormalizeRef(params.DefaultBranch)
	}
	if params.IsDisabled != nil {
		f["is_disabled"] = *params.IsDisabled
	}
	return f
}

func repoPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"git", "repositories"}, parts...)...)
}

// locate tries a direct GET first, then the full list including hidden
// (disabled) repositories.
func locate(ctx context.Context, client *devops.Client, project, nameOrID string) (*Repository, error) {
	var repo Repository
	found, err := client.GetOptional(ctx, repoPath(project, nameOrID), nil, &repo)
	if err != nil {
		return nil, err
	}
	if found {
		return &repo, nil
	}

	repos, err := devops.List[Repository](ctx, client, devops.Request{
		Path:  repoPath(project),
		Query: url.Values{"includeHidden": {"true"}},
	})
	if err != nil {
		return nil, err
	}
	for i := range repos {
		if repos[i].Name == nameOrID || repos[i].ID == nameOrID {
			return &repos[i], nil
		}
	}
	return nil, nil
}

func actions(req *plugin.Request, params Params, repoID *string) reconcile.Actions {
	client := req.Client
	return reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			project, err := client.Project(ctx, req.Project)
			if err != nil {
				return nil, err
			}
			body := Repository{Name: params.Name, Project: &devops.Ref{ID: project.ID, Name: project.Name}}

			if params.ParentRepository != "" {
				parentProject := params.ParentProject
				if parentProject == "" {
					parentProject = req.Project
				}
				parent, err := locate(ctx, client, parentProject, params.ParentRepository)
				if err != nil {
					return nil, err
				}
				if parent == nil {
					return nil, devopserrors.NewNotFoundError("parent repository", params.ParentRepository, "cannot fork")
				}
				ref := &parentRef{ID: parent.ID, Name: parent.Name}
				if parent.Project != nil {
					ref.Project = *parent.Project
				}
				body.ParentRepository = ref
			}

			var created Repository
			if err := client.Post(ctx, repoPath(req.Project), nil, body, &created); err != nil {
				return nil, err
			}
			*repoID = created.ID

			if params.DefaultBranch != "" {
				ref := reconcile.NormalizeRef(params.DefaultBranch)
				var updated Repository
				if err := client.Patch(ctx, repoPath(req.Project, created.ID), nil, map[string]any{"defaultBranch": ref}, &updated); err != nil {
					req.Log().WithFields(map[string]any{"repository": created.Name}).
						Warn("repository created but the default branch could not be set; push a first commit and re-apply")
				} else {
					created = updated
				}
			}
			return created.snapshot(), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			body := map[string]any{}
			if v, ok := changes.Get("default_branch"); ok {
				body["defaultBranch"] = v
			}
			if v, ok := changes.Get("is_disabled"); ok {
				body["isDisabled"] = v
			}
			var updated Repository
			if err := client.Patch(ctx, repoPath(req.Project, located.ID), nil, body, &updated); err != nil {
				return nil, err
			}
			return updated.snapshot(), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, repoPath(req.Project, located.ID), nil)
		},
	}
}

// findRef returns the ref with exactly the given full name, or nil.
func findRef(ctx context.Context, client *devops.Client, project, repoID, ref string) (*gitRef, error) {
	refs, err := devops.List[gitRef](ctx, client, devops.Request{
		Path:  repoPath(project, repoID, "refs"),
		Query: url.Values{"filter": {strings.TrimPrefix(ref, "refs/")}},
	})
	if err != nil {
		return nil, err
	}
	for i := range refs {
		if refs[i].Name == ref {
			return &refs[i], nil
		}
	}
	return nil, nil
}

func branchStep(ctx context.Context, req *plugin.Request, params Params, state reconcile.State, repoID *string) (kindutil.Step, error) {
	ref := reconcile.NormalizeRef(params.BranchName)
	source := reconcile.NormalizeRef(params.SourceBranch)

	var located *reconcile.Snapshot
	if *repoID != "" {
		existing, err := findRef(ctx, req.Client, req.Project, *repoID, ref)
		if err != nil {
			return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), err)
		}
		if existing != nil {
			located = refSnapshot(*existing)
		} else if state == reconcile.StatePresent {
			src, err := findRef(ctx, req.Client, req.Project, *repoID, source)
			if err != nil {
				return kindutil.Step{}, plugin.NewStateError(req.ResourceID(), err)
			}
			if src == nil {
				return kindutil.Step{}, plugin.NewValidationError(req.ResourceID(),
					devopserrors.NewNotFoundError("source branch", source, fmt.Sprintf("not found in repository %s", params.Name)))
			}
		}
	}

	client := req.Client
	update := func(ctx context.Context, body refUpdate) error {
		results, err := devops.List[refUpdateResult](ctx, client, devops.Request{
			Method: http.MethodPost,
			Path:   repoPath(req.Project, *repoID, "refs"),
			Body:   []refUpdate{body},
		})
		if err != nil {
			return err
		}
		if len(results) > 0 && !results[0].Success {
			return devopserrors.NewRemoteCallError(http.MethodPost, body.Name, 0,
				strings.TrimSpace("ref update rejected: "+results[0].UpdateStatus+" "+results[0].CustomMessage), nil)
		}
		return nil
	}

	return kindutil.Step{
		Field: "branch",
		Plan:  reconcile.NewPlan(branchKind, ref, state, reconcile.Fields{"name": ref}, located, nil),
		Actions: reconcile.Actions{
			Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
				src, err := findRef(ctx, client, req.Project, *repoID, source)
				if err != nil {
					return nil, err
				}
				if src == nil {
					return nil, devopserrors.NewNotFoundError("source branch", source, fmt.Sprintf("not found in repository %s", params.Name))
				}
				if err := update(ctx, refUpdate{Name: ref, OldObjectID: plumbing.ZeroHash.String(), NewObjectID: src.ObjectID}); err != nil {
					return nil, err
				}
				return refSnapshot(gitRef{Name: ref, ObjectID: src.ObjectID}), nil
			},
			Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
				return update(ctx, refUpdate{Name: ref, OldObjectID: located.ID, NewObjectID: plumbing.ZeroHash.String()})
			},
		},
	}, nil
}

func refSnapshot(r gitRef) *reconcile.Snapshot {
	return &reconcile.Snapshot{
		Kind:   branchKind,
		ID:     r.ObjectID,
		Name:   r.Name,
		Fields: reconcile.Fields{"name": r.Name, "short_name": reconcile.ShortRef(r.Name), "object_id": r.ObjectID},
	}
}

// ResolveRepository maps a repository name or id to its reference.
func (p *repositoryPlugin) ResolveRepository(ctx context.Context, req *plugin.Request, nameOrID string) (devops.Ref, error) {
	repo, err := locate(ctx, req.Client, req.Project, nameOrID)
	if err != nil {
		return devops.Ref{}, err
	}
	if repo == nil {
		return devops.Ref{}, devopserrors.NewNotFoundError(Kind, nameOrID, "in project "+req.Project)
	}
	return devops.Ref{ID: repo.ID, Name: repo.Name}, nil
}

// Show locates one repository by name or id.
func (p *repositoryPlugin) Show(ctx context.Context, req *plugin.Request, nameOrID string) (*reconcile.Snapshot, error) {
	repo, err := locate(ctx, req.Client, req.Project, nameOrID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, devopserrors.NewNotFoundError(Kind, nameOrID, "")
	}
	return repo.snapshot(), nil
}

// List returns every repository in the project, hidden ones included.
func (p *repositoryPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	repos, err := devops.List[Repository](ctx, req.Client, devops.Request{
		Path:  repoPath(req.Project),
		Query: url.Values{"includeHidden": {"true"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(repos))
	for _, r := range repos {
		out = append(out, *r.snapshot())
	}
	return out, nil
}
