// Package branchpolicyplugin reconciles branch policy configurations.
package branchpolicyplugin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "branch_policy"

// Policy types.
const (
	MinimumReviewers  = "minimum_reviewers"
	WorkItemLinking   = "work_item_linking"
	CommentResolution = "comment_resolution"
	BuildValidation   = "build_validation"
	RequiredReviewers = "required_reviewers"
	MergeStrategy     = "merge_strategy"
)

// TypeIDs maps policy types to their well-known ids.
var TypeIDs = map[string]string{
	MinimumReviewers:  "fa4e907d-c16b-4a4c-9dfa-4906e5d171dd",
	WorkItemLinking:   "40e92b44-2fe1-4dd6-b3d8-74a9c21d0c6e",
	CommentResolution: "c6a1889d-b943-4856-b76f-9e46bb6b0df2",
	BuildValidation:   "0609b952-1397-4640-95ec-e00a01b2c241",
	RequiredReviewers: "fd2167ab-b0be-447a-8ec8-39368250530e",
	MergeStrategy:     "fa4e907d-c16b-4a4c-9dfa-4916e5d171ab",
}

const defaultMatchKind = "Exact"

// setting binds a snapshot field to its key in the settings document.
type setting struct {
	field string
	key   string
}

// settingsByType lists the per-type settings that are diffed.
var settingsByType = map[string][]setting{
	MinimumReviewers: {
		{"minimum_approver_count", "minimumApproverCount"},
		{"creator_vote_counts", "creatorVoteCounts"},
		{"allow_downvotes", "allowDownvotes"},
		{"reset_on_source_push", "resetOnSourcePush"},
	},
	BuildValidation: {
		{"build_definition_id", "buildDefinitionId"},
		{"display_name", "displayName"},
		{"manual_queue_only", "manualQueueOnly"},
		{"queue_on_source_update_only", "queueOnSourceUpdateOnly"},
		{"valid_duration", "validDuration"},
	},
	RequiredReviewers: {
		{"required_reviewer_ids", "requiredReviewerIds"},
		{"path_filters", "filenamePatterns"},
	},
	MergeStrategy: {
		{"use_squash_merge", "useSquashMerge"},
	},
}

// Params are the manifest parameters.
type Params struct {
	Repository              string   `yaml:"repository"`
	Branch                  string   `yaml:"branch"`
	PolicyType              string   `yaml:"policy_type"`
	State                   string   `yaml:"state"`
	IsEnabled               *bool    `yaml:"is_enabled"`
	IsBlocking              *bool    `yaml:"is_blocking"`
	MatchKind               string   `yaml:"match_kind"`
	MinimumApproverCount    *int     `yaml:"minimum_approver_count"`
	CreatorVoteCounts       *bool    `yaml:"creator_vote_counts"`
	AllowDownvotes          *bool    `yaml:"allow_downvotes"`
	ResetOnSourcePush       *bool    `yaml:"reset_on_source_push"`
	BuildDefinitionID       *int     `yaml:"build_definition_id"`
	BuildDefinition         string   `yaml:"build_definition"`
	DisplayName             string   `yaml:"display_name"`
	ManualQueueOnly         *bool    `yaml:"manual_queue_only"`
	QueueOnSourceUpdateOnly *bool    `yaml:"queue_on_source_update_only"`
	ValidDuration           *int     `yaml:"valid_duration"`
	RequiredReviewerIDs     []string `yaml:"required_reviewer_ids"`
	PathFilters             []string `yaml:"path_filters"`
	UseSquashMerge          *bool    `yaml:"use_squash_merge"`
}

var policy = reconcile.FieldPolicy{
	"match_kind": reconcile.Normalized(reconcile.FoldCase),
}

// Configuration is a policy configuration. Settings stays untyped so updates
// send back every setting the server holds.
type Configuration struct {
	ID         int            `json:"id,omitempty"`
	Revision   int            `json:"revision,omitempty"`
	IsEnabled  bool           `json:"isEnabled"`
	IsBlocking bool           `json:"isBlocking"`
	IsDeleted  bool           `json:"isDeleted,omitempty"`
	Type       typeRef        `json:"type"`
	Settings   map[string]any `json:"settings"`
	URL        string         `json:"url,omitempty"`
}

type typeRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

type scope struct {
	RepositoryID string `json:"repositoryId"`
	RefName      string `json:"refName"`
	MatchKind    string `json:"matchKind"`
}

func (c Configuration) scopes() []scope {
	raw, _ := c.Settings["scope"].([]any)
	out := make([]scope, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := scope{}
		s.RepositoryID, _ = m["repositoryId"].(string)
		s.RefName, _ = m["refName"].(string)
		s.MatchKind, _ = m["matchKind"].(string)
		out = append(out, s)
	}
	return out
}

func (c Configuration) matches(repoID, ref string) (scope, bool) {
	for _, s := range c.scopes() {
		if strings.EqualFold(s.RepositoryID, repoID) && s.RefName == ref {
			return s, true
		}
	}
	return scope{}, false
}

func typeName(id string) string {
	for name, typeID := range TypeIDs {
		if strings.EqualFold(typeID, id) {
			return name
		}
	}
	return id
}

func (c Configuration) snapshot(repoID, ref string) *reconcile.Snapshot {
	name := typeName(c.Type.ID)
	fields := reconcile.Fields{
		"id":          c.ID,
		"type":        name,
		"type_id":     c.Type.ID,
		"is_enabled":  c.IsEnabled,
		"is_blocking": c.IsBlocking,
		"url":         c.URL,
	}
	if s, ok := c.matches(repoID, ref); ok {
		fields["repository_id"] = s.RepositoryID
		fields["ref_name"] = s.RefName
		fields["match_kind"] = s.MatchKind
	}
	for _, st := range settingsByType[name] {
		if v, ok := c.Settings[st.key]; ok {
			fields[st.field] = normalizeSetting(v)
		}
	}
	return &reconcile.Snapshot{Kind: Kind, ID: strconv.Itoa(c.ID), Name: name + " " + ref, Fields: fields}
}

// normalizeSetting maps decoded JSON numbers and arrays onto the Go types
// desired fields use.
func normalizeSetting(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int(t)) {
			return int(t)
		}
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return v
}

type branchPolicyPlugin struct {
	repos     plugin.RepositoryResolver
	pipelines plugin.PipelineResolver
}

// New creates the branch_policy kind.
func New() plugin.Plugin {
	return &branchPolicyPlugin{}
}

var (
	_ plugin.Plugin      = (*branchPolicyPlugin)(nil)
	_ plugin.Initializer = (*branchPolicyPlugin)(nil)
)

func (p *branchPolicyPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:       Kind,
		Version:    "1.0.0",
		APIVersion: "^1.0",
		Dependencies: []plugin.Dependency{
			{Name: "repository", Constraint: "^1.0"},
			{Name: "pipeline", Constraint: "^1.0"},
		},
		Description: "Branch policies: reviewers, build validation, work item linking, merge strategy.",
	}
}

func (p *branchPolicyPlugin) Init(registry *plugin.Registry) error {
	repos, err := plugin.Resolve[plugin.RepositoryResolver](registry, Kind, "repository")
	if err != nil {
		return err
	}
	pipelines, err := plugin.Resolve[plugin.PipelineResolver](registry, Kind, "pipeline")
	if err != nil {
		return err
	}
	p.repos, p.pipelines = repos, pipelines
	return nil
}

func invalid(req *plugin.Request, field, msg string) error {
	return plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError(field, msg, nil))
}

func (p *branchPolicyPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	if err := kindutil.RequireProject(req); err != nil {
		return nil, err
	}
	state, err := reconcile.ParseState(params.State)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	typeID, ok := TypeIDs[params.PolicyType]
	if !ok {
		return nil, invalid(req, "policy_type", fmt.Sprintf("unsupported policy_type %q (supported: %s)", params.PolicyType, supportedTypes()))
	}
	if params.Repository == "" || params.Branch == "" {
		return nil, invalid(req, "repository", "repository and branch are required")
	}
	if p.repos == nil {
		return nil, plugin.NewStateError(req.ResourceID(), fmt.Errorf("repository kind is not available"))
	}

	repo, err := p.repos.ResolveRepository(ctx, req, params.Repository)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	ref := reconcile.NormalizeRef(params.Branch)

	var fields reconcile.Fields
	if state == reconcile.StatePresent {
		if fields, err = p.desired(ctx, req, params, repo.ID, ref); err != nil {
			return nil, err
		}
	}

	existing, err := locate(ctx, req.Client, req.Project, typeID, repo.ID, ref)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot(repo.ID, ref)
	}

	plan := reconcile.NewPlan(Kind, params.PolicyType+" "+ref, state, fields, snap, policy)
	return kindutil.Evaluate(ctx, req, plan, actions(req, typeID, existing))
}

func (p *branchPolicyPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func supportedTypes() string {
	names := make([]string, 0, len(TypeIDs))
	for name := range TypeIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// desired builds the canonical fields, filling the per-type defaults.
func (p *branchPolicyPlugin) desired(ctx context.Context, req *plugin.Request, params Params, repoID, ref string) (reconcile.Fields, error) {
	matchKind := params.MatchKind
	if matchKind == "" {
		matchKind = defaultMatchKind
	}
	f := reconcile.Fields{
		"is_enabled":    kindutil.BoolOr(params.IsEnabled, true),
		"is_blocking":   kindutil.BoolOr(params.IsBlocking, true),
		"repository_id": repoID,
		"ref_name":      ref,
		"match_kind":    matchKind,
	}

	switch params.PolicyType {
	case MinimumReviewers:
		count := 1
		if params.MinimumApproverCount != nil {
			count = *params.MinimumApproverCount
		}
		if count < 1 {
			return nil, invalid(req, "minimum_approver_count", "minimum_approver_count must be at least 1")
		}
		f["minimum_approver_count"] = count
		f["creator_vote_counts"] = kindutil.BoolOr(params.CreatorVoteCounts, false)
		f["allow_downvotes"] = kindutil.BoolOr(params.AllowDownvotes, false)
		f["reset_on_source_push"] = kindutil.BoolOr(params.ResetOnSourcePush, true)

	case BuildValidation:
		var defID int
		switch {
		case params.BuildDefinitionID != nil:
			defID = *params.BuildDefinitionID
		case params.BuildDefinition != "":
			if p.pipelines == nil {
				return nil, plugin.NewStateError(req.ResourceID(), fmt.Errorf("pipeline kind is not available"))
			}
			ref, err := p.pipelines.ResolvePipeline(ctx, req, params.BuildDefinition)
			if err != nil {
				return nil, plugin.NewValidationError(req.ResourceID(), err)
			}
			if defID, err = kindutil.Int("build_definition", ref.ID); err != nil {
				return nil, plugin.NewValidationError(req.ResourceID(), err)
			}
		default:
			return nil, invalid(req, "build_definition_id", "build_definition_id or build_definition is required for build_validation")
		}
		displayName := params.DisplayName
		if displayName == "" {
			displayName = "Build Validation"
		}
		validDuration := 720
		if params.ValidDuration != nil {
			validDuration = *params.ValidDuration
		}
		f["build_definition_id"] = defID
		f["display_name"] = displayName
		f["manual_queue_only"] = kindutil.BoolOr(params.ManualQueueOnly, false)
		f["queue_on_source_update_only"] = kindutil.BoolOr(params.QueueOnSourceUpdateOnly, true)
		f["valid_duration"] = validDuration

	case RequiredReviewers:
		if len(params.RequiredReviewerIDs) == 0 {
			return nil, invalid(req, "required_reviewer_ids", "required_reviewer_ids is required for required_reviewers")
		}
		f["required_reviewer_ids"] = params.RequiredReviewerIDs
		if len(params.PathFilters) > 0 {
			f["path_filters"] = params.PathFilters
		}

	case MergeStrategy:
		f["use_squash_merge"] = kindutil.BoolOr(params.UseSquashMerge, false)
	}
	return f, nil
}

func configurationsPath(project string, parts ...string) string {
	return devops.ProjectPath(project, append([]string{"policy", "configurations"}, parts...)...)
}

// locate returns the first configuration of the type whose scope covers the
// repository and ref.
func locate(ctx context.Context, client *devops.Client, project, typeID, repoID, ref string) (*Configuration, error) {
	configs, err := devops.List[Configuration](ctx, client, devops.Request{Path: configurationsPath(project)})
	if err != nil {
		return nil, err
	}
	for i := range configs {
		c := configs[i]
		if c.IsDeleted || !strings.EqualFold(c.Type.ID, typeID) {
			continue
		}
		if _, ok := c.matches(repoID, ref); ok {
			return &c, nil
		}
	}
	return nil, nil
}

// writeSettings copies desired fields into a settings document.
func writeSettings(settings map[string]any, typeName string, values map[string]any) {
	for _, st := range settingsByType[typeName] {
		if v, ok := values[st.field]; ok {
			settings[st.key] = v
		}
	}
}

func scopeOf(values map[string]any) []any {
	return []any{map[string]any{
		"repositoryId": values["repository_id"],
		"refName":      values["ref_name"],
		"matchKind":    values["match_kind"],
	}}
}

// setMatchKind changes the match kind of the scope entry for repoID and ref,
// leaving the other entries untouched.
func setMatchKind(settings map[string]any, repoID, ref string, kind any) {
	raw, _ := settings["scope"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["repositoryId"].(string)
		if strings.EqualFold(id, repoID) && m["refName"] == ref {
			m["matchKind"] = kind
			return
		}
	}
	settings["scope"] = append(raw, scopeOf(map[string]any{
		"repository_id": repoID,
		"ref_name":      ref,
		"match_kind":    kind,
	})...)
}

func actions(req *plugin.Request, typeID string, existing *Configuration) reconcile.Actions {
	client := req.Client
	name := typeName(typeID)
	return reconcile.Actions{
		Create: func(ctx context.Context, desired reconcile.Fields) (*reconcile.Snapshot, error) {
			settings := map[string]any{"scope": scopeOf(desired)}
			writeSettings(settings, name, desired)
			body := Configuration{
				IsEnabled:  desired["is_enabled"].(bool),
				IsBlocking: desired["is_blocking"].(bool),
				Type:       typeRef{ID: typeID},
				Settings:   settings,
			}
			var created Configuration
			if err := client.Post(ctx, configurationsPath(req.Project), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(desired["repository_id"].(string), desired["ref_name"].(string)), nil
		},
		Update: func(ctx context.Context, located *reconcile.Snapshot, changes reconcile.ChangeSet) (*reconcile.Snapshot, error) {
			values := changes.Values()
			merged, err := reconcile.MergeOnto(existing, func(c *Configuration) {
				if v, ok := values["is_enabled"]; ok {
					c.IsEnabled = v.(bool)
				}
				if v, ok := values["is_blocking"]; ok {
					c.IsBlocking = v.(bool)
				}
				if c.Settings == nil {
					c.Settings = map[string]any{}
				}
				writeSettings(c.Settings, name, values)
				if kind, ok := values["match_kind"]; ok {
					repoID, _ := located.Fields["repository_id"].(string)
					ref, _ := located.Fields["ref_name"].(string)
					setMatchKind(c.Settings, repoID, ref, kind)
				}
			})
			if err != nil {
				return nil, err
			}
			var updated Configuration
			if err := client.Put(ctx, configurationsPath(req.Project, located.ID), nil, merged, &updated); err != nil {
				return nil, err
			}
			repoID, _ := located.Fields["repository_id"].(string)
			ref, _ := located.Fields["ref_name"].(string)
			return updated.snapshot(repoID, ref), nil
		},
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return client.Delete(ctx, configurationsPath(req.Project, located.ID), nil)
		},
	}
}
