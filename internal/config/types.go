package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Manifest represents the full devopsctl manifest document.
type Manifest struct {
	Version      string      `yaml:"version" validate:"required,manifest_version"`
	Name         string      `yaml:"name" validate:"required,min=1,max=100"`
	Description  string      `yaml:"description,omitempty"`
	Organization string      `yaml:"organization,omitempty" validate:"omitempty,https_url"`
	Project      string      `yaml:"project,omitempty"`
	Credentials  Credentials `yaml:"credentials,omitempty"`
	Settings     Settings    `yaml:"settings,omitempty"`
	Resources    []Resource  `yaml:"resources" validate:"required,min=1,dive"`
}

// Credentials tells the resolver where the token lives. Token is accepted but
// token_env is preferred so manifests can be committed.
type Credentials struct {
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty" validate:"omitempty,env_name"`
	Scheme   string `yaml:"scheme,omitempty" validate:"omitempty,oneof=basic bearer"`
}

// Settings holds global execution parameters.
type Settings struct {
	Parallel        int  `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=32"`
	Timeout         int  `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=86400"`
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	DryRun          bool `yaml:"dry_run,omitempty"`
	Verbose         bool `yaml:"verbose,omitempty"`
}

// Resource is one entry of the manifest. Everything that is not one of the
// common keys is captured in Params and decoded by the kind.
type Resource struct {
	ID        string         `yaml:"id" validate:"required,resource_id"`
	Kind      string         `yaml:"kind" validate:"required"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Enabled   bool           `yaml:"enabled"`
	Params    map[string]any `yaml:"-"`
}

var commonKeys = map[string]struct{}{"id": {}, "kind": {}, "depends_on": {}, "enabled": {}}

// UnmarshalYAML decodes the common keys and keeps the rest as raw params.
func (r *Resource) UnmarshalYAML(value *yaml.Node) error {
	type base struct {
		ID        string   `yaml:"id"`
		Kind      string   `yaml:"kind"`
		DependsOn []string `yaml:"depends_on"`
		Enabled   *bool    `yaml:"enabled"`
	}

	var b base
	if err := value.Decode(&b); err != nil {
		return err
	}

	var all map[string]any
	if err := value.Decode(&all); err != nil {
		return err
	}

	r.ID = b.ID
	r.Kind = b.Kind
	r.DependsOn = append([]string(nil), b.DependsOn...)
	r.Enabled = b.Enabled == nil || *b.Enabled

	r.Params = make(map[string]any, len(all))
	for k, v := range all {
		if _, common := commonKeys[k]; common {
			continue
		}
		r.Params[k] = v
	}
	return nil
}

// MarshalYAML writes the params back inline.
func (r Resource) MarshalYAML() (any, error) {
	out := make(map[string]any, len(r.Params)+4)
	for k, v := range r.Params {
		out[k] = v
	}
	out["id"] = r.ID
	out["kind"] = r.Kind
	if len(r.DependsOn) > 0 {
		out["depends_on"] = r.DependsOn
	}
	if !r.Enabled {
		out["enabled"] = false
	}
	return out, nil
}

// DecodeParams decodes the inline params into out. Unknown keys are rejected.
func (r Resource) DecodeParams(out any) error {
	raw, err := yaml.Marshal(r.Params)
	if err != nil {
		return devopserrors.NewValidationError(r.ID, "encode parameters", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return devopserrors.NewValidationError(r.ID, fmt.Sprintf("invalid %s parameters: %v", r.Kind, err), err)
	}
	return nil
}

// Param returns a string parameter, or "" when unset.
func (r Resource) Param(key string) string {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// DisplayName prefers the name parameter and falls back to the id.
func (r Resource) DisplayName() string {
	if name := r.Param("name"); name != "" {
		return name
	}
	return r.ID
}

// ResourceMap builds a lookup table for resources by ID.
func ResourceMap(resources []Resource) map[string]Resource {
	out := make(map[string]Resource, len(resources))
	for _, res := range resources {
		out[res.ID] = res
	}
	return out
}
