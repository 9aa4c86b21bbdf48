package plugin

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// HostAPIVersion is the plugin API this build provides. Metadata.APIVersion
// is a constraint that must accept it.
const HostAPIVersion = "1.0.0"

// Metadata describes plugin identity and dependency requirements.
type Metadata struct {
	Name         string
	Version      string
	APIVersion   string
	Dependencies []Dependency
	Description  string
}

// Dependency captures a dependency on another plugin. Constraint is a semver
// range such as "^1.0"; empty accepts any version.
type Dependency struct {
	Name       string
	Constraint string
}

// Validate ensures metadata is well-formed.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("plugin metadata requires a non-empty Name")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("plugin '%s' has invalid Version '%s': %w", m.Name, m.Version, err)
	}

	if m.APIVersion != "" {
		c, err := semver.NewConstraint(m.APIVersion)
		if err != nil {
			return fmt.Errorf("plugin '%s' has invalid APIVersion '%s': %w", m.Name, m.APIVersion, err)
		}
		if !c.Check(semver.MustParse(HostAPIVersion)) {
			return fmt.Errorf("plugin '%s' requires plugin API %s but this build provides %s", m.Name, m.APIVersion, HostAPIVersion)
		}
	}

	seen := map[string]struct{}{}
	for _, dep := range m.Dependencies {
		if strings.TrimSpace(dep.Name) == "" {
			return fmt.Errorf("plugin '%s' declares dependency with empty name", m.Name)
		}
		if dep.Name == m.Name {
			return fmt.Errorf("plugin '%s' cannot depend on itself", m.Name)
		}
		if _, dup := seen[dep.Name]; dup {
			return fmt.Errorf("plugin '%s' lists dependency '%s' more than once", m.Name, dep.Name)
		}
		if dep.Constraint != "" {
			if _, err := semver.NewConstraint(dep.Constraint); err != nil {
				return fmt.Errorf("plugin '%s' declares dependency '%s' with invalid constraint: %w", m.Name, dep.Name, err)
			}
		}
		seen[dep.Name] = struct{}{}
	}
	return nil
}

// Satisfied reports whether version meets the dependency constraint.
func (d Dependency) Satisfied(version string) bool {
	if d.Constraint == "" {
		return true
	}
	c, err := semver.NewConstraint(d.Constraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}
