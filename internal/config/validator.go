package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// SupportedVersions is the manifest version range this build understands.
const SupportedVersions = ">=1.0.0, <2.0.0"

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	resourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	envNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("manifest_version", func(fl validator.FieldLevel) bool {
			return SupportsVersion(fl.Field().String())
		})

		_ = v.RegisterValidation("resource_id", func(fl validator.FieldLevel) bool {
			return resourceIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("env_name", func(fl validator.FieldLevel) bool {
			return envNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("https_url", func(fl validator.FieldLevel) bool {
			u, err := url.Parse(fl.Field().String())
			return err == nil && strings.EqualFold(u.Scheme, "https") && u.Host != ""
		})

		validateInst = v
	})

	return validateInst
}

// SupportsVersion reports whether raw is a semantic version inside
// SupportedVersions.
func SupportsVersion(raw string) bool {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// ValidateManifest performs schema and cross-resource validation. When kinds
// is non-empty every resource kind must be one of them.
func ValidateManifest(m *Manifest, kinds ...string) error {
	if m == nil {
		return devopserrors.NewValidationError("manifest", "manifest is nil", nil)
	}

	if err := validatorInstance().Struct(m); err != nil {
		return convertValidationError(err)
	}

	index := make(map[string]int, len(m.Resources))
	for i, res := range m.Resources {
		if _, exists := index[res.ID]; exists {
			return devopserrors.NewValidationError(fieldForResource(i, "id"), fmt.Sprintf("duplicate resource id %q", res.ID), nil)
		}
		if len(kinds) > 0 && !slices.Contains(kinds, res.Kind) {
			return devopserrors.NewValidationError(fieldForResource(i, "kind"), fmt.Sprintf("unknown kind %q (known: %s)", res.Kind, strings.Join(kinds, ", ")), nil)
		}
		index[res.ID] = i
	}

	for i, res := range m.Resources {
		for _, dep := range res.DependsOn {
			if _, ok := index[dep]; !ok {
				return devopserrors.NewValidationError(fieldForResource(i, "depends_on"), fmt.Sprintf("references unknown resource %q", dep), nil)
			}
			if dep == res.ID {
				return devopserrors.NewValidationError(fieldForResource(i, "depends_on"), "resource depends on itself", nil)
			}
		}
	}

	if cycle := detectCycle(m.Resources); len(cycle) > 0 {
		return devopserrors.NewValidationError("resources", fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		if ve.Tag() == "manifest_version" {
			msg = fmt.Sprintf("version %q is not supported (want %s)", ve.Value(), SupportedVersions)
		}
		return devopserrors.NewValidationError(field, msg, err)
	}

	return devopserrors.NewValidationError("manifest", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}

func fieldForResource(index int, field string) string {
	return fmt.Sprintf("resources[%d].%s", index, field)
}
