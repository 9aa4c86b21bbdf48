package plugin

import (
	"os"
	"strings"
)

// DependencyPolicy controls how the registry responds to validation failures.
type DependencyPolicy string

const (
	// PolicyStrict fails fast when dependency validation fails.
	PolicyStrict DependencyPolicy = "strict"
	// PolicyGraceful disables the affected kinds and carries on.
	PolicyGraceful DependencyPolicy = "graceful"
)

// AccessPolicy controls how undeclared dependency access is handled.
type AccessPolicy string

const (
	AccessStrict AccessPolicy = "strict"
	AccessWarn   AccessPolicy = "warn"
	AccessOff    AccessPolicy = "off"
)

// RegistryConfig configures registry validation and dependency access policies.
type RegistryConfig struct {
	DependencyPolicy DependencyPolicy
	AccessPolicy     AccessPolicy
}

// DefaultConfig is strict on CI runners and lenient elsewhere.
func DefaultConfig() *RegistryConfig {
	if isCIEnvironment() {
		return &RegistryConfig{DependencyPolicy: PolicyStrict, AccessPolicy: AccessStrict}
	}
	return &RegistryConfig{DependencyPolicy: PolicyGraceful, AccessPolicy: AccessWarn}
}

var ciEnvVars = []string{"CI", "TF_BUILD", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_HOME"}

func isCIEnvironment() bool {
	for _, key := range ciEnvVars {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" && !strings.EqualFold(value, "false") && value != "0" {
			return true
		}
	}
	return false
}
