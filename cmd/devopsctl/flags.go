package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

func validateConfigPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return devopserrors.NewValidationError("config", "manifest file is required", nil)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return devopserrors.NewValidationError("config", "resolve manifest path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return devopserrors.NewValidationError("config", "manifest file does not exist", err)
	}
	if info.IsDir() {
		return devopserrors.NewValidationError("config", fmt.Sprintf("manifest path %s is a directory", abs), nil)
	}
	return nil
}

// parseKeyValues turns repeated key=value flags into a map.
func parseKeyValues(flag string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, devopserrors.NewValidationError(flag, fmt.Sprintf("expected key=value, got %q", pair), nil)
		}
		out[key] = value
	}
	return out, nil
}

// loadManifest validates the path, renders --set values and restricts kinds
// to the registered set.
func loadManifest(registry *plugin.Registry, path string, sets []string) (*config.Manifest, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	values, err := parseKeyValues("set", sets)
	if err != nil {
		return nil, err
	}
	return config.ParseManifest(path, config.ParseOptions{Values: values, Kinds: registry.List()})
}
