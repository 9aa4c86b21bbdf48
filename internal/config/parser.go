package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseOptions tunes manifest loading.
type ParseOptions struct {
	// Values are exposed to the template as .Values.
	Values map[string]string
	// Kinds restricts resource kinds to the registered set when non-empty.
	Kinds []string
}

// ParseManifest loads a manifest from disk, renders it, validates it, and
// returns the resulting model.
func ParseManifest(path string, opts ParseOptions) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, devopserrors.NewParseError(path, 0, err)
	}
	return ParseManifestBytes(path, data, opts)
}

// ParseManifestBytes is ParseManifest for content already in memory. path is
// only used in error messages.
func ParseManifestBytes(path string, data []byte, opts ParseOptions) (*Manifest, error) {
	rendered, err := Render(path, data, opts.Values)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(rendered, &m); err != nil {
		return nil, devopserrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateManifest(&m, opts.Kinds...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Render executes the manifest as a text/template with the sprig function map.
func Render(path string, data []byte, values map[string]string) ([]byte, error) {
	tmpl, err := template.New(path).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(string(data))
	if err != nil {
		return nil, devopserrors.NewParseError(path, extractLine(err), fmt.Errorf("template: %w", err))
	}

	if values == nil {
		values = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"Values": values}); err != nil {
		return nil, devopserrors.NewParseError(path, extractLine(err), fmt.Errorf("template: %w", err))
	}
	return buf.Bytes(), nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
