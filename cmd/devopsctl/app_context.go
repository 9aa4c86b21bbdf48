package main

import (
	"io"
	"os"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/credentials"
	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

const (
	envOrganization = "AZURE_DEVOPS_ORG_URL"
	envProject      = "AZURE_DEVOPS_PROJECT"
)

// appContext bundles what every command shares.
type appContext struct {
	Registry *plugin.Registry
	flags    *rootFlags
	lookup   func(string) (string, bool)
}

// session is the per invocation state built once the manifest, if any, is
// known.
type session struct {
	Client  *devops.Client
	Logger  *logger.Logger
	Project string
}

func (a *appContext) env(key string) string {
	lookup := a.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return strings.TrimSpace(v)
}

// newLogger builds the command logger tagged with a fresh correlation id.
// Output goes to w, which is io.Discard while the TUI owns the terminal.
func (a *appContext) newLogger(w io.Writer, verbose bool) (*logger.Logger, error) {
	level := "info"
	if verbose || a.flags.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: !a.flags.json, Writer: w})
	if err != nil {
		return nil, err
	}
	return log.WithCorrelationID(""), nil
}

// newSession resolves the organization, project and credential with the
// precedence flag, manifest, environment.
func (a *appContext) newSession(m *config.Manifest, log *logger.Logger) (*session, error) {
	var manifestOrg, manifestProject string
	var creds config.Credentials
	if m != nil {
		manifestOrg, manifestProject, creds = m.Organization, m.Project, m.Credentials
	}

	org := firstNonEmpty(a.flags.organization, manifestOrg, a.env(envOrganization))
	project := firstNonEmpty(a.flags.project, manifestProject, a.env(envProject))

	resolver := &credentials.EnvResolver{Lookup: a.lookup}
	cred, err := resolver.Resolve(credentials.Request{
		Token:    firstNonEmpty(a.flags.token, creds.Token),
		TokenEnv: creds.TokenEnv,
		Scheme:   credentials.Scheme(creds.Scheme),
	})
	if err != nil {
		return nil, err
	}

	client, err := devops.NewClient(devops.Options{
		OrganizationURL: org,
		Credential:      cred,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{
		"organization": client.Organization(),
		"project":      project,
		"credential":   cred.Source,
	}).Debug("session ready")

	return &session{Client: client, Logger: log, Project: project}, nil
}

// request builds a plugin request for ad-hoc commands.
func (s *session) request(res *config.Resource, dryRun bool) *plugin.Request {
	return &plugin.Request{
		Resource: res,
		Client:   s.Client,
		Project:  s.Project,
		DryRun:   dryRun,
		Logger:   s.Logger,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
