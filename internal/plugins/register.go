// Package plugins lists the built-in resource kinds.
package plugins

import (
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	agentpoolplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/agentpool"
	branchpolicyplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/branchpolicy"
	environmentplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/environment"
	pipelineplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/pipeline"
	pipelineapprovalplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/pipelineapproval"
	repositoryplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/repository"
	serviceendpointplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/serviceendpoint"
	servicehookplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/servicehook"
	variablegroupplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/variablegroup"
	workitemplugin "github.com/alexisbeaulieu97/devopsctl/internal/plugins/workitem"
)

// All returns a fresh instance of every built-in kind.
func All() []plugin.Plugin {
	return []plugin.Plugin{
		agentpoolplugin.New(),
		repositoryplugin.New(),
		pipelineplugin.New(),
		branchpolicyplugin.New(),
		environmentplugin.New(),
		pipelineapprovalplugin.New(),
		serviceendpointplugin.New(),
		servicehookplugin.New(),
		variablegroupplugin.New(),
		workitemplugin.New(),
	}
}

// Register adds every built-in kind to registry, validates their
// dependencies and initializes them.
func Register(registry *plugin.Registry) error {
	for _, p := range All() {
		if err := registry.Register(p); err != nil {
			return err
		}
	}
	if err := registry.ValidateDependencies(); err != nil {
		return err
	}
	return registry.InitializePlugins()
}
