package main

import (
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

type rootFlags struct {
	organization string
	project      string
	token        string
	verbose      bool
	dryRun       bool
	json         bool
}

func newRootCmd(registry *plugin.Registry) *cobra.Command {
	app := &appContext{Registry: registry, flags: &rootFlags{}}

	cmd := &cobra.Command{
		Use:   "devopsctl",
		Short: "devopsctl reconciles Azure DevOps resources from declarative manifests",
		Long: `devopsctl converges agent pools, repositories, pipelines, policies,
environments, service connections, hooks, variable groups and work items
to the state declared in a YAML manifest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := app.flags
	cmd.PersistentFlags().StringVarP(&flags.organization, "organization", "o", "", "Organization URL (env "+envOrganization+")")
	cmd.PersistentFlags().StringVarP(&flags.project, "project", "p", "", "Default project (env "+envProject+")")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Personal access token (prefer the AZURE_DEVOPS_PAT environment variable)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Preview changes without mutating anything")
	cmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print machine readable JSON output")

	cmd.AddCommand(newApplyCmd(app))
	cmd.AddCommand(newVerifyCmd(app))
	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newRunCmd(app))
	cmd.AddCommand(newApproveCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
