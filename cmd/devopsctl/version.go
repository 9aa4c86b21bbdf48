package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "devopsctl %s\ncommit: %s\nbuilt: %s\nplugin api: %s\n", version, commit, date, plugin.HostAPIVersion)
			return nil
		},
	}
}
