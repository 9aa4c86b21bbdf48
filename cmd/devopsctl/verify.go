package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
)

type verifyOptions struct {
	ConfigPath string
	Values     []string
}

var verifyCmdRunner = runVerify

func newVerifyCmd(app *appContext) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:     "verify",
		Aliases: []string{"plan"},
		Short:   "Report drift between a manifest and the organization without changing anything",
		Long: `Verify evaluates every resource read-only. Exit codes:
  0  every resource is satisfied
  1  at least one resource is missing or drifted
  2  the manifest or a resource's parameters are invalid
  3  a resource could not be checked (unknown or blocked)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && opts.ConfigPath == "" {
				opts.ConfigPath = args[0]
			}
			return verifyCmdRunner(cmd.Context(), app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the manifest")
	cmd.Flags().StringArrayVar(&opts.Values, "set", nil, "Template value as key=value (repeatable)")

	return cmd
}

func runVerify(ctx context.Context, app *appContext, out io.Writer, opts verifyOptions) error {
	m, err := loadManifest(app.Registry, opts.ConfigPath, opts.Values)
	if err != nil {
		return withExitCode(exitConfig, err)
	}

	log, err := app.newLogger(os.Stderr, m.Settings.Verbose)
	if err != nil {
		return withExitCode(exitRuntime, err)
	}
	sess, err := app.newSession(m, log)
	if err != nil {
		return withExitCode(exitCode(err), err)
	}

	ec := engine.NewExecutionContext(m, app.Registry, sess.Client, log)
	ec.Project = sess.Project
	ec.DryRun = true

	log.WithFields(map[string]any{"manifest": opts.ConfigPath, "resources": len(m.Resources)}).Info("starting verification")

	summary, err := engine.NewExecutor().Verify(ctx, ec, m.Resources)
	if err != nil {
		return withExitCode(exitCode(err), err)
	}

	log.WithFields(map[string]any{
		"total":     summary.Total,
		"satisfied": summary.Satisfied,
		"missing":   summary.Missing,
		"drifted":   summary.Drifted,
		"blocked":   summary.Blocked,
		"unknown":   summary.Unknown,
		"duration":  summary.Duration.String(),
	}).Info("verification complete")

	if app.flags.json {
		if err := printVerifyJSON(out, opts.ConfigPath, summary); err != nil {
			return withExitCode(exitRuntime, err)
		}
	} else {
		printVerifyTable(out, summary, app.flags.verbose || m.Settings.Verbose)
	}

	if code := summary.ExitCode(); code != exitOK {
		return withExitCode(code, nil)
	}
	return nil
}
