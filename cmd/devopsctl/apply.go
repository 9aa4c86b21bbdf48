package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/tui"
)

type applyOptions struct {
	ConfigPath      string
	Values          []string
	Parallel        int
	ContinueOnError bool
	Interactive     bool
}

var applyCmdRunner = runApply

func newApplyCmd(app *appContext) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile every resource of a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Interactive = !app.flags.json && term.IsTerminal(int(os.Stdout.Fd()))
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return applyCmdRunner(ctx, app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the manifest")
	cmd.Flags().StringArrayVar(&opts.Values, "set", nil, "Template value as key=value (repeatable)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "Override settings.parallel")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "Keep going after a resource fails")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runApply(ctx context.Context, app *appContext, out io.Writer, opts applyOptions) error {
	m, err := loadManifest(app.Registry, opts.ConfigPath, opts.Values)
	if err != nil {
		return err
	}
	report, err := applyManifest(ctx, app, out, m, opts)
	if perr := printApplyReport(out, opts.ConfigPath, report, app.flags.json); perr != nil && err == nil {
		err = perr
	}
	return err
}

// applyManifest runs one apply of m, through the TUI when interactive.
func applyManifest(ctx context.Context, app *appContext, out io.Writer, m *config.Manifest, opts applyOptions) (*engine.Report, error) {
	var logOut io.Writer = os.Stderr
	if opts.Interactive {
		logOut = io.Discard
	}
	log, err := app.newLogger(logOut, m.Settings.Verbose)
	if err != nil {
		return nil, err
	}
	sess, err := app.newSession(m, log)
	if err != nil {
		return nil, err
	}

	ec := engine.NewExecutionContext(m, app.Registry, sess.Client, log)
	ec.Project = sess.Project
	ec.DryRun = ec.DryRun || app.flags.dryRun
	ec.ContinueOnError = ec.ContinueOnError || opts.ContinueOnError
	if opts.Parallel > 0 {
		ec.Parallel = opts.Parallel
	}

	executor := engine.NewExecutor()
	plan, err := executor.Plan(m.Resources)
	if err != nil {
		return nil, err
	}
	log.WithFields(map[string]any{
		"manifest":  m.Name,
		"resources": plan.Size(),
		"levels":    len(plan.Levels),
		"dry_run":   ec.DryRun,
	}).Info("starting apply")

	if !opts.Interactive {
		return executor.Apply(ctx, ec, m.Resources)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(tui.NewModel(m, plan, ec.DryRun, cancel), tea.WithOutput(out), tea.WithContext(ctx))
	ec.OnStart = func(res *config.Resource) {
		program.Send(tui.ResourceStartMsg{ID: res.ID, Kind: res.Kind})
	}
	ec.OnComplete = func(result model.ResourceResult) {
		program.Send(tui.ResourceCompleteMsg{Result: result})
	}

	var (
		report  *engine.Report
		execErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, execErr = executor.Apply(ctx, ec, m.Resources)
		program.Send(tui.DoneMsg{Report: report, Err: execErr})
	}()

	_, programErr := program.Run()
	interrupted := ctx.Err() != nil
	cancel()
	<-done
	if execErr == nil && programErr != nil && !interrupted {
		execErr = programErr
	}
	return report, execErr
}
