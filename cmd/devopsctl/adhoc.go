package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	"github.com/alexisbeaulieu97/devopsctl/internal/engine"
)

// runResource reconciles a single resource built from command flags. A
// spinner with suffix is shown on a terminal while it runs.
func runResource(ctx context.Context, app *appContext, out io.Writer, res config.Resource, suffix string) error {
	sess, err := app.adHocSession()
	if err != nil {
		return err
	}

	ec := engine.NewExecutionContext(&config.Manifest{Project: sess.Project}, app.Registry, sess.Client, sess.Logger)
	ec.Project = sess.Project
	ec.DryRun = app.flags.dryRun

	var s *spinner.Spinner
	if !app.flags.json && term.IsTerminal(int(os.Stderr.Fd())) {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = " " + suffix
		s.Start()
	}

	report, err := engine.NewExecutor().Apply(ctx, ec, []config.Resource{res})

	if s != nil {
		if err != nil {
			s.FinalMSG = text.FgRed.Sprint("✗ ") + suffix + "\n"
		} else {
			s.FinalMSG = text.FgGreen.Sprint("✓ ") + suffix + "\n"
		}
		s.Stop()
	}

	if perr := printApplyReport(out, "", report, app.flags.json); perr != nil && err == nil {
		err = perr
	}
	return err
}
