package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

var (
	showCmdRunner = runShow
	listCmdRunner = runList
)

func newShowCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <name-or-id>",
		Short: "Print the current remote state of one resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCmdRunner(cmd.Context(), app, cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func newListCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <kind>",
		Short: "List the remote resources of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCmdRunner(cmd.Context(), app, cmd.OutOrStdout(), args[0])
		},
	}
}

// inspector returns the kind when it can be queried.
func inspector(registry *plugin.Registry, kind string) (plugin.Inspector, error) {
	p, err := registry.Get(kind)
	if err != nil {
		return nil, err
	}
	insp, ok := p.(plugin.Inspector)
	if !ok {
		return nil, devopserrors.NewValidationError("kind", fmt.Sprintf("kind %q cannot be inspected", kind), nil)
	}
	return insp, nil
}

func (a *appContext) adHocSession() (*session, error) {
	log, err := a.newLogger(os.Stderr, false)
	if err != nil {
		return nil, err
	}
	return a.newSession(nil, log)
}

func runShow(ctx context.Context, app *appContext, out io.Writer, kind, nameOrID string) error {
	insp, err := inspector(app.Registry, kind)
	if err != nil {
		return err
	}
	sess, err := app.adHocSession()
	if err != nil {
		return err
	}
	snap, err := insp.Show(ctx, sess.request(nil, true), nameOrID)
	if err != nil {
		return err
	}
	return printSnapshot(out, snap, app.flags.json)
}

func runList(ctx context.Context, app *appContext, out io.Writer, kind string) error {
	insp, err := inspector(app.Registry, kind)
	if err != nil {
		return err
	}
	sess, err := app.adHocSession()
	if err != nil {
		return err
	}
	snaps, err := insp.List(ctx, sess.request(nil, true))
	if err != nil {
		return err
	}
	return printSnapshots(out, kind, snaps, app.flags.json)
}
