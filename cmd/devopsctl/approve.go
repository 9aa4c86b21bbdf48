package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

type approveOptions struct {
	BuildID    int
	ApprovalID string
	Comment    string
	Reject     bool
}

var approveCmdRunner = runApprove

func newApproveCmd(app *appContext) *cobra.Command {
	opts := approveOptions{}

	cmd := &cobra.Command{
		Use:   "approve <build-id>",
		Short: "Approve or reject the pending approvals of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return devopserrors.NewValidationError("build-id", fmt.Sprintf("invalid build id %q", args[0]), err)
			}
			opts.BuildID = id
			return approveCmdRunner(cmd.Context(), app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.ApprovalID, "approval-id", "", "Only decide this approval")
	cmd.Flags().StringVar(&opts.Comment, "comment", "", "Comment recorded with the decision")
	cmd.Flags().BoolVar(&opts.Reject, "reject", false, "Reject instead of approve")

	return cmd
}

func (opts approveOptions) resource() config.Resource {
	state := "approve"
	if opts.Reject {
		state = "reject"
	}
	p := map[string]any{"build_id": opts.BuildID, "state": state}
	if opts.ApprovalID != "" {
		p["approval_id"] = opts.ApprovalID
	}
	if opts.Comment != "" {
		p["comment"] = opts.Comment
	}
	return config.Resource{ID: "approval", Kind: "pipeline_approval", Enabled: true, Params: p}
}

func runApprove(ctx context.Context, app *appContext, out io.Writer, opts approveOptions) error {
	res := opts.resource()
	verb := "Approving"
	if opts.Reject {
		verb = "Rejecting"
	}
	return runResource(ctx, app, out, res, fmt.Sprintf("%s approvals of build %d", verb, opts.BuildID))
}
