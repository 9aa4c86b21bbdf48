package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/devopsctl/internal/config"
)

type runOptions struct {
	Pipeline   string
	Branch     string
	Variables  []string
	Parameters []string
	Wait       bool
	Timeout    time.Duration
}

var runCmdRunner = runPipeline

func newRunCmd(app *appContext) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Queue a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Pipeline = args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runCmdRunner(ctx, app, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Source branch (defaults to the pipeline's default branch)")
	cmd.Flags().StringArrayVar(&opts.Variables, "var", nil, "Run variable as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Parameters, "param", nil, "Template parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "How long --wait polls before giving up")

	return cmd
}

// resource builds the ad-hoc pipeline resource for opts.
func (opts runOptions) resource() (config.Resource, error) {
	vars, err := parseKeyValues("var", opts.Variables)
	if err != nil {
		return config.Resource{}, err
	}
	params, err := parseKeyValues("param", opts.Parameters)
	if err != nil {
		return config.Resource{}, err
	}

	p := map[string]any{"name": opts.Pipeline, "state": "run"}
	if opts.Branch != "" {
		p["branch"] = opts.Branch
	}
	if len(vars) > 0 {
		p["variables"] = toAny(vars)
	}
	if len(params) > 0 {
		p["template_parameters"] = toAny(params)
	}
	if opts.Wait {
		p["wait_for_completion"] = true
		if opts.Timeout > 0 {
			p["wait_timeout"] = int(opts.Timeout.Seconds())
		}
	}
	return config.Resource{ID: "run", Kind: "pipeline", Enabled: true, Params: p}, nil
}

func runPipeline(ctx context.Context, app *appContext, out io.Writer, opts runOptions) error {
	res, err := opts.resource()
	if err != nil {
		return err
	}
	suffix := fmt.Sprintf("Queueing %s", opts.Pipeline)
	if opts.Wait {
		suffix = fmt.Sprintf("Running %s", opts.Pipeline)
	}
	return runResource(ctx, app, out, res, suffix)
}

func toAny(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
