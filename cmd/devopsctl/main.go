package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins"
)

func main() {
	registry := plugin.NewRegistry(plugin.DefaultConfig(), nil)
	if err := plugins.Register(registry); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare resource kinds: %v\n", err)
		os.Exit(exitRuntime)
	}

	if err := newRootCmd(registry).Execute(); err != nil {
		var quiet *exitError
		if !errors.As(err, &quiet) || quiet.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}
