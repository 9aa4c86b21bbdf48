package main

import (
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

const (
	exitOK      = 0
	exitDrift   = 1
	exitConfig  = 2
	exitRuntime = 3
)

// exitError carries an explicit process exit code. A nil err means the
// command already reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps an error onto the documented exit codes: 2 for manifest,
// parameter and credential problems, 3 for everything else.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}

	var (
		validationErr *devopserrors.ValidationError
		parseErr      *devopserrors.ParseError
		authErr       *devopserrors.AuthenticationError
		paramErr      *plugin.ValidationError
		notFound      plugin.ErrPluginNotFound
	)
	switch {
	case errors.As(err, &paramErr),
		errors.As(err, &validationErr),
		errors.As(err, &parseErr),
		errors.As(err, &authErr),
		errors.As(err, &notFound):
		return exitConfig
	}
	return exitRuntime
}
