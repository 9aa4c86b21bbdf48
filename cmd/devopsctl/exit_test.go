package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"explicit", withExitCode(exitDrift, nil), exitDrift},
		{"manifest validation", devopserrors.NewValidationError("version", "unsupported", nil), exitConfig},
		{"parse", devopserrors.NewParseError("m.yaml", 3, errors.New("bad indent")), exitConfig},
		{"credentials", devopserrors.NewAuthenticationError("credentials", "no token"), exitConfig},
		{"resource params", plugin.NewValidationError("repo", errors.New("name is required")), exitConfig},
		{"unknown kind", fmt.Errorf("lookup: %w", plugin.ErrPluginNotFound{Name: "teapot"}), exitConfig},
		{"remote", plugin.NewStateError("repo", devopserrors.NewRemoteCallError("GET", "x", 500, "boom", nil)), exitRuntime},
		{"plain", errors.New("boom"), exitRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "exit status 1", withExitCode(exitDrift, nil).Error())
	wrapped := withExitCode(exitConfig, errors.New("bad manifest"))
	require.Equal(t, "bad manifest", wrapped.Error())
	require.EqualError(t, errors.Unwrap(wrapped), "bad manifest")
}
