// Package devopstest builds clients whose traffic is intercepted by gock.
package devopstest

import (
	"bytes"
	"io"
	"net/http"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/credentials"
	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
)

// Org is the organization URL test clients point at.
const Org = "https://dev.azure.com/contoso"

// Identity is the identity host matching Org.
const Identity = "https://vssps.dev.azure.com/contoso"

// NewClient returns a client intercepted by gock. Pending mocks are flushed
// when the test ends.
func NewClient(t *testing.T) *devops.Client {
	t.Helper()
	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.RestoreClient(hc)
		gock.Off()
	})

	c, err := devops.NewClient(devops.Options{
		OrganizationURL: Org,
		Credential:      credentials.Credential{Token: "pat", Scheme: credentials.SchemeBasic},
		HTTPClient:      hc,
	})
	require.NoError(t, err)
	return c
}

// AssertDone fails the test when a registered mock was not consumed.
func AssertDone(t *testing.T) {
	t.Helper()
	require.True(t, gock.IsDone(), "pending mocks: %d", len(gock.Pending()))
}

// List wraps values in the collection envelope list endpoints return.
func List(values ...any) map[string]any {
	if values == nil {
		values = []any{}
	}
	return map[string]any{"count": len(values), "value": values}
}

// MatchJSON matches a request whose JSON body decodes to the same value as
// want. Unlike gock's body matcher it also handles array payloads.
func MatchJSON(want any) gock.MatchFunc {
	return func(req *http.Request, _ *gock.Request) (bool, error) {
		if req.Body == nil {
			return false, nil
		}
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return false, err
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))

		expected, err := json.Marshal(want)
		if err != nil {
			return false, err
		}
		var got, exp any
		if err := json.Unmarshal(raw, &got); err != nil {
			return false, nil
		}
		if err := json.Unmarshal(expected, &exp); err != nil {
			return false, err
		}
		return reflect.DeepEqual(got, exp), nil
	}
}
