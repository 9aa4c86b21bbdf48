package devops

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/credentials"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

const testOrg = "https://dev.azure.com/contoso"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.RestoreClient(hc)
		gock.Off()
	})

	c, err := NewClient(Options{
		OrganizationURL: testOrg + "/",
		Credential:      credentials.Credential{Token: "pat", Scheme: credentials.SchemeBasic},
		HTTPClient:      hc,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesOrganization(t *testing.T) {
	_, err := NewClient(Options{})
	var validationErr *devopserrors.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = NewClient(Options{OrganizationURL: "contoso"})
	require.ErrorAs(t, err, &validationErr)
}

func TestNewClientLeavesCallerClientUntouched(t *testing.T) {
	base := &http.Client{}
	_, err := NewClient(Options{
		OrganizationURL: testOrg,
		Credential:      credentials.Credential{Token: "pat", Scheme: credentials.SchemeBasic},
		HTTPClient:      base,
	})
	require.NoError(t, err)
	require.Nil(t, base.Transport)

	c, err := NewClient(Options{OrganizationURL: testOrg})
	require.NoError(t, err)
	require.IsType(t, &http.Transport{}, c.http.Transport)
	require.NotSame(t, http.DefaultTransport, c.http.Transport)
	require.Equal(t, defaultTimeout, c.http.Timeout)
}

func TestDoSendsAuthAndAPIVersion(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Get("/_apis/distributedtask/pools").
		MatchParam("api-version", "7.1").
		MatchParam("poolName", "pool-A").
		MatchHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":pat"))).
		Reply(200).
		JSON(map[string]any{"count": 1, "value": []map[string]any{{"id": 7, "name": "pool-A"}}})

	type pool struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	pools, err := List[pool](context.Background(), c, Request{Path: OrgPath("distributedtask", "pools"), Query: url.Values{"poolName": {"pool-A"}}})
	require.NoError(t, err)
	require.Equal(t, []pool{{ID: 7, Name: "pool-A"}}, pools)
	require.True(t, gock.IsDone())
}

func TestDoMapsErrorStatus(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Post("/web/_apis/git/repositories").
		Reply(409).
		JSON(map[string]any{"message": "TF400948: A Git repository with the name web already exists."})

	err := c.Post(context.Background(), ProjectPath("web", "git", "repositories"), nil, map[string]any{"name": "web"}, nil)

	var remoteErr *devopserrors.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusConflict, remoteErr.StatusCode)
	require.Contains(t, remoteErr.Message, "already exists")
}

func TestGetOptionalTreats404AsAbsent(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Get("/_apis/distributedtask/pools/99").
		Reply(404).
		JSON(map[string]any{"message": "pool 99 not found"})

	var out map[string]any
	found, err := c.GetOptional(context.Background(), OrgPath("distributedtask", "pools", "99"), nil, &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetOptionalSurfacesAuthFailures(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Get("/_apis/distributedtask/pools/1").
		Reply(401)

	var out map[string]any
	_, err := c.GetOptional(context.Background(), OrgPath("distributedtask", "pools", "1"), nil, &out)
	var remoteErr *devopserrors.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusUnauthorized, remoteErr.StatusCode)
	require.False(t, IsNotFound(err))
}

func TestDoForwardsCorrelationID(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Delete("/_apis/distributedtask/pools/3").
		MatchHeader(correlationHeader, "corr-1").
		Reply(204)

	ctx := logger.IntoContext(context.Background(), logger.Nop().WithCorrelationID("corr-1"))
	require.NoError(t, c.Delete(ctx, OrgPath("distributedtask", "pools", "3"), nil))
	require.True(t, gock.IsDone())
}

func TestProjectIsCached(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Get("/_apis/projects/web").
		Times(1).
		Reply(200).
		JSON(map[string]any{"id": "p-1", "name": "web"})

	first, err := c.Project(context.Background(), "web")
	require.NoError(t, err)
	second, err := c.Project(context.Background(), "WEB")
	require.NoError(t, err)
	require.Equal(t, "p-1", first.ID)
	require.Same(t, first, second)
}

func TestProjectNotFound(t *testing.T) {
	c := newTestClient(t)

	gock.New(testOrg).
		Get("/_apis/projects/missing").
		Reply(404)

	_, err := c.Project(context.Background(), "missing")
	var notFound *devopserrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFindIdentityFallsBackToGraphUsers(t *testing.T) {
	c := newTestClient(t)

	gock.New("https://vssps.dev.azure.com/contoso").
		Get("/_apis/identities").
		MatchParam("filterValue", "jane@contoso.com").
		Reply(200).
		JSON(map[string]any{"count": 0, "value": []any{}})
	gock.New("https://vssps.dev.azure.com/contoso").
		Get("/_apis/graph/users").
		Reply(200).
		JSON(map[string]any{"count": 1, "value": []map[string]any{{"mailAddress": "Jane@contoso.com", "originId": "u-1"}}})

	id, err := c.FindIdentity(context.Background(), "jane@contoso.com")
	require.NoError(t, err)
	require.Equal(t, "u-1", id)
}

func TestIdentityURL(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://contoso.visualstudio.com")
	require.Equal(t, "contoso.vssps.visualstudio.com", identityURL(u).Host)

	u, _ = url.Parse("https://tfs.internal/tfs/DefaultCollection")
	require.Equal(t, "tfs.internal", identityURL(u).Host)
}

func TestProjectPathEscapesSegments(t *testing.T) {
	t.Parallel()

	require.Equal(t, "My%20Project/_apis/wit/workitems/$Bug", ProjectPath("My Project", "wit/workitems", "$Bug"))
}
