// Package credentials resolves the token used against the remote API.
package credentials

import (
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

const (
	// DefaultTokenEnv holds a personal access token.
	DefaultTokenEnv = "AZURE_DEVOPS_PAT"
	// AccessTokenEnv holds an OAuth bearer token, used when no PAT is set.
	AccessTokenEnv = "AZURE_DEVOPS_ACCESS_TOKEN"
)

// Scheme selects how the token is presented.
type Scheme string

const (
	SchemeBasic  Scheme = "basic"
	SchemeBearer Scheme = "bearer"
)

// Credential is a resolved token.
type Credential struct {
	Token  string
	Scheme Scheme
	Source string
}

// Request describes where a token may come from.
type Request struct {
	Token    string
	Scheme   Scheme
	TokenEnv string
}

// Resolver turns a Request into a Credential.
type Resolver interface {
	Resolve(req Request) (Credential, error)
}

// EnvResolver resolves explicit tokens first, then the environment.
type EnvResolver struct {
	Lookup func(string) (string, bool)
}

// NewEnvResolver returns a resolver backed by the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Lookup: os.LookupEnv}
}

// Resolve applies the precedence explicit token, configured env var, bearer
// env var, then fails with an AuthenticationError.
func (r *EnvResolver) Resolve(req Request) (Credential, error) {
	scheme := req.Scheme
	if scheme == "" {
		scheme = SchemeBasic
	}

	if token := strings.TrimSpace(req.Token); token != "" {
		return Credential{Token: token, Scheme: scheme, Source: "explicit"}, nil
	}

	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	envName := req.TokenEnv
	if envName == "" {
		envName = DefaultTokenEnv
	}
	if token, ok := lookup(envName); ok && strings.TrimSpace(token) != "" {
		return Credential{Token: strings.TrimSpace(token), Scheme: scheme, Source: "env:" + envName}, nil
	}

	if token, ok := lookup(AccessTokenEnv); ok && strings.TrimSpace(token) != "" {
		return Credential{Token: strings.TrimSpace(token), Scheme: SchemeBearer, Source: "env:" + AccessTokenEnv}, nil
	}

	return Credential{}, devopserrors.NewAuthenticationError("credentials",
		"no token supplied; pass --token, set credentials.token, or export "+envName)
}

// Transport wraps base so every request carries the credential.
func (c Credential) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if c.Scheme == SchemeBearer {
		return &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"}),
			Base:   base,
		}
	}
	return &basicTransport{header: "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+c.Token)), base: base}
}

type basicTransport struct {
	header string
	base   http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", t.header)
	return t.base.RoundTrip(clone)
}
