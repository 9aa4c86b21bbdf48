// Package devops is a thin REST client for the Azure DevOps API surface the
// resource kinds reconcile against.
package devops

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"

	"github.com/alexisbeaulieu97/devopsctl/internal/credentials"
	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

const (
	// DefaultAPIVersion is sent on every request unless overridden.
	DefaultAPIVersion = "7.1"
	// PreviewAPIVersion is used by the endpoints still in preview.
	PreviewAPIVersion = "7.1-preview.1"

	contentTypeJSON      = "application/json"
	contentTypeJSONPatch = "application/json-patch+json"
	correlationHeader    = "X-Correlation-ID"
	defaultTimeout       = 30 * time.Second
	projectCacheSize     = 64
)

// Options configures a Client.
type Options struct {
	OrganizationURL string
	Credential      credentials.Credential
	HTTPClient      *http.Client
	APIVersion      string
	Logger          *logger.Logger
}

// Client talks to one organization.
type Client struct {
	base       *url.URL
	identity   *url.URL
	http       *http.Client
	apiVersion string
	log        *logger.Logger
	projects   *lru.Cache
}

// Request is one call against the API.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	ContentType string
	APIVersion  string
	// Identity routes the call to the identity (vssps) host.
	Identity bool
}

// NewClient builds a client for the organization URL. A supplied HTTP client
// is copied, never modified. Without one, a 30s client over a clone of the
// default transport is used. The transport is wrapped to carry the
// credential.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.OrganizationURL), "/")
	if raw == "" {
		return nil, devopserrors.NewValidationError("organization", "organization URL is required", nil)
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, devopserrors.NewValidationError("organization", fmt.Sprintf("invalid organization URL %q", opts.OrganizationURL), err)
	}

	hc := &http.Client{Timeout: defaultTimeout}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		hc = &copied
	}
	if hc.Transport == nil {
		hc.Transport = defaultTransport()
	}
	if opts.Credential.Token != "" {
		hc.Transport = opts.Credential.Transport(hc.Transport)
	}

	cache, err := lru.New(projectCacheSize)
	if err != nil {
		return nil, err
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	return &Client{
		base:       base,
		identity:   identityURL(base),
		http:       hc,
		apiVersion: apiVersion,
		log:        opts.Logger,
		projects:   cache,
	}, nil
}

// defaultTransport clones http.DefaultTransport when it is the stock
// transport. A replaced one (an HTTP mock, a proxy shim) is used as is.
func defaultTransport() http.RoundTripper {
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		return t.Clone()
	}
	return http.DefaultTransport
}

// identityURL maps dev.azure.com/{org} to vssps.dev.azure.com/{org} and
// {org}.visualstudio.com to {org}.vssps.visualstudio.com. Other hosts (on
// premises servers) serve identities themselves.
func identityURL(base *url.URL) *url.URL {
	out := *base
	switch {
	case strings.EqualFold(base.Host, "dev.azure.com"):
		out.Host = "vssps.dev.azure.com"
	case strings.HasSuffix(strings.ToLower(base.Host), ".visualstudio.com"):
		org := strings.TrimSuffix(strings.ToLower(base.Host), ".visualstudio.com")
		out.Host = org + ".vssps.visualstudio.com"
	}
	return &out
}

// Organization returns the organization URL.
func (c *Client) Organization() string {
	return c.base.String()
}

// OrgPath builds an organization scoped API path.
func OrgPath(parts ...string) string {
	return "_apis/" + joinEscaped(parts)
}

// ProjectPath builds a project scoped API path.
func ProjectPath(project string, parts ...string) string {
	return url.PathEscape(project) + "/_apis/" + joinEscaped(parts)
}

func joinEscaped(parts []string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, seg := range strings.Split(p, "/") {
			escaped = append(escaped, url.PathEscape(seg))
		}
	}
	return strings.Join(escaped, "/")
}

// Do executes req and decodes a successful JSON response into out (which may
// be nil). Non-2xx responses and transport failures become RemoteCallErrors.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	base := c.base
	if req.Identity {
		base = c.identity
	}
	target := base.JoinPath(req.Path)

	query := url.Values{}
	for k, v := range req.Query {
		query[k] = v
	}
	version := req.APIVersion
	if version == "" {
		version = c.apiVersion
	}
	query.Set("api-version", version)
	target.RawQuery = query.Encode()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	httpReq.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = contentTypeJSON
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	log := c.log
	if ctxLog := logger.FromContext(ctx); ctxLog.CorrelationID() != "" || log == nil {
		log = ctxLog
	}
	if id := log.CorrelationID(); id != "" {
		httpReq.Header.Set(correlationHeader, id)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return devopserrors.NewRemoteCallError(req.Method, req.Path, 0, "", err)
	}
	defer resp.Body.Close()

	log.WithFields(map[string]any{
		"method":   req.Method,
		"path":     req.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	}).Debug("api call")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return devopserrors.NewRemoteCallError(req.Method, req.Path, resp.StatusCode, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return devopserrors.NewRemoteCallError(req.Method, req.Path, resp.StatusCode, serverMessage(raw), nil)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return devopserrors.NewRemoteCallError(req.Method, req.Path, resp.StatusCode, "decode response", err)
	}
	return nil
}

func serverMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Query: query, Body: body}, out)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Query: query, Body: body}, out)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Query: query, Body: body}, out)
}

// PatchDocument issues a PATCH or POST carrying a JSON patch document.
func (c *Client) PatchDocument(ctx context.Context, method, path string, query url.Values, ops []PatchOperation, out any) error {
	return c.Do(ctx, Request{Method: method, Path: path, Query: query, Body: ops, ContentType: contentTypeJSONPatch}, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Query: query}, nil)
}

// listEnvelope is the collection wrapper every list endpoint returns.
type listEnvelope[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// List fetches a collection and unwraps its value array.
func List[T any](ctx context.Context, c *Client, req Request) ([]T, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	var env listEnvelope[T]
	if err := c.Do(ctx, req, &env); err != nil {
		return nil, err
	}
	return env.Value, nil
}

// GetOptional fetches a single object and reports a 404 as (false, nil).
func (c *Client) GetOptional(ctx context.Context, path string, query url.Values, out any) (bool, error) {
	err := c.Get(ctx, path, query, out)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// IsNotFound reports whether err came from a 404 response.
func IsNotFound(err error) bool {
	return devopserrors.IsNotFound(err)
}

// PatchOperation is one JSON patch operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value"`
}
