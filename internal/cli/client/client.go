package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the featherd API address used when none is configured.
const DefaultBaseURL = "http://127.0.0.1:4545"

// APIKeyHeader mirrors the header featherd checks for the operator key.
const APIKeyHeader = "X-Feather-API-Key"

// Client wraps REST access to the featherd API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// APIError is a non-2xx answer from featherd.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: http %d", e.Status)
	}
	return fmt.Sprintf("client: http %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from featherd.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// New creates a client with the provided base URL (e.g. http://127.0.0.1:4545).
func New(rawURL, apiKey string) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultBaseURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("client: url %q must include scheme and host", rawURL)
	}
	return &Client{
		baseURL: parsed,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Server is a source or target server as returned by the API.
type Server struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Protocol  string    `json:"protocol"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	BasePath  string    `json:"base_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServerRequest creates or updates a server. BasePath only applies to
// target servers.
type ServerRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	BasePath string `json:"base_path,omitempty"`
}

// Authentication never carries the token; TokenMasked is all the API reveals.
type Authentication struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TokenType   string    `json:"token_type"`
	TokenMasked string    `json:"token_masked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuthenticationRequest creates or updates an authentication. A nil Token on
// update keeps the stored secret.
type AuthenticationRequest struct {
	Name      string  `json:"name"`
	TokenType string  `json:"token_type,omitempty"`
	Token     *string `json:"token,omitempty"`
}

type Route struct {
	ID             string    `json:"id"`
	SourceServerID string    `json:"source_server_id"`
	TargetServerID string    `json:"target_server_id"`
	Method         string    `json:"method"`
	SourcePath     string    `json:"source_path"`
	TargetPath     string    `json:"target_path"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type RouteRequest struct {
	SourceServerID string `json:"source_server_id"`
	TargetServerID string `json:"target_server_id"`
	Method         string `json:"method"`
	SourcePath     string `json:"source_path"`
	TargetPath     string `json:"target_path"`
}

// RouteAuth is the combined authentication state of a route.
type RouteAuth struct {
	RouteID       string   `json:"route_id"`
	SourceAuthIDs []string `json:"source_auth_ids"`
	TargetAuthID  *string  `json:"target_auth_id"`
}

// RouteAuthRequest replaces the relations that are non-nil.
type RouteAuthRequest struct {
	SourceAuthIDs *[]string `json:"source_auth_ids,omitempty"`
	TargetAuthID  *string   `json:"target_auth_id,omitempty"`
}

type ServerOptions struct {
	SourceServerID string     `json:"source_server_id"`
	TLSCertPath    string     `json:"tls_cert_path"`
	TLSKeyPath     string     `json:"tls_key_path"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

type ACLOptions struct {
	SourceServerID string     `json:"source_server_id,omitempty"`
	Mode           string     `json:"mode"`
	ClientIPHeader string     `json:"client_ip_header"`
	AllowList      []string   `json:"allow_list"`
	DenyList       []string   `json:"deny_list"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

type SnapshotRoute struct {
	Route
	SourceAuthIDs []string `json:"source_auth_ids"`
	TargetAuthID  *string  `json:"target_auth_id"`
}

// Snapshot is a consistent copy of the whole configuration.
type Snapshot struct {
	TakenAt         time.Time        `json:"taken_at"`
	SourceServers   []Server         `json:"source_servers"`
	TargetServers   []Server         `json:"target_servers"`
	Authentications []Authentication `json:"authentications"`
	Routes          []SnapshotRoute  `json:"routes"`
	ServerOptions   []ServerOptions  `json:"server_options"`
	ACLOptions      []ACLOptions     `json:"acl_options"`
}

func (c *Client) ListSourceServers(ctx context.Context) ([]Server, error) {
	var out []Server
	if err := c.call(ctx, http.MethodGet, "/api/v1/source-servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSourceServer(ctx context.Context, id string) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodGet, "/api/v1/source-servers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSourceServer(ctx context.Context, payload ServerRequest) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodPost, "/api/v1/source-servers", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSourceServer(ctx context.Context, id string, payload ServerRequest) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodPut, "/api/v1/source-servers/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSourceServer(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/source-servers/"+url.PathEscape(id), nil, nil)
}

// ListCandidateTargets returns target servers a route from the source server
// may forward to.
func (c *Client) ListCandidateTargets(ctx context.Context, sourceServerID string) ([]Server, error) {
	var out []Server
	if err := c.call(ctx, http.MethodGet, "/api/v1/source-servers/"+url.PathEscape(sourceServerID)+"/candidate-targets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetServerOptions(ctx context.Context, sourceServerID string) (*ServerOptions, error) {
	var out ServerOptions
	if err := c.call(ctx, http.MethodGet, "/api/v1/source-servers/"+url.PathEscape(sourceServerID)+"/options", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetServerOptions(ctx context.Context, sourceServerID string, payload ServerOptions) (*ServerOptions, error) {
	var out ServerOptions
	if err := c.call(ctx, http.MethodPut, "/api/v1/source-servers/"+url.PathEscape(sourceServerID)+"/options", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetACL(ctx context.Context, sourceServerID string) (*ACLOptions, error) {
	var out ACLOptions
	if err := c.call(ctx, http.MethodGet, "/api/v1/source-servers/"+url.PathEscape(sourceServerID)+"/acl", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetACL(ctx context.Context, sourceServerID string, payload ACLOptions) (*ACLOptions, error) {
	var out ACLOptions
	if err := c.call(ctx, http.MethodPut, "/api/v1/source-servers/"+url.PathEscape(sourceServerID)+"/acl", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTargetServers(ctx context.Context) ([]Server, error) {
	var out []Server
	if err := c.call(ctx, http.MethodGet, "/api/v1/target-servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTargetServer(ctx context.Context, id string) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodGet, "/api/v1/target-servers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTargetServer(ctx context.Context, payload ServerRequest) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodPost, "/api/v1/target-servers", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTargetServer(ctx context.Context, id string, payload ServerRequest) (*Server, error) {
	var out Server
	if err := c.call(ctx, http.MethodPut, "/api/v1/target-servers/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTargetServer(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/target-servers/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListAuthentications(ctx context.Context) ([]Authentication, error) {
	var out []Authentication
	if err := c.call(ctx, http.MethodGet, "/api/v1/authentications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAuthentication(ctx context.Context, id string) (*Authentication, error) {
	var out Authentication
	if err := c.call(ctx, http.MethodGet, "/api/v1/authentications/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAuthentication(ctx context.Context, payload AuthenticationRequest) (*Authentication, error) {
	var out Authentication
	if err := c.call(ctx, http.MethodPost, "/api/v1/authentications", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAuthentication(ctx context.Context, id string, payload AuthenticationRequest) (*Authentication, error) {
	var out Authentication
	if err := c.call(ctx, http.MethodPut, "/api/v1/authentications/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAuthentication(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/authentications/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListRoutes(ctx context.Context) ([]Route, error) {
	var out []Route
	if err := c.call(ctx, http.MethodGet, "/api/v1/routes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRoute(ctx context.Context, id string) (*Route, error) {
	var out Route
	if err := c.call(ctx, http.MethodGet, "/api/v1/routes/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateRoute(ctx context.Context, payload RouteRequest) (*Route, error) {
	var out Route
	if err := c.call(ctx, http.MethodPost, "/api/v1/routes", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateRoute(ctx context.Context, id string, payload RouteRequest) (*Route, error) {
	var out Route
	if err := c.call(ctx, http.MethodPut, "/api/v1/routes/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/routes/"+url.PathEscape(id), nil, nil)
}

// ResolveRoute asks which route (method, path) on a source server matches.
func (c *Client) ResolveRoute(ctx context.Context, sourceServerID, method, path string) (*Route, error) {
	query := url.Values{}
	query.Set("source_server_id", sourceServerID)
	query.Set("method", method)
	query.Set("path", path)
	var out Route
	if err := c.call(ctx, http.MethodGet, "/api/v1/resolve?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSourceAuths(ctx context.Context, routeID string) ([]string, error) {
	var out struct {
		AuthenticationIDs []string `json:"authentication_ids"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/routes/"+url.PathEscape(routeID)+"/source-auth", nil, &out); err != nil {
		return nil, err
	}
	return out.AuthenticationIDs, nil
}

func (c *Client) SetSourceAuths(ctx context.Context, routeID string, ids []string) ([]string, error) {
	if ids == nil {
		ids = []string{}
	}
	payload := map[string][]string{"authentication_ids": ids}
	var out struct {
		AuthenticationIDs []string `json:"authentication_ids"`
	}
	if err := c.call(ctx, http.MethodPut, "/api/v1/routes/"+url.PathEscape(routeID)+"/source-auth", payload, &out); err != nil {
		return nil, err
	}
	return out.AuthenticationIDs, nil
}

// GetTargetAuth returns the route's upstream authentication id, or "".
func (c *Client) GetTargetAuth(ctx context.Context, routeID string) (string, error) {
	var out struct {
		AuthenticationID *string `json:"authentication_id"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/routes/"+url.PathEscape(routeID)+"/target-auth", nil, &out); err != nil {
		return "", err
	}
	if out.AuthenticationID == nil {
		return "", nil
	}
	return *out.AuthenticationID, nil
}

// SetTargetAuth sets the upstream authentication; "" clears it.
func (c *Client) SetTargetAuth(ctx context.Context, routeID, authID string) error {
	payload := map[string]*string{"authentication_id": nil}
	if authID != "" {
		payload["authentication_id"] = &authID
	}
	return c.call(ctx, http.MethodPut, "/api/v1/routes/"+url.PathEscape(routeID)+"/target-auth", payload, nil)
}

func (c *Client) GetRouteAuth(ctx context.Context, routeID string) (*RouteAuth, error) {
	var out RouteAuth
	if err := c.call(ctx, http.MethodGet, "/api/v1/routes/"+url.PathEscape(routeID)+"/auth", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRouteAuth replaces both relations in one transaction on the server.
func (c *Client) SetRouteAuth(ctx context.Context, routeID string, payload RouteAuthRequest) (*RouteAuth, error) {
	var out RouteAuth
	if err := c.call(ctx, http.MethodPut, "/api/v1/routes/"+url.PathEscape(routeID)+"/auth", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var out Snapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/snapshot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reload asks featherd to signal the data plane.
func (c *Client) Reload(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/v1/reload", nil, nil)
}

// OpenAPIDocument fetches the raw OpenAPI document served by featherd.
func (c *Client) OpenAPIDocument(ctx context.Context) ([]byte, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/openapi.json", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse path: %w", err)
	}
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + "/"
	resolved := base.ResolveReference(ref)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
