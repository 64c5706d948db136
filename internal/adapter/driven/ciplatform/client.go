// Package ciplatform implements the CIPlatformClient port against the
// ci-platform's JSON REST API.
package ciplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CIPlatformClient = (*Client)(nil)

// defaultHTTPClient enforces a 30-second timeout as a safety net alongside
// context cancellation.
var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// Client implements the driven.CIPlatformClient port over the platform's
// REST API. One Client per credential: the token identifies the acting user.
type Client struct {
	baseURL string
	account string
	token   string
	http    *http.Client
}

// NewClient creates a ci-platform client for the given API base URL, account
// scope, and user token.
func NewClient(baseURL, account, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		account: account,
		token:   token,
		http:    defaultHTTPClient,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// Intended for testing against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, account, token string) *Client {
	c := NewClient(baseURL, account, token)
	c.http = httpClient
	return c
}

// Factory returns a driven.CIPlatformFactory producing per-token clients.
func Factory(baseURL, account string) driven.CIPlatformFactory {
	return func(token string) driven.CIPlatformClient {
		return NewClient(baseURL, account, token)
	}
}

// errorBody is the platform's error envelope.
type errorBody struct {
	Message string `json:"message"`
}

// do performs one JSON request/response round trip. A nil out skips response
// decoding. Failures surface as *driven.PlatformError with a classified kind.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	op := method + " " + path

	u := c.baseURL + path
	if c.account != "" {
		if params == nil {
			params = url.Values{}
		}
		params.Set("accountIdentifier", c.account)
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiError(op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr != nil || eb.Message == "" {
			eb.Message = strings.TrimSpace(string(raw))
		}
		if eb.Message == "" {
			eb.Message = resp.Status
		}
		return apiError(op, resp.StatusCode, eb.Message, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// GetOrganization resolves the tenant owning created resources. The account
// scope pins the listing to a single organization; the first entry wins.
func (c *Client) GetOrganization(ctx context.Context) (*model.Organization, error) {
	var payload struct {
		Organizations []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"organizations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/organizations", nil, nil, &payload); err != nil {
		return nil, err
	}
	if len(payload.Organizations) == 0 {
		return nil, apiError("GET /api/v1/organizations", http.StatusNotFound, "no organization visible to this token", nil)
	}
	org := payload.Organizations[0]
	return &model.Organization{ID: org.ID, Name: org.Name}, nil
}

// ListRepositories returns the repositories the platform currently observes.
func (c *Client) ListRepositories(ctx context.Context) ([]model.CIRepository, error) {
	var payload struct {
		Repositories []struct {
			URL string `json:"url"`
		} `json:"repositories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/repositories", nil, nil, &payload); err != nil {
		return nil, err
	}

	repos := make([]model.CIRepository, 0, len(payload.Repositories))
	for _, r := range payload.Repositories {
		repos = append(repos, model.CIRepository{URL: r.URL})
	}
	return repos, nil
}

type componentPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RepoURL string `json:"repo_url"`
}

// ListComponents returns all components in the account scope.
func (c *Client) ListComponents(ctx context.Context) ([]model.Component, error) {
	var payload struct {
		Components []componentPayload `json:"components"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/components", nil, nil, &payload); err != nil {
		return nil, err
	}

	components := make([]model.Component, 0, len(payload.Components))
	for _, p := range payload.Components {
		components = append(components, model.Component{ID: p.ID, Name: p.Name, RepoURL: p.RepoURL})
	}
	return components, nil
}

// CreateComponent creates a component backed by the given repository URL.
func (c *Client) CreateComponent(ctx context.Context, name, repoURL string) (*model.Component, error) {
	req := map[string]string{"name": name, "repo_url": repoURL}
	var p componentPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/components", nil, req, &p); err != nil {
		return nil, err
	}
	return &model.Component{ID: p.ID, Name: p.Name, RepoURL: p.RepoURL}, nil
}

// DeleteComponent removes a component from the organization.
func (c *Client) DeleteComponent(ctx context.Context, orgID, componentID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/components/%s", orgID, componentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

type environmentPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Production bool   `json:"production"`
}

// ListEnvironments returns all environments in the account scope.
func (c *Client) ListEnvironments(ctx context.Context) ([]model.Environment, error) {
	var payload struct {
		Environments []environmentPayload `json:"environments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/environments", nil, nil, &payload); err != nil {
		return nil, err
	}

	envs := make([]model.Environment, 0, len(payload.Environments))
	for _, p := range payload.Environments {
		envs = append(envs, model.Environment{ID: p.ID, Name: p.Name, Production: p.Production})
	}
	return envs, nil
}

// CreateEnvironment creates a deployment environment.
func (c *Client) CreateEnvironment(ctx context.Context, name string, production bool) (*model.Environment, error) {
	req := map[string]any{"name": name, "production": production}
	var p environmentPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/environments", nil, req, &p); err != nil {
		return nil, err
	}
	return &model.Environment{ID: p.ID, Name: p.Name, Production: p.Production}, nil
}

// DeleteEnvironment removes an environment from the organization.
func (c *Client) DeleteEnvironment(ctx context.Context, orgID, environmentID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/environments/%s", orgID, environmentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// CreateEnvironmentSecret injects a named secret into an environment.
func (c *Client) CreateEnvironmentSecret(ctx context.Context, environmentID, name, value string) error {
	path := fmt.Sprintf("/api/v1/environments/%s/secrets", environmentID)
	req := map[string]string{"name": name, "value": value}
	return c.do(ctx, http.MethodPost, path, nil, req, nil)
}

// CreateEnvironmentToken mints a named access token scoped to an environment.
func (c *Client) CreateEnvironmentToken(ctx context.Context, environmentID, name string) error {
	path := fmt.Sprintf("/api/v1/environments/%s/tokens", environmentID)
	req := map[string]string{"name": name}
	return c.do(ctx, http.MethodPost, path, nil, req, nil)
}

type applicationPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListApplications returns all applications in the account scope.
func (c *Client) ListApplications(ctx context.Context) ([]model.Application, error) {
	var payload struct {
		Applications []applicationPayload `json:"applications"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/applications", nil, nil, &payload); err != nil {
		return nil, err
	}

	apps := make([]model.Application, 0, len(payload.Applications))
	for _, p := range payload.Applications {
		apps = append(apps, model.Application{ID: p.ID, Name: p.Name})
	}
	return apps, nil
}

// CreateApplication links components to environments under a new application.
func (c *Client) CreateApplication(ctx context.Context, name string, componentIDs, environmentIDs []string) (*model.Application, error) {
	req := map[string]any{
		"name":            name,
		"component_ids":   componentIDs,
		"environment_ids": environmentIDs,
	}
	var p applicationPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/applications", nil, req, &p); err != nil {
		return nil, err
	}
	return &model.Application{ID: p.ID, Name: p.Name}, nil
}

// DeleteApplication removes an application from the organization.
func (c *Client) DeleteApplication(ctx context.Context, orgID, applicationID string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/applications/%s", orgID, applicationID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

type flagPayload struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ListFlags returns all feature flags in the account scope.
func (c *Client) ListFlags(ctx context.Context) ([]model.Flag, error) {
	var payload struct {
		Flags []flagPayload `json:"flags"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/flags", nil, nil, &payload); err != nil {
		return nil, err
	}

	flags := make([]model.Flag, 0, len(payload.Flags))
	for _, p := range payload.Flags {
		flags = append(flags, model.Flag{Key: p.Key, Name: p.Name})
	}
	return flags, nil
}

// CreateFlag defines a feature flag.
func (c *Client) CreateFlag(ctx context.Context, key, name string) (*model.Flag, error) {
	req := map[string]string{"key": key, "name": name}
	var p flagPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/flags", nil, req, &p); err != nil {
		return nil, err
	}
	return &model.Flag{Key: p.Key, Name: p.Name}, nil
}

// DeleteFlag removes a feature flag from the organization.
func (c *Client) DeleteFlag(ctx context.Context, orgID, flagKey string) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/flags/%s", orgID, flagKey)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// SetFlagState configures a flag's state in one environment for one application.
func (c *Client) SetFlagState(ctx context.Context, flagKey, environmentID, applicationID string, enabled bool) error {
	path := fmt.Sprintf("/api/v1/flags/%s/environments/%s", flagKey, environmentID)
	req := map[string]any{"enabled": enabled, "application_id": applicationID}
	return c.do(ctx, http.MethodPatch, path, nil, req, nil)
}
