// Package github implements the SourceHostClient port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SourceHostClient = (*Client)(nil)

// Client implements the driven.SourceHostClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new source-forge API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// Factory returns a driven.SourceHostFactory producing per-token clients.
func Factory() driven.SourceHostFactory {
	return func(token string) driven.SourceHostClient {
		return NewClient(token)
	}
}

// GetRepo returns the repository ref for owner/name, or (nil, nil) when it
// does not exist.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (*model.RepoRef, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		perr := wrapErr(err, fmt.Sprintf("get repository %s/%s", owner, name))
		if driven.IsNotFound(perr) {
			return nil, nil
		}
		return nil, perr
	}
	return &model.RepoRef{
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
		URL:      repo.GetHTMLURL(),
	}, nil
}

// CreateFromTemplate generates a new repository from a template repository.
func (c *Client) CreateFromTemplate(ctx context.Context, templateOwner, templateRepo, owner, name string) (*model.RepoRef, error) {
	req := &gh.TemplateRepoRequest{
		Name:               gh.Ptr(name),
		Owner:              gh.Ptr(owner),
		Private:            gh.Ptr(true),
		IncludeAllBranches: gh.Ptr(false),
	}

	repo, _, err := c.gh.Repositories.CreateFromTemplate(ctx, templateOwner, templateRepo, req)
	if err != nil {
		return nil, wrapErr(err, fmt.Sprintf("create %s/%s from template %s/%s", owner, name, templateOwner, templateRepo))
	}

	return &model.RepoRef{
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
		URL:      repo.GetHTMLURL(),
	}, nil
}

// GetFile fetches a file with its content revision.
func (c *Client) GetFile(ctx context.Context, owner, repo, path string) (*model.RepoFile, error) {
	fileContent, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, wrapErr(err, fmt.Sprintf("get %s/%s:%s", owner, repo, path))
	}
	if fileContent == nil {
		return nil, &driven.PlatformError{
			Platform:   model.PlatformSourceForge,
			StatusCode: http.StatusUnprocessableEntity,
			Kind:       driven.KindOther,
			Message:    fmt.Sprintf("%s/%s:%s is a directory, not a file", owner, repo, path),
		}
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s/%s:%s: %w", owner, repo, path, err)
	}

	return &model.RepoFile{
		Path:     path,
		Content:  content,
		Revision: fileContent.GetSHA(),
	}, nil
}

// PutFile creates or updates a file. revision must be the current content
// revision for updates and empty for creation.
func (c *Client) PutFile(ctx context.Context, owner, repo, path, content, revision string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(fmt.Sprintf("Update %s", path)),
		Content: []byte(content),
	}

	var err error
	if revision == "" {
		opts.Message = gh.Ptr(fmt.Sprintf("Add %s", path))
		_, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, path, opts)
	} else {
		opts.SHA = gh.Ptr(revision)
		_, _, err = c.gh.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return wrapErr(err, fmt.Sprintf("put %s/%s:%s", owner, repo, path))
	}
	return nil
}

// DeleteFile removes a file at the given content revision.
func (c *Client) DeleteFile(ctx context.Context, owner, repo, path, revision string) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(fmt.Sprintf("Remove %s", path)),
		SHA:     gh.Ptr(revision),
	}

	_, _, err := c.gh.Repositories.DeleteFile(ctx, owner, repo, path, opts)
	if err != nil {
		return wrapErr(err, fmt.Sprintf("delete %s/%s:%s", owner, repo, path))
	}
	return nil
}

// IsCollaborator reports whether the user already has access to the repository.
func (c *Client) IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error) {
	isCollab, _, err := c.gh.Repositories.IsCollaborator(ctx, owner, repo, username)
	if err != nil {
		return false, wrapErr(err, fmt.Sprintf("check collaborator %s on %s/%s", username, owner, repo))
	}
	return isCollab, nil
}

// InviteCollaborator invites the user with the given role. Returns true when
// a new invitation was issued, false when the user already had access.
func (c *Client) InviteCollaborator(ctx context.Context, owner, repo, username, role string) (bool, error) {
	invitation, _, err := c.gh.Repositories.AddCollaborator(ctx, owner, repo, username, &gh.RepositoryAddCollaboratorOptions{
		Permission: role,
	})
	if err != nil {
		return false, wrapErr(err, fmt.Sprintf("invite %s to %s/%s", username, owner, repo))
	}

	// A nil invitation means the user was already a collaborator (204).
	return invitation != nil, nil
}

// DeleteRepo removes the repository identified by its "owner/name" full name.
func (c *Client) DeleteRepo(ctx context.Context, fullName string) error {
	owner, repo, err := splitRepo(fullName)
	if err != nil {
		return err
	}

	if _, err := c.gh.Repositories.Delete(ctx, owner, repo); err != nil {
		return wrapErr(err, fmt.Sprintf("delete repository %s", fullName))
	}
	return nil
}

// wrapErr converts a go-github error into the port-level typed PlatformError,
// classifying the kind once at the adapter boundary.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}

	status := 0
	message := err.Error()
	kind := driven.KindOther

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	var ghErr *gh.ErrorResponse

	switch {
	case errors.As(err, &rateErr):
		status = http.StatusForbidden
		kind = driven.KindRateLimited
		message = rateErr.Message
	case errors.As(err, &abuseErr):
		status = http.StatusForbidden
		kind = driven.KindRateLimited
		message = abuseErr.Message
	case errors.As(err, &ghErr):
		if ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
		message = ghErr.Message
		kind = classifyStatus(status, ghErr)
	}

	return &driven.PlatformError{
		Platform:   model.PlatformSourceForge,
		StatusCode: status,
		Kind:       kind,
		Message:    fmt.Sprintf("%s: %s", op, message),
		Err:        err,
	}
}

func classifyStatus(status int, ghErr *gh.ErrorResponse) driven.ErrorKind {
	switch status {
	case http.StatusNotFound:
		return driven.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return driven.KindUnauthorized
	case http.StatusConflict:
		return driven.KindConcurrentModification
	case http.StatusTooManyRequests:
		return driven.KindRateLimited
	case http.StatusUnprocessableEntity:
		for _, sub := range ghErr.Errors {
			if strings.Contains(strings.ToLower(sub.Message), "already exists") {
				return driven.KindAlreadyExists
			}
		}
		if strings.Contains(strings.ToLower(ghErr.Message), "already exists") {
			return driven.KindAlreadyExists
		}
		return driven.KindOther
	default:
		return driven.KindOther
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
