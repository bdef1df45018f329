// Package source resolves a deployment's repository and branch to the
// commit currently at its head.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"agentbox/internal/security"
)

// ErrNotFound means the repository or branch does not exist or is not
// visible with the configured token.
var ErrNotFound = errors.New("repository or branch not found")

const maxRedirects = 3

// Commit is the head of a branch.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	URL     string    `json:"url"`
}

// Resolver looks up branch heads through the GitHub API.
type Resolver struct {
	client *github.Client
	logger *slog.Logger
}

// NewResolver returns a resolver. An empty token uses anonymous access;
// baseURL overrides the API endpoint (GitHub Enterprise, tests).
func NewResolver(token, baseURL string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Resolver{client: client, logger: logger.With("component", "source")}, nil
}

// ResolveCommit returns the head commit of branch in repoURL.
func (r *Resolver) ResolveCommit(ctx context.Context, repoURL, branch string) (*Commit, error) {
	owner, repo, err := security.SplitGitURL(repoURL)
	if err != nil {
		return nil, err
	}
	if err := security.ValidateBranchName(branch); err != nil {
		return nil, err
	}

	b, resp, err := r.client.Repositories.GetBranch(ctx, owner, repo, branch, maxRedirects)
	if err != nil {
		if isNotFound(resp, err) {
			return nil, fmt.Errorf("%w: %s/%s@%s", ErrNotFound, owner, repo, branch)
		}
		return nil, fmt.Errorf("failed to fetch branch %s of %s/%s: %w", branch, owner, repo, err)
	}

	head := b.GetCommit()
	if head.GetSHA() == "" {
		return nil, fmt.Errorf("branch %s of %s/%s has no head commit", branch, owner, repo)
	}

	c := &Commit{
		SHA:     head.GetSHA(),
		Message: head.GetCommit().GetMessage(),
		URL:     head.GetHTMLURL(),
	}
	if author := head.GetCommit().GetAuthor(); author != nil {
		c.Author = author.GetName()
		c.Date = author.GetDate().Time
	}

	r.logger.Debug("Resolved branch head", "repo", owner+"/"+repo, "branch", branch, "sha", c.SHA)
	return c, nil
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
