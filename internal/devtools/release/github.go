package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v68/github"
)

// ErrUnauthorized is returned when GitHub rejects the token.
var ErrUnauthorized = errors.New("invalid authorization token")

// PullRequests creates pull requests. *github.PullRequestsService
// satisfies it.
type PullRequests interface {
	Create(ctx context.Context, owner, repo string, pull *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
}

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string { return r.Owner + "/" + r.Name }

var (
	sshRemote   = regexp.MustCompile(`^git@github\.com:([^/]+)/(.+?)(\.git)?$`)
	httpsRemote = regexp.MustCompile(`^https://github\.com/([^/]+)/(.+?)(\.git)?/?$`)
)

// ParseRepository extracts the repository from a GitHub remote URL in
// either SSH or HTTPS form.
func ParseRepository(remote string) (Repository, error) {
	remote = strings.TrimSpace(remote)
	for _, re := range []*regexp.Regexp{sshRemote, httpsRemote} {
		if m := re.FindStringSubmatch(remote); m != nil {
			return Repository{Owner: m[1], Name: m[2]}, nil
		}
	}
	return Repository{}, fmt.Errorf("could not extract GitHub repository from remote %q", remote)
}

// NewGitHubClient returns a client authenticated with token. A non-empty
// baseURL points it at another API endpoint.
func NewGitHubClient(token, baseURL string) (*github.Client, error) {
	if token == "" {
		return nil, errors.New("please provide a token to authenticate with GitHub")
	}
	client := github.NewClient(nil).WithAuthToken(token)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}

func createPullRequest(ctx context.Context, prs PullRequests, repo Repository, pull *github.NewPullRequest) (*github.PullRequest, error) {
	pr, _, err := prs.Create(ctx, repo.Owner, repo.Name, pull)
	if err != nil {
		var apiErr *github.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("GitHub API error: %w", err)
	}
	return pr, nil
}
