package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/resilient-vitality/conveyor/internal/app"
	"github.com/resilient-vitality/conveyor/internal/config"
)

// DefaultRawBaseURL serves raw file contents for GitHub repositories.
const DefaultRawBaseURL = "https://raw.githubusercontent.com"

// AppFileName is the application file every managed repository carries.
const AppFileName = ".conveyor.yaml"

// Loader fetches .conveyor.yaml from a repository's default branch. It
// implements the application loader contract used by the app-update action.
type Loader struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewLoader creates a loader. The token is optional and only needed for
// private repositories.
func NewLoader(token string) *Loader {
	return &Loader{
		token:   token,
		baseURL: DefaultRawBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the loader at a different raw host. Used in tests.
func (l *Loader) WithBaseURL(baseURL string) *Loader {
	l.baseURL = strings.TrimSuffix(baseURL, "/")
	return l
}

// LoadApplicationFromRepo fetches and parses the repository's application
// file at HEAD.
func (l *Loader) LoadApplicationFromRepo(ctx context.Context, repo string) (*app.Application, error) {
	org, name, err := splitCloneURL(repo)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/%s/HEAD/%s", l.baseURL, org, name, AppFileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s for %s: %w", AppFileName, repo, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s for %s: unexpected status %d", AppFileName, repo, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return config.ParseAppFile(body)
}

// splitCloneURL extracts the org and repository name from a GitHub clone
// URL like https://github.com/acme/storefront.git.
func splitCloneURL(repo string) (string, string, error) {
	trimmed := strings.TrimSuffix(repo, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse clone url %q", repo)
	}
	org, name := parts[len(parts)-2], parts[len(parts)-1]
	if org == "" || name == "" {
		return "", "", fmt.Errorf("cannot parse clone url %q", repo)
	}
	return org, name, nil
}
