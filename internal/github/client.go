// internal/github/client.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

// recentReleaseLimit caps how many entries are read per source and poll.
// Only the first page is fetched; anything older has either been seen by a
// previous cycle or predates tracking entirely.
const recentReleaseLimit = 10

// Repository URLs arrive in whatever shape users pasted them in, so both the
// web and the REST API forms are accepted. The API form must be tried first:
// its URLs also match the web pattern, with "repos" as a bogus owner.
var (
	apiRepoURLPattern = regexp.MustCompile(`api\.github\.com/repos/([^/\s]+)/([^/\s]+)`)
	webRepoURLPattern = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s]+)`)
)

// ParseRepoURL extracts the owner and repository name from a GitHub URL.
func ParseRepoURL(raw string) (owner, name string, err error) {
	trimmed := strings.TrimSpace(raw)

	m := apiRepoURLPattern.FindStringSubmatch(trimmed)
	if m == nil {
		m = webRepoURLPattern.FindStringSubmatch(trimmed)
	}
	if m == nil {
		return "", "", &custom_errors.ErrInvalidRepoURL{URL: raw}
	}

	owner = m[1]
	name = strings.TrimSuffix(strings.TrimRight(m[2], "/"), ".git")
	if owner == "" || name == "" {
		return "", "", &custom_errors.ErrInvalidRepoURL{URL: raw}
	}
	return owner, name, nil
}

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// NewClientWithBase is like NewClient but points every request at baseURL
// instead of api.github.com, for GitHub Enterprise deployments and tests.
func NewClientWithBase(baseURL, token string, logger *slog.Logger) (*Client, error) {
	c := NewClient(token, logger)
	gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("configure github base URL: %w", err)
	}
	c.gh = gh
	return c, nil
}

// Fetch returns the recent releases of a source, reading either the release
// list or the tag list depending on the source's repo type.
func (c *Client) Fetch(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
	owner, name, err := ParseRepoURL(src.RepoURL)
	if err != nil {
		return nil, err
	}

	if src.RepoType == model.RepoTypeTags {
		return c.listTags(ctx, owner, name)
	}
	return c.listReleases(ctx, owner, name)
}

func (c *Client) listReleases(ctx context.Context, owner, name string) ([]model.RawRelease, error) {
	c.logger.Debug("Fetching releases", "owner", owner, "repo", name)

	releases, _, err := c.gh.Repositories.ListReleases(ctx, owner, name, &github.ListOptions{
		PerPage: recentReleaseLimit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RawRelease, 0, len(releases))
	for _, rel := range releases {
		out = append(out, toRawRelease(rel))
	}
	return out, nil
}

func (c *Client) listTags(ctx context.Context, owner, name string) ([]model.RawRelease, error) {
	c.logger.Debug("Fetching tags", "owner", owner, "repo", name)

	tags, _, err := c.gh.Repositories.ListTags(ctx, owner, name, &github.ListOptions{
		PerPage: recentReleaseLimit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RawRelease, 0, len(tags))
	for _, tag := range tags {
		out = append(out, c.toRawTag(ctx, owner, name, tag))
	}
	return out, nil
}

// toRawRelease translates a github.RepositoryRelease object to our internal model.RawRelease.
func toRawRelease(r *github.RepositoryRelease) model.RawRelease {
	title := r.GetName()
	if title == "" {
		title = r.GetTagName()
	}
	published := r.GetPublishedAt().Time
	if published.IsZero() {
		published = r.GetCreatedAt().Time
	}

	return model.RawRelease{
		Tag:          r.GetTagName(),
		Title:        title,
		Body:         r.GetBody(),
		URL:          r.GetHTMLURL(),
		TarballURL:   r.GetTarballURL(),
		PublishedAt:  published,
		IsDraft:      r.GetDraft(),
		IsPrerelease: r.GetPrerelease(),
	}
}

// toRawTag translates a bare git tag into the same shape a release has. Tags
// carry no title, notes or prerelease flag, so the release page URL is
// synthesized and the publication time comes from the tagged commit.
func (c *Client) toRawTag(ctx context.Context, owner, name string, t *github.RepositoryTag) model.RawRelease {
	return model.RawRelease{
		Tag:         t.GetName(),
		Title:       t.GetName(),
		URL:         fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", owner, name, t.GetName()),
		TarballURL:  t.GetTarballURL(),
		PublishedAt: c.commitDate(ctx, owner, name, t.GetCommit().GetSHA()),
	}
}

// commitDate resolves the committer timestamp behind a tag. Falls back to
// the current time when the lookup fails, which keeps tag-only sources
// usable even if the commit has been garbage collected.
func (c *Client) commitDate(ctx context.Context, owner, name, sha string) time.Time {
	if sha == "" {
		return time.Now().UTC()
	}

	commit, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		c.logger.Debug("Could not resolve commit date for tag", "owner", owner, "repo", name, "sha", sha, "error", err)
		return time.Now().UTC()
	}

	date := commit.GetCommit().GetCommitter().GetDate().Time
	if date.IsZero() {
		return time.Now().UTC()
	}
	return date
}
