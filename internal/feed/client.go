// internal/feed/client.go
package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"release-tracker/internal/model"
)

// recentEntryLimit caps how many feed entries are considered per poll,
// mirroring the cap on GitHub release lookups.
const recentEntryLimit = 10

// Client fetches Atom/RSS release feeds for sources hosted outside GitHub.
// Most forges expose one at <repo>/releases.atom even when they have no
// release API we speak.
type Client struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewClient creates a feed client. Feeds are public, so no credentials are
// involved.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Fetch downloads and parses the source's release feed.
func (c *Client) Fetch(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
	feedURL := releaseFeedURL(src.RepoURL)
	c.logger.Debug("Fetching release feed", "source", src.Name, "url", feedURL)

	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	limit := len(parsed.Items)
	if limit > recentEntryLimit {
		limit = recentEntryLimit
	}

	out := make([]model.RawRelease, 0, limit)
	for _, item := range parsed.Items[:limit] {
		out = append(out, toRawRelease(item))
	}
	return out, nil
}

// releaseFeedURL turns a project URL into its release feed URL. URLs that
// already point at a feed are used as-is; anything else gets the GitHub and
// Gitea style /releases.atom suffix appended.
func releaseFeedURL(repoURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	lower := strings.ToLower(trimmed)
	for _, suffix := range []string{".atom", ".rss", ".xml"} {
		if strings.HasSuffix(lower, suffix) {
			return trimmed
		}
	}
	return trimmed + "/releases.atom"
}

func toRawRelease(item *gofeed.Item) model.RawRelease {
	published := time.Now().UTC()
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	notes := item.Content
	if notes == "" {
		notes = item.Description
	}

	return model.RawRelease{
		Tag:         tagFromItem(item),
		Title:       strings.TrimSpace(item.Title),
		Body:        notes,
		URL:         item.Link,
		PublishedAt: published,
	}
}

// tagFromItem extracts the version tag from a feed entry. Release feeds link
// to .../releases/tag/<tag>, so the last path segment of such links is the
// tag; anything else falls back to the entry title.
func tagFromItem(item *gofeed.Item) string {
	link := strings.TrimRight(item.Link, "/")
	if strings.Contains(link, "/tag/") {
		if idx := strings.LastIndex(link, "/"); idx >= 0 && idx < len(link)-1 {
			return link[idx+1:]
		}
	}
	return strings.TrimSpace(item.Title)
}
