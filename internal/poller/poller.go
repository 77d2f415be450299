// internal/poller/poller.go

// Package poller implements the release polling engine: a run/stop state
// machine that periodically fans out over every tracked source, records the
// releases it has not seen before, and keeps its run state aligned with the
// config row shared by all sessions.
package poller

import (
	"context"
	"time"

	"release-tracker/internal/model"
)

// SourceLister provides the sources to poll.
type SourceLister interface {
	ListSources(ctx context.Context) ([]model.Source, error)
}

// ConfigStore reads and writes the shared poller config row.
type ConfigStore interface {
	GetPollerConfig(ctx context.Context) (model.PollerConfig, error)
	UpdatePollerConfig(ctx context.Context, patch model.ConfigPatch) (model.PollerConfig, error)
	SetLastPollTime(ctx context.Context, t time.Time) error
}

// UpdateSink persists detected updates and answers natural key lookups.
type UpdateSink interface {
	GetUpdateByClientAndTag(ctx context.Context, client, tag string) (model.Update, error)
	CreateUpdate(ctx context.Context, upd model.DetectedUpdate) (model.Update, error)
}

// Fetcher returns the recent releases of one source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]model.RawRelease, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, src model.Source) ([]model.RawRelease, error)

func (f FetcherFunc) Fetch(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
	return f(ctx, src)
}

// FetcherFactory builds the fetch strategy for one run session. It is called
// with the API token in effect when the engine starts running, so a token
// rotation takes effect without a process restart.
type FetcherFactory func(token string) Fetcher

// RouteFetcher dispatches each source to the strategy matching its repo
// type: API lookups for GitHub-hosted sources, feed parsing for the rest.
type RouteFetcher struct {
	API  Fetcher
	Feed Fetcher
}

func (r RouteFetcher) Fetch(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
	if src.RepoType == model.RepoTypeFeed && r.Feed != nil {
		return r.Feed.Fetch(ctx, src)
	}
	return r.API.Fetch(ctx, src)
}
