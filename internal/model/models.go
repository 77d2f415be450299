// internal/model/models.go
package model

import (
	"time"
)

// RepoType selects the strategy used to fetch release data for a source.
type RepoType string

const (
	// RepoTypeReleases reads the GitHub releases list. This is the default.
	RepoTypeReleases RepoType = "releases"
	// RepoTypeTags reads the GitHub tags list, for projects that tag
	// versions without cutting releases.
	RepoTypeTags RepoType = "tags"
	// RepoTypeFeed reads an Atom/RSS release feed, for projects hosted
	// outside GitHub.
	RepoTypeFeed RepoType = "feed"
)

// Valid reports whether rt is one of the known repo types.
func (rt RepoType) Valid() bool {
	switch rt {
	case RepoTypeReleases, RepoTypeTags, RepoTypeFeed:
		return true
	}
	return false
}

// Source is a tracked upstream project whose releases are polled.
type Source struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Client    string    `json:"client"`
	RepoURL   string    `json:"repo_url"`
	RepoType  RepoType  `json:"repo_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PollerConfig is the single persisted row of poller settings. Enabled is
// the desired state shared by every running session; LastPollTime is nil
// until the first cycle completes and never moves backwards after that.
type PollerConfig struct {
	ID              int64      `json:"id"`
	APIToken        string     `json:"-"`
	IntervalMinutes int        `json:"interval_minutes"`
	Enabled         bool       `json:"enabled"`
	LastPollTime    *time.Time `json:"last_poll_time"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ConfigPatch is a sparse update to PollerConfig. Nil fields are left
// unchanged.
type ConfigPatch struct {
	APIToken        *string
	IntervalMinutes *int
	Enabled         *bool
}

// RawRelease is one release entry as returned by an upstream, before it is
// normalized against a source.
type RawRelease struct {
	Tag          string
	Title        string
	Body         string
	URL          string
	TarballURL   string
	PublishedAt  time.Time
	IsDraft      bool
	IsPrerelease bool
}

// DetectedUpdate is a release normalized against its source, ready to be
// persisted. Client plus Tag is the natural key used for deduplication.
type DetectedUpdate struct {
	SourceID     int64     `json:"source_id"`
	Client       string    `json:"client"`
	Name         string    `json:"name"`
	Title        string    `json:"title"`
	Tag          string    `json:"tag"`
	URL          string    `json:"url"`
	Notes        string    `json:"notes,omitempty"`
	TarballURL   string    `json:"tarball_url,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	IsDraft      bool      `json:"is_draft"`
	IsPrerelease bool      `json:"is_prerelease"`
	HardFork     bool      `json:"hard_fork"`
}

// Update is a persisted release record.
type Update struct {
	ID           int64      `json:"id"`
	SourceID     *int64     `json:"source_id"`
	Client       string     `json:"client"`
	Name         string     `json:"name"`
	Title        string     `json:"title"`
	Tag          string     `json:"tag"`
	URL          string     `json:"url"`
	Notes        string     `json:"notes,omitempty"`
	TarballURL   string     `json:"tarball_url,omitempty"`
	PublishedAt  *time.Time `json:"published_at"`
	IsDraft      bool       `json:"is_draft"`
	IsPrerelease bool       `json:"is_prerelease"`
	HardFork     bool       `json:"hard_fork"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PollResult is the outcome of polling one source within a cycle. Updates
// holds only releases that were newly persisted; Errors holds the failures
// hit while fetching or saving, as display strings.
type PollResult struct {
	Source   Source           `json:"source"`
	Updates  []DetectedUpdate `json:"updates"`
	Errors   []string         `json:"errors"`
	PolledAt time.Time        `json:"polled_at"`
}

// CycleResult aggregates one full poll cycle across all sources.
type CycleResult struct {
	ID             string       `json:"id"`
	Results        []PollResult `json:"results"`
	Errors         []string     `json:"errors,omitempty"`
	SourcesPolled  int          `json:"sources_polled"`
	SourcesSkipped int          `json:"sources_skipped"`
	TotalUpdates   int          `json:"total_updates"`
	TotalErrors    int          `json:"total_errors"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// PollerStatus is a point-in-time snapshot derived from the engine's run
// state and the persisted config. NextRun is set only while the poller is
// enabled and has completed at least one cycle.
type PollerStatus struct {
	IsRunning       bool       `json:"is_running"`
	Enabled         bool       `json:"enabled"`
	Polling         bool       `json:"polling"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	RecentErrors    []string   `json:"recent_errors"`
}
