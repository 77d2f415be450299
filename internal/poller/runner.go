// internal/poller/runner.go
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

const (
	// Number of sources to poll in parallel
	defaultConcurrency = 5
	// Per-source budget for one fetch
	defaultFetchTimeout = 30 * time.Second
)

// Runner executes one poll cycle: it fans out over the sources with bounded
// concurrency, normalizes what each returned, and hands the results to the
// persister. A failing source marks only its own result; the cycle always
// runs to completion.
type Runner struct {
	persister *Persister
	timeout   time.Duration
	limit     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a cycle runner. Non-positive timeout and limit fall
// back to the defaults.
func NewRunner(persister *Persister, timeout time.Duration, limit int, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if limit < 1 {
		limit = defaultConcurrency
	}
	return &Runner{
		persister: persister,
		timeout:   timeout,
		limit:     limit,
		logger:    logger,
		now:       time.Now,
	}
}

// RunCycle polls every listed source once. Sources without a repository URL
// are skipped and counted, not failed.
func (r *Runner) RunCycle(ctx context.Context, fetcher Fetcher, sources []model.Source) model.CycleResult {
	cycle := model.CycleResult{
		ID:        uuid.NewString(),
		Results:   []model.PollResult{},
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With("cycle_id", cycle.ID)
	logger.Info("Starting poll cycle", "sources", len(sources), "concurrency", r.limit)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for _, src := range sources {
		if strings.TrimSpace(src.RepoURL) == "" {
			logger.Debug("Skipping source without repository URL", "source", src.Name)
			cycle.SourcesSkipped++
			continue
		}

		src := src
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := r.pollSource(gctx, fetcher, src)
			mu.Lock()
			cycle.Results = append(cycle.Results, res)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // Per-source failures live on the results, never here.

	// Fan-in order depends on scheduling; keep responses stable.
	sort.Slice(cycle.Results, func(i, j int) bool {
		return cycle.Results[i].Source.ID < cycle.Results[j].Source.ID
	})

	cycle.SourcesPolled = len(cycle.Results)
	for _, res := range cycle.Results {
		cycle.TotalUpdates += len(res.Updates)
		cycle.TotalErrors += len(res.Errors)
	}
	cycle.FinishedAt = r.now().UTC()

	logger.Info("Poll cycle finished",
		"sources_polled", cycle.SourcesPolled,
		"sources_skipped", cycle.SourcesSkipped,
		"updates", cycle.TotalUpdates,
		"errors", cycle.TotalErrors,
		"elapsed", cycle.FinishedAt.Sub(cycle.StartedAt).String())
	return cycle
}

// pollSource fetches and persists releases for a single source.
func (r *Runner) pollSource(ctx context.Context, fetcher Fetcher, src model.Source) model.PollResult {
	res := model.PollResult{
		Source:   src,
		Updates:  []model.DetectedUpdate{},
		Errors:   []string{},
		PolledAt: r.now().UTC(),
	}
	logger := r.logger.With("source", src.Name, "client", src.Client)

	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raws, err := fetcher.Fetch(fctx, src)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("Failed to fetch releases", "error", err)
		}
		fetchErr := &custom_errors.SourceFetchError{Source: src.Name, Err: err}
		res.Errors = append(res.Errors, fetchErr.Error())
		return res
	}
	logger.Debug("Fetched releases", "count", len(raws))

	detected := make([]model.DetectedUpdate, 0, len(raws))
	for _, raw := range raws {
		detected = append(detected, normalizeRelease(src, raw))
	}

	created, errs := r.persister.SaveAll(ctx, detected)
	res.Updates = created
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}

	if len(created) > 0 {
		logger.Info("Found new updates", "count", len(created))
	}
	return res
}

// normalizeRelease binds a raw upstream entry to its source and derives the
// hard fork flag from its text.
func normalizeRelease(src model.Source, raw model.RawRelease) model.DetectedUpdate {
	return model.DetectedUpdate{
		SourceID:     src.ID,
		Client:       src.Client,
		Name:         src.Name,
		Title:        raw.Title,
		Tag:          raw.Tag,
		URL:          raw.URL,
		Notes:        raw.Body,
		TarballURL:   raw.TarballURL,
		PublishedAt:  raw.PublishedAt,
		IsDraft:      raw.IsDraft,
		IsPrerelease: raw.IsPrerelease,
		HardFork:     DetectHardFork(raw.Title, raw.Body).HardFork,
	}
}
