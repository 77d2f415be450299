// internal/poller/runner_test.go
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

func newTestRunner(sink UpdateSink, timeout time.Duration, limit int) *Runner {
	return NewRunner(NewPersister(sink, testLogger()), timeout, limit, testLogger())
}

func TestRunner_RunCycle_HonorsPerSourceTimeout(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r := newTestRunner(new(MockUpdateSink), 50*time.Millisecond, 2)
	sources := []model.Source{{ID: 1, Name: "Geth", Client: "geth", RepoURL: "https://github.com/ethereum/go-ethereum"}}

	start := time.Now()
	cycle := r.RunCycle(context.Background(), fetcher, sources)

	assert.Less(t, time.Since(start), 2*time.Second, "a hung source must not stall the cycle")
	assert.Equal(t, 1, cycle.TotalErrors)
	require.Len(t, cycle.Results, 1)
	require.Len(t, cycle.Results[0].Errors, 1)
	assert.Contains(t, cycle.Results[0].Errors[0], context.DeadlineExceeded.Error())
}

func TestRunner_RunCycle_ContinuesPastFailures(t *testing.T) {
	sources := []model.Source{
		{ID: 1, Name: "Geth", Client: "geth", RepoURL: "https://github.com/ethereum/go-ethereum"},
		{ID: 2, Name: "Reth", Client: "reth", RepoURL: "https://github.com/paradigmxyz/reth"},
		{ID: 3, Name: "Lighthouse", Client: "lighthouse", RepoURL: "https://github.com/sigp/lighthouse"},
		{ID: 4, Name: "Prysm", Client: "prysm", RepoURL: "https://github.com/prysmaticlabs/prysm"},
	}

	fetcher := FetcherFunc(func(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
		if src.ID != 3 {
			return nil, errors.New("api: 403 rate limited")
		}
		return []model.RawRelease{{Tag: "v5.1.0", Title: "Lighthouse v5.1.0", PublishedAt: time.Now()}}, nil
	})

	sink := new(MockUpdateSink)
	sink.On("GetUpdateByClientAndTag", mock.Anything, "lighthouse", "v5.1.0").
		Return(model.Update{}, custom_errors.ErrUpdateNotFound).Once()
	sink.On("CreateUpdate", mock.Anything, mock.Anything).Return(model.Update{ID: 1}, nil).Once()

	r := newTestRunner(sink, time.Second, 2)
	cycle := r.RunCycle(context.Background(), fetcher, sources)

	assert.Equal(t, 4, cycle.SourcesPolled)
	assert.Equal(t, 3, cycle.TotalErrors)
	assert.Equal(t, 1, cycle.TotalUpdates)

	require.Len(t, cycle.Results, 4)
	lighthouse := cycle.Results[2]
	assert.Equal(t, "lighthouse", lighthouse.Source.Client)
	require.Len(t, lighthouse.Updates, 1)
	assert.Equal(t, "v5.1.0", lighthouse.Updates[0].Tag)
	sink.AssertExpectations(t)
}

func TestRunner_RunCycle_CapsConcurrency(t *testing.T) {
	const limit = 2

	var active, maxActive atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
		cur := active.Add(1)
		for {
			seen := maxActive.Load()
			if cur <= seen || maxActive.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})

	sources := make([]model.Source, 6)
	for i := range sources {
		sources[i] = model.Source{ID: int64(i + 1), Name: "s", Client: "c", RepoURL: "https://github.com/o/r"}
	}

	r := newTestRunner(new(MockUpdateSink), time.Second, limit)
	cycle := r.RunCycle(context.Background(), fetcher, sources)

	assert.Equal(t, 6, cycle.SourcesPolled)
	assert.LessOrEqual(t, maxActive.Load(), int32(limit))
}

func TestRunner_RunCycle_SortsResultsBySourceID(t *testing.T) {
	sources := []model.Source{
		{ID: 3, Name: "C", Client: "c", RepoURL: "https://github.com/o/c"},
		{ID: 1, Name: "A", Client: "a", RepoURL: "https://github.com/o/a"},
		{ID: 2, Name: "B", Client: "b", RepoURL: "https://github.com/o/b"},
	}

	// Finish in reverse ID order so insertion order differs from source order.
	fetcher := FetcherFunc(func(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
		time.Sleep(time.Duration(src.ID) * 10 * time.Millisecond)
		return nil, nil
	})

	r := newTestRunner(new(MockUpdateSink), time.Second, 3)
	cycle := r.RunCycle(context.Background(), fetcher, sources)

	require.Len(t, cycle.Results, 3)
	for i, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, cycle.Results[i].Source.ID)
	}
}

func TestRunner_RunCycle_DerivesHardForkFlag(t *testing.T) {
	sources := []model.Source{{ID: 1, Name: "Geth", Client: "geth", RepoURL: "https://github.com/ethereum/go-ethereum"}}
	fetcher := FetcherFunc(func(ctx context.Context, src model.Source) ([]model.RawRelease, error) {
		return []model.RawRelease{
			{Tag: "v1.13.0", Title: "Dencun Mainnet Release", Body: "Enables EIP-4844", PublishedAt: time.Now()},
			{Tag: "v1.13.1", Title: "Maintenance", Body: "Bug fixes only", PublishedAt: time.Now()},
		}, nil
	})

	sink := new(MockUpdateSink)
	sink.On("GetUpdateByClientAndTag", mock.Anything, "geth", mock.Anything).
		Return(model.Update{}, custom_errors.ErrUpdateNotFound).Twice()
	sink.On("CreateUpdate", mock.Anything, mock.Anything).Return(model.Update{ID: 1}, nil).Twice()

	r := newTestRunner(sink, time.Second, 1)
	cycle := r.RunCycle(context.Background(), fetcher, sources)

	require.Len(t, cycle.Results, 1)
	updates := cycle.Results[0].Updates
	require.Len(t, updates, 2)
	assert.True(t, updates[0].HardFork, "fork language must set the flag")
	assert.False(t, updates[1].HardFork, "routine notes must not")
	assert.Equal(t, int64(1), updates[0].SourceID)
	assert.Equal(t, "geth", updates[0].Client)
}

func TestRunner_RunCycle_EmptySourceList(t *testing.T) {
	r := newTestRunner(new(MockUpdateSink), time.Second, 2)
	cycle := r.RunCycle(context.Background(), nil, []model.Source{})

	assert.NotEmpty(t, cycle.ID)
	assert.Equal(t, 0, cycle.SourcesPolled)
	assert.Empty(t, cycle.Results)
	assert.False(t, cycle.FinishedAt.Before(cycle.StartedAt))
}
