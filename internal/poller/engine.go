// internal/poller/engine.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

const (
	minIntervalMinutes     = 1
	maxIntervalMinutes     = 1440
	defaultIntervalMinutes = 5

	// recentCycleLimit is how many finished cycles the engine keeps in
	// memory for the results endpoint.
	recentCycleLimit = 10
)

// Options tune engine behavior; zero values fall back to defaults.
type Options struct {
	FetchTimeout time.Duration
	Concurrency  int
	Logger       *slog.Logger
}

// Engine is the poller state machine. It owns the recurring cycle timer and
// this session's authoritative run flag; the persisted config row carries
// the desired state shared across sessions. At most one cycle is in flight
// at any moment, whichever path asked for it.
type Engine struct {
	config     ConfigStore
	sources    SourceLister
	newFetcher FetcherFactory
	runner     *Runner
	events     *hub
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	baseCtx  context.Context
	running  bool
	polling  bool
	interval time.Duration
	token    string
	fetcher  Fetcher
	lastPoll *time.Time
	timer    *time.Timer
	gen      uint64
	recent   []model.CycleResult
	lastErrs []string
}

// NewEngine wires the engine with its collaborators. The factory is invoked
// once per run session with the API token in effect at that moment.
func NewEngine(config ConfigStore, sources SourceLister, sink UpdateSink, newFetcher FetcherFactory, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:     config,
		sources:    sources,
		newFetcher: newFetcher,
		events:     newHub(),
		logger:     logger,
		now:        time.Now,
		baseCtx:    context.Background(),
	}

	persister := NewPersister(sink, logger)
	persister.events = e.events
	e.runner = NewRunner(persister, opts.FetchTimeout, opts.Concurrency, logger)
	return e
}

// Run anchors the engine to the process lifecycle. Scheduled cycles execute
// against this context, so a process shutdown interrupts them while a plain
// Stop never does. Run blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	<-ctx.Done()

	e.mu.Lock()
	e.disarmLocked()
	e.running = false
	e.mu.Unlock()
	e.logger.Info("Poller engine shutting down", "reason", ctx.Err())
}

// Start transitions the engine to Running. It requires a configured API
// token, persists enabled=true so other sessions adopt the same state, and
// arms the cycle timer. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.logger.Debug("Start requested but poller is already running")
		return nil
	}

	cfg, err := e.config.GetPollerConfig(ctx)
	if err != nil {
		if errors.Is(err, custom_errors.ErrNotConfigured) {
			return &custom_errors.ConfigurationError{Reason: "no poller config exists; set an API token first"}
		}
		return fmt.Errorf("load poller config: %w", err)
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return &custom_errors.ConfigurationError{Reason: "no API token configured"}
	}

	enabled := true
	if _, err := e.config.UpdatePollerConfig(ctx, model.ConfigPatch{Enabled: &enabled}); err != nil {
		return fmt.Errorf("persist enabled state: %w", err)
	}

	e.adoptLocked(cfg)
	e.logger.Info("Poller started", "interval_minutes", cfg.IntervalMinutes)
	return nil
}

// Stop persists enabled=false and cancels future cycles. A cycle already in
// flight is left to finish. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		e.logger.Debug("Stop requested but poller is not running")
		return nil
	}

	enabled := false
	if _, err := e.config.UpdatePollerConfig(ctx, model.ConfigPatch{Enabled: &enabled}); err != nil {
		return fmt.Errorf("persist disabled state: %w", err)
	}

	e.relinquishLocked()
	e.logger.Info("Poller stopped")
	return nil
}

// SetInterval validates and persists a new poll interval. While running,
// the timer is re-armed relative to the last completed poll, so shrinking
// the interval can make the next cycle due immediately.
func (e *Engine) SetInterval(ctx context.Context, minutes int) error {
	if minutes < minIntervalMinutes || minutes > maxIntervalMinutes {
		return &custom_errors.ValidationError{
			Field:  "interval_minutes",
			Reason: fmt.Sprintf("must be between %d and %d", minIntervalMinutes, maxIntervalMinutes),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.config.UpdatePollerConfig(ctx, model.ConfigPatch{IntervalMinutes: &minutes}); err != nil {
		return fmt.Errorf("persist interval: %w", err)
	}

	e.interval = intervalDuration(minutes)
	if e.running {
		e.logger.Info("Poll interval updated; rescheduling", "interval_minutes", minutes)
		e.armLocked(e.delayLocked())
	}
	return nil
}

// TriggerNow runs one cycle immediately, whatever the run state. It refuses
// to overlap: while any cycle is in flight the call fails with
// ErrAlreadyPolling and the caller may retry once it finishes. A manual
// cycle counts like a scheduled one, so the next timed cycle moves a full
// interval out.
func (e *Engine) TriggerNow(ctx context.Context) (model.CycleResult, error) {
	e.mu.Lock()
	if e.polling {
		e.mu.Unlock()
		return model.CycleResult{}, custom_errors.ErrAlreadyPolling
	}

	fetcher := e.fetcher
	if !e.running || fetcher == nil {
		cfg, err := e.config.GetPollerConfig(ctx)
		if err != nil {
			e.mu.Unlock()
			if errors.Is(err, custom_errors.ErrNotConfigured) {
				return model.CycleResult{}, &custom_errors.ConfigurationError{Reason: "no poller config exists; set an API token first"}
			}
			return model.CycleResult{}, fmt.Errorf("load poller config: %w", err)
		}
		if strings.TrimSpace(cfg.APIToken) == "" {
			e.mu.Unlock()
			return model.CycleResult{}, &custom_errors.ConfigurationError{Reason: "no API token configured"}
		}
		fetcher = e.newFetcher(cfg.APIToken)
	}
	e.polling = true
	e.mu.Unlock()

	cycle := e.executeCycle(ctx, fetcher)

	e.mu.Lock()
	e.polling = false
	e.recordLocked(cycle)
	if e.running {
		e.armLocked(e.delayLocked())
	}
	e.mu.Unlock()
	return cycle, nil
}

// Status derives the externally visible poller state. The run flag is this
// session's; enabled, interval and the run timestamps come from the shared
// config, so every session reports the same schedule.
func (e *Engine) Status(ctx context.Context) (model.PollerStatus, error) {
	cfg, err := e.config.GetPollerConfig(ctx)
	if err != nil {
		if !errors.Is(err, custom_errors.ErrNotConfigured) {
			return model.PollerStatus{}, fmt.Errorf("load poller config: %w", err)
		}
		cfg = model.PollerConfig{IntervalMinutes: defaultIntervalMinutes}
	}

	e.mu.Lock()
	status := model.PollerStatus{
		IsRunning:       e.running,
		Polling:         e.polling,
		Enabled:         cfg.Enabled,
		IntervalMinutes: cfg.IntervalMinutes,
		LastRun:         cfg.LastPollTime,
		RecentErrors:    append([]string{}, e.lastErrs...),
	}
	e.mu.Unlock()

	if cfg.Enabled && cfg.LastPollTime != nil {
		next := cfg.LastPollTime.Add(intervalDuration(cfg.IntervalMinutes))
		status.NextRun = &next
	}
	return status, nil
}

// RecentResults returns the latest cycle results, newest first.
func (e *Engine) RecentResults() []model.CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.CycleResult, len(e.recent))
	for i, c := range e.recent {
		out[len(out)-1-i] = c
	}
	return out
}

// Subscribe registers an observer for engine events. Slow observers lose
// events rather than slow the engine down. Callers must Unsubscribe when
// done.
func (e *Engine) Subscribe() chan Event {
	return e.events.subscribe()
}

// Unsubscribe detaches an observer and closes its channel.
func (e *Engine) Unsubscribe(ch chan Event) {
	e.events.unsubscribe(ch)
}

// Align reconciles this session's run state with the persisted desired
// state: adopt a start issued elsewhere, honor a stop issued elsewhere, and
// rebuild the schedule when the interval or token changed underneath us.
// Nothing is ever written back; the config row is the single source of
// desired state, so a concurrent stop cannot be resurrected from here.
func (e *Engine) Align(cfg model.PollerConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !cfg.Enabled {
		if e.running {
			e.logger.Info("Adopting stop issued by another session")
			e.relinquishLocked()
		}
		return
	}

	if !e.running {
		if strings.TrimSpace(cfg.APIToken) == "" {
			e.logger.Warn("Poller enabled in config but no API token is set; staying stopped")
			return
		}
		e.logger.Info("Adopting start issued by another session", "interval_minutes", cfg.IntervalMinutes)
		e.adoptLocked(cfg)
		return
	}

	if cfg.APIToken != e.token && strings.TrimSpace(cfg.APIToken) != "" {
		e.logger.Info("API token changed; rebuilding fetch client")
		e.token = cfg.APIToken
		e.fetcher = e.newFetcher(cfg.APIToken)
	}

	if next := intervalDuration(cfg.IntervalMinutes); next != e.interval {
		e.logger.Info("Poll interval changed; rescheduling", "interval_minutes", cfg.IntervalMinutes)
		e.interval = next
		e.armLocked(e.delayLocked())
	}
}

// adoptLocked moves the engine into Running using cfg, without writing
// anything back. Shared by Start and Align.
func (e *Engine) adoptLocked(cfg model.PollerConfig) {
	e.running = true
	e.token = cfg.APIToken
	e.fetcher = e.newFetcher(cfg.APIToken)
	e.interval = intervalDuration(cfg.IntervalMinutes)
	e.lastPoll = cfg.LastPollTime
	e.armLocked(e.delayLocked())
	e.publishState(true)
}

// relinquishLocked moves the engine out of Running without touching the
// persisted config. An in-flight cycle is left to finish; since running is
// false by then, its completion will not re-arm the timer.
func (e *Engine) relinquishLocked() {
	e.running = false
	e.disarmLocked()
	e.publishState(false)
}

// delayLocked computes the wait before the next cycle: one interval past
// the last completed poll, or nothing at all when that point is already
// behind us, including the never-polled case.
func (e *Engine) delayLocked() time.Duration {
	if e.lastPoll == nil {
		return 0
	}
	delay := e.lastPoll.Add(e.interval).Sub(e.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (e *Engine) armLocked(delay time.Duration) {
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, func() { e.timerFired(gen) })
}

func (e *Engine) disarmLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// timerFired runs one scheduled cycle. The generation check discards fires
// from timers superseded while this callback was queued.
func (e *Engine) timerFired(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.running {
		e.mu.Unlock()
		return
	}
	if e.polling {
		// A manual cycle is in flight; come back one interval later.
		e.armLocked(e.interval)
		e.mu.Unlock()
		return
	}
	e.polling = true
	ctx := e.baseCtx
	fetcher := e.fetcher
	e.mu.Unlock()

	cycle := e.executeCycle(ctx, fetcher)

	e.mu.Lock()
	e.polling = false
	e.recordLocked(cycle)
	if e.running {
		e.armLocked(e.delayLocked())
	}
	e.mu.Unlock()
}

// executeCycle performs one complete cycle: list the sources, fan out, then
// advance the shared poll marker. It never fails; problems are recorded on
// the result. The marker is only written for cycles that actually ran, so a
// failed source listing leaves other sessions' schedules untouched.
func (e *Engine) executeCycle(ctx context.Context, fetcher Fetcher) model.CycleResult {
	var cycle model.CycleResult

	sources, err := e.sources.ListSources(ctx)
	if err != nil {
		e.logger.Error("Failed to list sources for poll cycle", "error", err)
		cycle = model.CycleResult{
			ID:          uuid.NewString(),
			Results:     []model.PollResult{},
			Errors:      []string{fmt.Sprintf("list sources: %v", err)},
			TotalErrors: 1,
			StartedAt:   e.now().UTC(),
			FinishedAt:  e.now().UTC(),
		}
	} else {
		cycle = e.runner.RunCycle(ctx, fetcher, sources)
		if err := e.config.SetLastPollTime(ctx, cycle.FinishedAt); err != nil {
			e.logger.Error("Failed to record last poll time", "error", err)
			cycle.Errors = append(cycle.Errors, fmt.Sprintf("record last poll time: %v", err))
			cycle.TotalErrors++
		}
	}

	e.events.publish(Event{Type: EventCycleCompleted, Time: e.now().UTC(), Cycle: &cycle})
	return cycle
}

// recordLocked files a finished cycle: the in-memory history, the error
// snapshot for status, and this session's schedule anchor. The anchor moves
// even when persisting it failed, otherwise a broken database would turn
// the timer into a hot loop.
func (e *Engine) recordLocked(cycle model.CycleResult) {
	finished := cycle.FinishedAt
	e.lastPoll = &finished

	e.recent = append(e.recent, cycle)
	if len(e.recent) > recentCycleLimit {
		e.recent = e.recent[len(e.recent)-recentCycleLimit:]
	}

	errs := append([]string{}, cycle.Errors...)
	for _, res := range cycle.Results {
		errs = append(errs, res.Errors...)
	}
	e.lastErrs = errs
}

func (e *Engine) publishState(running bool) {
	r := running
	e.events.publish(Event{Type: EventStateChanged, Time: e.now().UTC(), Running: &r})
}

func intervalDuration(minutes int) time.Duration {
	if minutes < minIntervalMinutes {
		minutes = defaultIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}
