// internal/poller/reconciler.go
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

// defaultReconcileInterval paces the config watch. It is deliberately fixed
// and much shorter than any poll interval, so a start or stop issued by
// another session takes effect within seconds.
const defaultReconcileInterval = 10 * time.Second

// Reconciler keeps one engine aligned with the persisted config row. Every
// session runs one; the last write to the row wins and all sessions
// converge on it without any cross-session locking.
type Reconciler struct {
	engine   *Engine
	config   ConfigStore
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler for the given engine. A non-positive
// interval falls back to the default.
func NewReconciler(engine *Engine, config ConfigStore, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Reconciler{
		engine:   engine,
		config:   config,
		interval: interval,
		logger:   logger,
	}
}

// Run watches the config until the context is cancelled. The first check
// happens immediately so a fresh session joins an already-enabled
// deployment without waiting out a full period.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Starting config reconciler", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			r.logger.Info("Config reconciler shutting down", "reason", ctx.Err())
			return
		}
	}
}

// tick reads the desired state and lets the engine align to it. A missing
// config row counts as disabled. Read failures change nothing; the next
// tick tries again.
func (r *Reconciler) tick(ctx context.Context) {
	cfg, err := r.config.GetPollerConfig(ctx)
	if err != nil {
		if !errors.Is(err, custom_errors.ErrNotConfigured) {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("Failed to read poller config", "error", err)
			}
			return
		}
		cfg = model.PollerConfig{}
	}
	r.engine.Align(cfg)
}
