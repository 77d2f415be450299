// internal/poller/persister.go
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

// Persister writes detected updates through the sink, keyed by the
// (client, tag) pair. Failures are isolated per update so one bad row never
// blocks the rest of a batch.
type Persister struct {
	sink   UpdateSink
	events *hub
	logger *slog.Logger
}

// NewPersister creates a persister around an update sink.
func NewPersister(sink UpdateSink, logger *slog.Logger) *Persister {
	return &Persister{sink: sink, logger: logger}
}

// SaveAll persists a batch of detected updates and returns the subset that
// was actually created. Updates already on record are skipped silently,
// including ones a concurrent session raced in between our lookup and
// insert.
func (p *Persister) SaveAll(ctx context.Context, detected []model.DetectedUpdate) (created []model.DetectedUpdate, errs []error) {
	for _, d := range detected {
		_, err := p.sink.GetUpdateByClientAndTag(ctx, d.Client, d.Tag)
		if err == nil {
			continue // already recorded
		}
		if !errors.Is(err, custom_errors.ErrUpdateNotFound) {
			errs = append(errs, &custom_errors.PersistError{Client: d.Client, Tag: d.Tag, Err: err})
			continue
		}

		if _, err := p.sink.CreateUpdate(ctx, d); err != nil {
			if errors.Is(err, custom_errors.ErrDuplicateUpdate) {
				p.logger.Debug("Update raced in by another session", "client", d.Client, "tag", d.Tag)
				continue
			}
			errs = append(errs, &custom_errors.PersistError{Client: d.Client, Tag: d.Tag, Err: err})
			continue
		}

		p.logger.Info("Recorded new update", "client", d.Client, "tag", d.Tag, "hard_fork", d.HardFork)
		created = append(created, d)
		if p.events != nil {
			d := d
			p.events.publish(Event{Type: EventUpdateDetected, Time: time.Now().UTC(), Update: &d})
		}
	}
	return created, errs
}
