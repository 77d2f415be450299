// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrAlreadyPolling is returned when a poll cycle is requested while another
// cycle is still in flight.
var ErrAlreadyPolling = errors.New("already polling")

// ErrNotConfigured is returned when no poller config row exists yet.
var ErrNotConfigured = errors.New("poller is not configured")

// ErrSourceNotFound is returned when a source lookup matches no row.
var ErrSourceNotFound = errors.New("source not found")

// ErrSourceExists is returned when a source insert collides with an existing
// client key.
var ErrSourceExists = errors.New("source already exists")

// ErrUpdateNotFound is returned when an update lookup matches no row.
var ErrUpdateNotFound = errors.New("update not found")

// ErrDuplicateUpdate is returned when an insert collides with an existing
// (client, tag) pair. Callers treat it as an idempotent success.
var ErrDuplicateUpdate = errors.New("update already recorded")

// ConfigurationError is returned when the poller cannot run with the stored
// configuration, for example when no API token has been set.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// ValidationError is returned when a caller-supplied value is outside its
// allowed range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrInvalidRepoURL is returned when a source's repository URL cannot be
// reduced to an 'owner/name' pair.
type ErrInvalidRepoURL struct {
	URL string
}

func (e *ErrInvalidRepoURL) Error() string {
	return fmt.Sprintf("invalid repository URL: %q, expected a github.com/<owner>/<name> URL", e.URL)
}

// SourceFetchError wraps a failure to fetch release data for one source. It
// is recorded on the cycle result and never aborts the cycle.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

// PersistError wraps a failure to save one detected update.
type PersistError struct {
	Client string
	Tag    string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("save %s %s: %v", e.Client, e.Tag, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
