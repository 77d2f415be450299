// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
)

// uniqueViolation is the Postgres error code for unique constraint hits.
const uniqueViolation = "23505"

// Store is the Postgres-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on top of an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SourceParams carries the caller-settable fields of a source.
type SourceParams struct {
	Name     string
	Client   string
	RepoURL  string
	RepoType model.RepoType
}

const sourceColumns = "id, name, client, repo_url, repo_type, created_at, updated_at"

func scanSource(row pgx.Row) (model.Source, error) {
	var s model.Source
	err := row.Scan(&s.ID, &s.Name, &s.Client, &s.RepoURL, &s.RepoType, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// ListSources returns every tracked source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+sourceColumns+" FROM sources ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetSource returns one source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (model.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Source{}, custom_errors.ErrSourceNotFound
	}
	return src, err
}

// CreateSource inserts a new source. The client key must be unique across
// sources.
func (s *Store) CreateSource(ctx context.Context, p SourceParams) (model.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		`INSERT INTO sources (name, client, repo_url, repo_type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+sourceColumns,
		p.Name, p.Client, p.RepoURL, p.RepoType))
	if isUniqueViolation(err) {
		return model.Source{}, fmt.Errorf("client %q: %w", p.Client, custom_errors.ErrSourceExists)
	}
	return src, err
}

// UpsertSource inserts a source or, when its client key already exists,
// refreshes the existing row. Used by seeding so re-runs are idempotent.
func (s *Store) UpsertSource(ctx context.Context, p SourceParams) (model.Source, error) {
	return scanSource(s.pool.QueryRow(ctx,
		`INSERT INTO sources (name, client, repo_url, repo_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (client) DO UPDATE
		 SET name = EXCLUDED.name,
		     repo_url = EXCLUDED.repo_url,
		     repo_type = EXCLUDED.repo_type,
		     updated_at = now()
		 RETURNING `+sourceColumns,
		p.Name, p.Client, p.RepoURL, p.RepoType))
}

// UpdateSource replaces the caller-settable fields of a source.
func (s *Store) UpdateSource(ctx context.Context, id int64, p SourceParams) (model.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		`UPDATE sources
		 SET name = $2, client = $3, repo_url = $4, repo_type = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+sourceColumns,
		id, p.Name, p.Client, p.RepoURL, p.RepoType))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Source{}, custom_errors.ErrSourceNotFound
	}
	if isUniqueViolation(err) {
		return model.Source{}, fmt.Errorf("client %q: %w", p.Client, custom_errors.ErrSourceExists)
	}
	return src, err
}

// DeleteSource removes a source. Updates recorded for it are kept, with
// their source reference cleared by the schema.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sources WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrSourceNotFound
	}
	return nil
}

const configColumns = "id, api_token, interval_minutes, enabled, last_poll_time, created_at, updated_at"

func scanConfig(row pgx.Row) (model.PollerConfig, error) {
	var c model.PollerConfig
	err := row.Scan(&c.ID, &c.APIToken, &c.IntervalMinutes, &c.Enabled, &c.LastPollTime, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ConfigParams carries the fields set when (re)creating the poller config.
type ConfigParams struct {
	APIToken        string
	IntervalMinutes int
	Enabled         bool
}

// GetPollerConfig returns the single poller config row.
func (s *Store) GetPollerConfig(ctx context.Context) (model.PollerConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		"SELECT "+configColumns+" FROM poller_config ORDER BY id LIMIT 1"))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PollerConfig{}, custom_errors.ErrNotConfigured
	}
	return cfg, err
}

// CreatePollerConfig replaces the poller config wholesale. Only one row may
// exist, so any previous row is removed in the same transaction.
func (s *Store) CreatePollerConfig(ctx context.Context, p ConfigParams) (model.PollerConfig, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.PollerConfig{}, fmt.Errorf("begin config replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM poller_config"); err != nil {
		return model.PollerConfig{}, fmt.Errorf("clear previous config: %w", err)
	}

	cfg, err := scanConfig(tx.QueryRow(ctx,
		`INSERT INTO poller_config (api_token, interval_minutes, enabled)
		 VALUES ($1, $2, $3)
		 RETURNING `+configColumns,
		p.APIToken, p.IntervalMinutes, p.Enabled))
	if err != nil {
		return model.PollerConfig{}, fmt.Errorf("insert config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.PollerConfig{}, fmt.Errorf("commit config replace: %w", err)
	}
	return cfg, nil
}

// UpdatePollerConfig applies a sparse patch to the config row and returns
// the updated row.
func (s *Store) UpdatePollerConfig(ctx context.Context, patch model.ConfigPatch) (model.PollerConfig, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if patch.APIToken != nil {
		sets = append(sets, "api_token = "+next(*patch.APIToken))
	}
	if patch.IntervalMinutes != nil {
		sets = append(sets, "interval_minutes = "+next(*patch.IntervalMinutes))
	}
	if patch.Enabled != nil {
		sets = append(sets, "enabled = "+next(*patch.Enabled))
	}

	query := "UPDATE poller_config SET " + strings.Join(sets, ", ") + " RETURNING " + configColumns
	cfg, err := scanConfig(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PollerConfig{}, custom_errors.ErrNotConfigured
	}
	return cfg, err
}

// SetLastPollTime records the completion time of a poll cycle. The stored
// value never moves backwards, so late writers from slower sessions cannot
// shadow a newer completion.
func (s *Store) SetLastPollTime(ctx context.Context, t time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE poller_config SET last_poll_time = GREATEST(COALESCE(last_poll_time, $1), $1), updated_at = now()",
		t)
	if err != nil {
		return fmt.Errorf("set last poll time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrNotConfigured
	}
	return nil
}

// ClearLastPollTime resets the poll history marker, forcing the next start
// to poll immediately.
func (s *Store) ClearLastPollTime(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE poller_config SET last_poll_time = NULL, updated_at = now()")
	if err != nil {
		return fmt.Errorf("clear last poll time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.ErrNotConfigured
	}
	return nil
}

const updateColumns = "id, source_id, client, name, title, tag, url, notes, tarball_url, published_at, is_draft, is_prerelease, hard_fork, created_at"

func scanUpdate(row pgx.Row) (model.Update, error) {
	var u model.Update
	err := row.Scan(&u.ID, &u.SourceID, &u.Client, &u.Name, &u.Title, &u.Tag, &u.URL,
		&u.Notes, &u.TarballURL, &u.PublishedAt, &u.IsDraft, &u.IsPrerelease, &u.HardFork, &u.CreatedAt)
	return u, err
}

// GetUpdateByClientAndTag looks an update up by its natural key.
func (s *Store) GetUpdateByClientAndTag(ctx context.Context, client, tag string) (model.Update, error) {
	u, err := scanUpdate(s.pool.QueryRow(ctx,
		"SELECT "+updateColumns+" FROM updates WHERE client = $1 AND tag = $2", client, tag))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Update{}, custom_errors.ErrUpdateNotFound
	}
	return u, err
}

// CreateUpdate persists a newly detected update. A concurrent insert of the
// same (client, tag) pair surfaces as ErrDuplicateUpdate.
func (s *Store) CreateUpdate(ctx context.Context, d model.DetectedUpdate) (model.Update, error) {
	var sourceID *int64
	if d.SourceID != 0 {
		sourceID = &d.SourceID
	}

	u, err := scanUpdate(s.pool.QueryRow(ctx,
		`INSERT INTO updates (source_id, client, name, title, tag, url, notes, tarball_url, published_at, is_draft, is_prerelease, hard_fork)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+updateColumns,
		sourceID, d.Client, d.Name, d.Title, d.Tag, d.URL, d.Notes, d.TarballURL,
		d.PublishedAt, d.IsDraft, d.IsPrerelease, d.HardFork))
	if isUniqueViolation(err) {
		return model.Update{}, custom_errors.ErrDuplicateUpdate
	}
	return u, err
}

// ListUpdates returns the most recent updates, optionally filtered to one
// client key.
func (s *Store) ListUpdates(ctx context.Context, client string, limit int) ([]model.Update, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + updateColumns + " FROM updates"
	args := []any{}
	if client != "" {
		query += " WHERE client = $1"
		args = append(args, client)
	}
	query += fmt.Sprintf(" ORDER BY published_at DESC NULLS LAST, id DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var updates []model.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
