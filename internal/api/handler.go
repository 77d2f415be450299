// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
	"release-tracker/internal/poller"
	"release-tracker/internal/store"
)

// Engine is the poller control surface the API exposes.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	TriggerNow(ctx context.Context) (model.CycleResult, error)
	SetInterval(ctx context.Context, minutes int) error
	Status(ctx context.Context) (model.PollerStatus, error)
	RecentResults() []model.CycleResult
	Subscribe() chan poller.Event
	Unsubscribe(ch chan poller.Event)
}

// Store is the persistence surface behind the read and write endpoints.
type Store interface {
	ListSources(ctx context.Context) ([]model.Source, error)
	GetSource(ctx context.Context, id int64) (model.Source, error)
	CreateSource(ctx context.Context, p store.SourceParams) (model.Source, error)
	UpdateSource(ctx context.Context, id int64, p store.SourceParams) (model.Source, error)
	DeleteSource(ctx context.Context, id int64) error

	GetPollerConfig(ctx context.Context) (model.PollerConfig, error)
	CreatePollerConfig(ctx context.Context, p store.ConfigParams) (model.PollerConfig, error)
	UpdatePollerConfig(ctx context.Context, patch model.ConfigPatch) (model.PollerConfig, error)
	ClearLastPollTime(ctx context.Context) error

	ListUpdates(ctx context.Context, client string, limit int) ([]model.Update, error)
}

// WebhookTester verifies webhook destinations on an operator's request.
type WebhookTester interface {
	TestWebhook(ctx context.Context, kind, url string) error
}

// Handler is the container for API dependencies.
type Handler struct {
	engine Engine
	store  Store
	hooks  WebhookTester
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(engine Engine, st Store, hooks WebhookTester, logger *slog.Logger) http.Handler {
	h := &Handler{
		engine: engine,
		store:  st,
		hooks:  hooks,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)

	// API Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", h.healthCheck)
		r.Route("/v1", func(r chi.Router) {
			r.Route("/poller", func(r chi.Router) {
				r.Post("/start", h.startPoller)
				r.Post("/stop", h.stopPoller)
				r.Post("/poll-now", h.pollNow)
				r.Get("/status", h.getStatus)
				r.Get("/results", h.getResults)
				r.Route("/config", func(r chi.Router) {
					r.Get("/", h.getConfig)
					r.Put("/", h.putConfig)
					r.Patch("/", h.patchConfig)
					r.Post("/reset", h.resetLastPoll)
				})
			})
			r.Route("/sources", func(r chi.Router) {
				r.Get("/", h.listSources)
				r.Post("/", h.createSource)
				r.Get("/{id}", h.getSource)
				r.Put("/{id}", h.updateSource)
				r.Delete("/{id}", h.deleteSource)
			})
			r.Get("/updates", h.listUpdates)
			r.Post("/notifications/test", h.testWebhook)
		})
	})

	// The event stream stays outside the request timeout so connections can
	// outlive it.
	r.Get("/v1/events", h.streamEvents)

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDomainError translates engine and store errors into HTTP statuses.
func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	var confErr *custom_errors.ConfigurationError
	var valErr *custom_errors.ValidationError

	switch {
	case errors.Is(err, custom_errors.ErrAlreadyPolling):
		respondWithError(w, http.StatusConflict, "A poll cycle is already in flight")
	case errors.As(err, &confErr):
		respondWithError(w, http.StatusUnprocessableEntity, confErr.Error())
	case errors.As(err, &valErr):
		respondWithError(w, http.StatusBadRequest, valErr.Error())
	case errors.Is(err, custom_errors.ErrNotConfigured):
		respondWithError(w, http.StatusNotFound, "Poller is not configured")
	case errors.Is(err, custom_errors.ErrSourceNotFound):
		respondWithError(w, http.StatusNotFound, "Source not found")
	case errors.Is(err, custom_errors.ErrSourceExists):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// startPoller transitions the poller to running and reports the resulting
// status.
// POST /v1/poller/start
func (h *Handler) startPoller(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		h.handleDomainError(w, err)
		return
	}

	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// stopPoller transitions the poller to stopped. A cycle already in flight
// finishes on its own.
// POST /v1/poller/stop
func (h *Handler) stopPoller(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(r.Context()); err != nil {
		h.handleDomainError(w, err)
		return
	}

	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// pollNow runs a single out-of-band poll cycle and returns its result.
// POST /v1/poller/poll-now
func (h *Handler) pollNow(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.engine.TriggerNow(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cycle)
}

// getStatus reports the poller's current state and schedule.
// GET /v1/poller/status
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// getResults returns the most recent poll cycle results, newest first.
// GET /v1/poller/results
func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.RecentResults())
}

// configResponse is the wire form of the poller config. The API token never
// leaves the service; clients only learn whether one is set.
type configResponse struct {
	ID              int64      `json:"id"`
	HasToken        bool       `json:"has_token"`
	IntervalMinutes int        `json:"interval_minutes"`
	Enabled         bool       `json:"enabled"`
	LastPollTime    *time.Time `json:"last_poll_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func sanitizeConfig(cfg model.PollerConfig) configResponse {
	return configResponse{
		ID:              cfg.ID,
		HasToken:        cfg.APIToken != "",
		IntervalMinutes: cfg.IntervalMinutes,
		Enabled:         cfg.Enabled,
		LastPollTime:    cfg.LastPollTime,
		CreatedAt:       cfg.CreatedAt,
		UpdatedAt:       cfg.UpdatedAt,
	}
}

// getConfig returns the sanitized poller config.
// GET /v1/poller/config
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetPollerConfig(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sanitizeConfig(cfg))
}

type putConfigRequest struct {
	APIToken        string `json:"api_token"`
	IntervalMinutes int    `json:"interval_minutes"`
	Enabled         bool   `json:"enabled"`
}

// putConfig creates the poller config, replacing any existing row.
// PUT /v1/poller/config
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var req putConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.APIToken) == "" {
		respondWithError(w, http.StatusBadRequest, "api_token is required")
		return
	}
	if req.IntervalMinutes == 0 {
		req.IntervalMinutes = 5
	}
	if req.IntervalMinutes < 1 || req.IntervalMinutes > 1440 {
		respondWithError(w, http.StatusBadRequest, "interval_minutes must be between 1 and 1440")
		return
	}

	cfg, err := h.store.CreatePollerConfig(r.Context(), store.ConfigParams{
		APIToken:        req.APIToken,
		IntervalMinutes: req.IntervalMinutes,
		Enabled:         req.Enabled,
	})
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.logger.Info("Poller config replaced", "interval_minutes", cfg.IntervalMinutes, "enabled", cfg.Enabled)
	respondWithJSON(w, http.StatusCreated, sanitizeConfig(cfg))
}

type patchConfigRequest struct {
	APIToken        *string `json:"api_token"`
	IntervalMinutes *int    `json:"interval_minutes"`
	Enabled         *bool   `json:"enabled"`
}

// patchConfig applies a partial update to the poller config. A changed
// enabled flag is adopted by the reconciler on its next tick; an interval
// change goes through the engine so a running timer is re-armed at once.
// PATCH /v1/poller/config
func (h *Handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	var req patchConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.APIToken == nil && req.IntervalMinutes == nil && req.Enabled == nil {
		respondWithError(w, http.StatusBadRequest, "At least one of api_token, interval_minutes or enabled must be set")
		return
	}
	if req.APIToken != nil && strings.TrimSpace(*req.APIToken) == "" {
		respondWithError(w, http.StatusBadRequest, "api_token cannot be empty")
		return
	}

	if req.APIToken != nil || req.Enabled != nil {
		patch := model.ConfigPatch{APIToken: req.APIToken, Enabled: req.Enabled}
		if _, err := h.store.UpdatePollerConfig(r.Context(), patch); err != nil {
			h.handleDomainError(w, err)
			return
		}
	}
	if req.IntervalMinutes != nil {
		if err := h.engine.SetInterval(r.Context(), *req.IntervalMinutes); err != nil {
			h.handleDomainError(w, err)
			return
		}
	}

	cfg, err := h.store.GetPollerConfig(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sanitizeConfig(cfg))
}

// resetLastPoll clears the last poll marker so the next start polls
// immediately.
// POST /v1/poller/config/reset
func (h *Handler) resetLastPoll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearLastPollTime(r.Context()); err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
