// internal/api/sources.go
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"release-tracker/internal/model"
	"release-tracker/internal/store"
)

type sourceRequest struct {
	Name     string `json:"name"`
	Client   string `json:"client"`
	RepoURL  string `json:"repo_url"`
	RepoType string `json:"repo_type"`
}

// toParams validates the request and normalizes it into store parameters.
func (req sourceRequest) toParams() (store.SourceParams, string) {
	if strings.TrimSpace(req.Name) == "" {
		return store.SourceParams{}, "name is required"
	}
	if strings.TrimSpace(req.Client) == "" {
		return store.SourceParams{}, "client is required"
	}

	repoType := model.RepoType(req.RepoType)
	if repoType == "" {
		repoType = model.RepoTypeReleases
	}
	if !repoType.Valid() {
		return store.SourceParams{}, "repo_type must be one of releases, tags or feed"
	}

	return store.SourceParams{
		Name:     strings.TrimSpace(req.Name),
		Client:   strings.TrimSpace(req.Client),
		RepoURL:  strings.TrimSpace(req.RepoURL),
		RepoType: repoType,
	}, ""
}

// sourceID extracts and parses the {id} route parameter.
func sourceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// listSources returns every tracked source.
// GET /v1/sources
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sources)
}

// createSource registers a new repository to track.
// POST /v1/sources
func (h *Handler) createSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params, problem := req.toParams()
	if problem != "" {
		respondWithError(w, http.StatusBadRequest, problem)
		return
	}

	src, err := h.store.CreateSource(r.Context(), params)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.logger.Info("Source created", "client", src.Client, "repo_url", src.RepoURL)
	respondWithJSON(w, http.StatusCreated, src)
}

// getSource returns one source by ID.
// GET /v1/sources/{id}
func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}

	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, src)
}

// updateSource replaces the caller-settable fields of a source.
// PUT /v1/sources/{id}
func (h *Handler) updateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params, problem := req.toParams()
	if problem != "" {
		respondWithError(w, http.StatusBadRequest, problem)
		return
	}

	src, err := h.store.UpdateSource(r.Context(), id, params)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, src)
}

// deleteSource removes a source. Its recorded updates are kept.
// DELETE /v1/sources/{id}
func (h *Handler) deleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := sourceID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid source ID")
		return
	}

	if err := h.store.DeleteSource(r.Context(), id); err != nil {
		h.handleDomainError(w, err)
		return
	}

	h.logger.Info("Source deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// listUpdates returns recently recorded updates.
// GET /v1/updates?client=geth&limit=N
func (h *Handler) listUpdates(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "50" // Default limit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 200.")
		return
	}

	updates, err := h.store.ListUpdates(r.Context(), r.URL.Query().Get("client"), limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updates)
}
