// internal/api/events.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/poller"
)

// sseWriteTimeout bounds a single SSE write so a stalled client cannot pin
// the handler goroutine.
const sseWriteTimeout = 5 * time.Second

// streamEvents pushes engine events to the client as Server-Sent Events.
// The stream opens with a run-state snapshot so late subscribers learn the
// current state without waiting for the next transition.
// GET /v1/events
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		respondWithError(w, http.StatusInternalServerError, "SSE not supported")
		return
	}

	rc := http.NewResponseController(w)

	// Write deadlines may not be supported by every ResponseWriter; fall
	// back to unbounded writes when they are not.
	deadlinesSupported := true
	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				h.logger.Warn("SSE write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := h.engine.Subscribe()
	defer h.engine.Unsubscribe(ch)

	if status, err := h.engine.Status(r.Context()); err == nil {
		running := status.IsRunning
		snapshot := poller.Event{Type: poller.EventStateChanged, Time: time.Now().UTC(), Running: &running}
		if data, err := json.Marshal(snapshot); err == nil {
			if err := writeAndFlush(data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

type testWebhookRequest struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// testWebhook sends a canned notification to a caller-supplied URL so a
// webhook destination can be verified before it is relied on.
// POST /v1/notifications/test
func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	if err := h.hooks.TestWebhook(r.Context(), req.Type, req.URL); err != nil {
		var valErr *custom_errors.ValidationError
		if errors.As(err, &valErr) {
			respondWithError(w, http.StatusBadRequest, valErr.Error())
			return
		}
		respondWithError(w, http.StatusBadGateway, "Webhook test failed: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
