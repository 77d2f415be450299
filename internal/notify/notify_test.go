// internal/notify/notify_test.go
package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
	"release-tracker/internal/poller"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sampleUpdate() model.DetectedUpdate {
	return model.DetectedUpdate{
		SourceID:     1,
		Client:       "geth",
		Name:         "Geth",
		Title:        "Asteria (v1.14.0)",
		Tag:          "v1.14.0",
		URL:          "https://github.com/ethereum/go-ethereum/releases/tag/v1.14.0",
		Notes:        "Enables EIP-4844 blob transactions",
		PublishedAt:  time.Now().UTC(),
		IsPrerelease: false,
	}
}

func TestNotifier_NotifyUpdate_Discord(t *testing.T) {
	var got discordMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := New(Config{DiscordWebhookURL: server.URL}, testLogger())
	n.NotifyUpdate(context.Background(), sampleUpdate())

	assert.Equal(t, "Protocol Tracker", got.Username)
	assert.Contains(t, got.Content, "**v1.14.0**")
	require.Len(t, got.Embeds, 1)

	embed := got.Embeds[0]
	assert.Equal(t, "🚀 New Geth Release: v1.14.0", embed.Title)
	assert.Equal(t, "Asteria (v1.14.0)", embed.Description)
	assert.Equal(t, colorRelease, embed.Color)
	assert.Equal(t, "Protocol Tracker", embed.Footer.Text)

	require.Len(t, embed.Fields, 4)
	assert.Equal(t, "Client", embed.Fields[0].Name)
	assert.Equal(t, "Geth", embed.Fields[0].Value)
	assert.Equal(t, "Version", embed.Fields[1].Name)
	assert.Equal(t, "Type", embed.Fields[2].Name)
	assert.Equal(t, "Release", embed.Fields[2].Value)
	assert.Equal(t, "Release Notes", embed.Fields[3].Name)
	assert.False(t, embed.Fields[3].Inline)
}

func TestNotifier_NotifyUpdate_DiscordPrerelease(t *testing.T) {
	var got discordMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	upd := sampleUpdate()
	upd.IsPrerelease = true
	upd.Notes = ""

	n := New(Config{DiscordWebhookURL: server.URL}, testLogger())
	n.NotifyUpdate(context.Background(), upd)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, colorPrerelease, got.Embeds[0].Color)
	require.Len(t, got.Embeds[0].Fields, 3, "no notes, no notes field")
	assert.Equal(t, "Pre-release", got.Embeds[0].Fields[2].Value)
}

func TestNotifier_NotifyUpdate_Slack(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{SlackWebhookURL: server.URL}, testLogger())
	n.NotifyUpdate(context.Background(), sampleUpdate())

	assert.Equal(t, "Protocol Tracker", got.Username)
	assert.Equal(t, ":bell:", got.IconEmoji)
	require.Len(t, got.Attachments, 1)

	att := got.Attachments[0]
	assert.Equal(t, "New Geth release: v1.14.0", att.Fallback)
	assert.Equal(t, "good", att.Color)
	assert.Equal(t, "🚀 New Geth Release: v1.14.0", att.Title)
	assert.Equal(t, "Protocol Tracker", att.Footer)
	assert.Greater(t, att.Ts, int64(0))
	require.Len(t, att.Fields, 4)
	assert.True(t, att.Fields[0].Short)
	assert.False(t, att.Fields[3].Short, "notes span the full width")
}

func TestNotifier_NotifyUpdate_SlackPrereleaseColor(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	upd := sampleUpdate()
	upd.IsPrerelease = true

	n := New(Config{SlackWebhookURL: server.URL}, testLogger())
	n.NotifyUpdate(context.Background(), upd)

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "warning", got.Attachments[0].Color)
}

func TestNotifier_NotifyUpdate_Generic(t *testing.T) {
	var got genericEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated) // any 2xx counts as delivered
	}))
	defer server.Close()

	upd := sampleUpdate()
	upd.IsPrerelease = true

	n := New(Config{GenericWebhookURL: server.URL}, testLogger())
	n.NotifyUpdate(context.Background(), upd)

	assert.Equal(t, "protocol_update", got.Event)
	assert.NotEmpty(t, got.Timestamp)
	assert.Equal(t, "Geth", got.Data.Client)
	assert.Equal(t, "v1.14.0", got.Data.Tag)
	assert.True(t, got.Data.IsPrerelease)
	assert.Equal(t, "prerelease", got.Data.Type)
}

func TestNotifier_NotifyUpdate_FansOutToAllChannels(t *testing.T) {
	var discord, slack, generic atomic.Int32
	discordSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		discord.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer discordSrv.Close()
	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slack.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer slackSrv.Close()
	genericSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		generic.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer genericSrv.Close()

	n := New(Config{
		DiscordWebhookURL: discordSrv.URL,
		SlackWebhookURL:   slackSrv.URL,
		GenericWebhookURL: genericSrv.URL,
	}, testLogger())
	n.NotifyUpdate(context.Background(), sampleUpdate())

	assert.Equal(t, int32(1), discord.Load())
	assert.Equal(t, int32(1), slack.Load())
	assert.Equal(t, int32(1), generic.Load())
}

func TestNotifier_SendDiscord_RejectsUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // Discord signals success with 204, not 200
	}))
	defer server.Close()

	n := New(Config{}, testLogger())
	err := n.sendDiscord(context.Background(), server.URL, discordMessage{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 200")
}

func TestNotifier_TestWebhook(t *testing.T) {
	t.Run("discord", func(t *testing.T) {
		var got discordMessage
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		n := New(Config{}, testLogger())
		require.NoError(t, n.TestWebhook(context.Background(), "discord", server.URL))
		require.Len(t, got.Embeds, 1)
		assert.Equal(t, "Webhook Test", got.Embeds[0].Title)
		assert.Equal(t, colorTest, got.Embeds[0].Color)
	})

	t.Run("slack", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		n := New(Config{}, testLogger())
		assert.NoError(t, n.TestWebhook(context.Background(), "slack", server.URL))
	})

	t.Run("generic", func(t *testing.T) {
		var got map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		n := New(Config{}, testLogger())
		require.NoError(t, n.TestWebhook(context.Background(), "generic", server.URL))
		assert.Equal(t, "webhook_test", got["event"])
	})

	t.Run("unknown type", func(t *testing.T) {
		n := New(Config{}, testLogger())
		err := n.TestWebhook(context.Background(), "carrier-pigeon", "http://localhost")

		var valErr *custom_errors.ValidationError
		assert.ErrorAs(t, err, &valErr)
	})
}

func TestNotifier_Run(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{GenericWebhookURL: server.URL}, testLogger())

	events := make(chan poller.Event, 3)
	running := true
	events <- poller.Event{Type: poller.EventStateChanged, Running: &running}
	upd := sampleUpdate()
	events <- poller.Event{Type: poller.EventUpdateDetected, Update: &upd}
	close(events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(context.Background(), events)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the event channel closed")
	}
	assert.Equal(t, int32(1), hits.Load(), "only update events notify")
}

func TestNotifier_Enabled(t *testing.T) {
	assert.False(t, New(Config{}, testLogger()).Enabled())
	assert.True(t, New(Config{SlackWebhookURL: "https://hooks.slack.com/x"}, testLogger()).Enabled())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "0123456789...", truncate("0123456789abcdef", 10))
	assert.Equal(t, strings.Repeat("я", 5)+"...", truncate(strings.Repeat("я", 8), 5))
}
