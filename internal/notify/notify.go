// internal/notify/notify.go

// Package notify posts webhook notifications for newly detected releases.
// Delivery is best effort: a dead webhook is logged and skipped, never
// allowed to stall or fail a poll cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	custom_errors "release-tracker/internal/errors"
	"release-tracker/internal/model"
	"release-tracker/internal/poller"
)

const (
	discordNotesLimit = 500
	slackNotesLimit   = 300

	botName   = "Protocol Tracker"
	botAvatar = "https://cdn-icons-png.flaticon.com/512/8297/8297741.png"

	colorPrerelease = 0xffa500
	colorRelease    = 0x00ff00
	colorTest       = 0x0066cc
)

// Config holds the webhook destinations. An empty URL disables that channel.
type Config struct {
	DiscordWebhookURL string
	SlackWebhookURL   string
	GenericWebhookURL string
}

// Notifier fans newly detected updates out to the configured webhooks.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a notifier with the given destinations.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether at least one webhook destination is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.DiscordWebhookURL != "" || n.cfg.SlackWebhookURL != "" || n.cfg.GenericWebhookURL != ""
}

// Run consumes engine events until the context is cancelled or the channel
// closes. Only newly persisted updates produce notifications.
func (n *Notifier) Run(ctx context.Context, events <-chan poller.Event) {
	n.logger.Info("Starting webhook notifier",
		"discord", n.cfg.DiscordWebhookURL != "",
		"slack", n.cfg.SlackWebhookURL != "",
		"generic", n.cfg.GenericWebhookURL != "")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != poller.EventUpdateDetected || ev.Update == nil {
				continue
			}
			n.NotifyUpdate(ctx, *ev.Update)
		}
	}
}

// NotifyUpdate posts one update to every configured webhook.
func (n *Notifier) NotifyUpdate(ctx context.Context, upd model.DetectedUpdate) {
	name := upd.Name
	if name == "" {
		name = upd.Client
	}
	if name == "" {
		name = "Unknown"
	}
	title := upd.Title
	if title == "" {
		title = fmt.Sprintf("New release %s is now available", upd.Tag)
	}

	logger := n.logger.With("client", upd.Client, "tag", upd.Tag)

	if n.cfg.DiscordWebhookURL != "" {
		if err := n.sendDiscord(ctx, n.cfg.DiscordWebhookURL, n.updateAsDiscord(name, title, upd)); err != nil {
			logger.Error("Discord notification failed", "error", err)
		} else {
			logger.Info("Discord notification sent")
		}
	}
	if n.cfg.SlackWebhookURL != "" {
		if err := n.sendSlack(ctx, n.cfg.SlackWebhookURL, n.updateAsSlack(name, title, upd)); err != nil {
			logger.Error("Slack notification failed", "error", err)
		} else {
			logger.Info("Slack notification sent")
		}
	}
	if n.cfg.GenericWebhookURL != "" {
		if err := n.sendGeneric(ctx, n.cfg.GenericWebhookURL, n.updateAsGeneric(name, title, upd)); err != nil {
			logger.Error("Generic webhook notification failed", "error", err)
		} else {
			logger.Info("Generic webhook notification sent")
		}
	}
}

// TestWebhook sends a canned notification so operators can verify a URL
// before relying on it. kind is one of discord, slack or generic.
func (n *Notifier) TestWebhook(ctx context.Context, kind, url string) error {
	switch kind {
	case "discord":
		return n.sendDiscord(ctx, url, discordMessage{
			Content:   "🔔 Test notification from Protocol Tracker",
			Username:  botName,
			AvatarURL: botAvatar,
			Embeds: []discordEmbed{{
				Title:       "Webhook Test",
				Description: "This is a test notification to verify your Discord webhook is working correctly.",
				Color:       colorTest,
				Timestamp:   n.now().UTC().Format(time.RFC3339),
				Footer:      discordFooter{Text: "Protocol Tracker Test"},
			}},
		})
	case "slack":
		return n.sendSlack(ctx, url, slackMessage{
			Text:      "🔔 Test notification from Protocol Tracker",
			Username:  botName,
			IconEmoji: ":bell:",
			Attachments: []slackAttachment{{
				Fallback: "Webhook test",
				Color:    "good",
				Title:    "Webhook Test",
				Text:     "This is a test notification to verify your Slack webhook is working correctly.",
				Footer:   "Protocol Tracker Test",
			}},
		})
	case "generic":
		return n.sendGeneric(ctx, url, map[string]any{
			"event":     "webhook_test",
			"message":   "This is a test notification from Protocol Tracker",
			"timestamp": n.now().UTC().Format(time.RFC3339),
			"source":    botName,
		})
	default:
		return &custom_errors.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown webhook type %q", kind)}
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	URL         string         `json:"url,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordMessage struct {
	Content   string         `json:"content"`
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url"`
	Embeds    []discordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) updateAsDiscord(name, title string, upd model.DetectedUpdate) discordMessage {
	color := colorRelease
	typ := "Release"
	if upd.IsPrerelease {
		color = colorPrerelease
		typ = "Pre-release"
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("🚀 New %s Release: %s", name, upd.Tag),
		Description: title,
		Color:       color,
		URL:         upd.URL,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
		Footer:      discordFooter{Text: botName, IconURL: botAvatar},
		Fields: []discordField{
			{Name: "Client", Value: name, Inline: true},
			{Name: "Version", Value: upd.Tag, Inline: true},
			{Name: "Type", Value: typ, Inline: true},
		},
	}
	if strings.TrimSpace(upd.Notes) != "" {
		embed.Fields = append(embed.Fields, discordField{
			Name:  "Release Notes",
			Value: truncate(upd.Notes, discordNotesLimit),
		})
	}

	return discordMessage{
		Content:   fmt.Sprintf("🚀 New %s release: **%s**", name, upd.Tag),
		Username:  botName,
		AvatarURL: botAvatar,
		Embeds:    []discordEmbed{embed},
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Fallback  string       `json:"fallback"`
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Ts        int64        `json:"ts,omitempty"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func (n *Notifier) updateAsSlack(name, title string, upd model.DetectedUpdate) slackMessage {
	color := "good"
	typ := "Release"
	if upd.IsPrerelease {
		color = "warning"
		typ = "Pre-release"
	}

	attachment := slackAttachment{
		Fallback:  fmt.Sprintf("New %s release: %s", name, upd.Tag),
		Color:     color,
		Title:     fmt.Sprintf("🚀 New %s Release: %s", name, upd.Tag),
		TitleLink: upd.URL,
		Text:      title,
		Fields: []slackField{
			{Title: "Client", Value: name, Short: true},
			{Title: "Version", Value: upd.Tag, Short: true},
			{Title: "Type", Value: typ, Short: true},
		},
		Footer: botName,
		Ts:     n.now().Unix(),
	}
	if strings.TrimSpace(upd.Notes) != "" {
		attachment.Fields = append(attachment.Fields, slackField{
			Title: "Release Notes",
			Value: truncate(upd.Notes, slackNotesLimit),
		})
	}

	return slackMessage{
		Text:        fmt.Sprintf("🚀 New %s release: %s", name, upd.Tag),
		Username:    botName,
		IconEmoji:   ":bell:",
		Attachments: []slackAttachment{attachment},
	}
}

type genericData struct {
	Client       string `json:"client"`
	Tag          string `json:"tag"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Notes        string `json:"notes"`
	IsPrerelease bool   `json:"is_prerelease"`
	Type         string `json:"type"`
}

type genericEnvelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      genericData `json:"data"`
}

func (n *Notifier) updateAsGeneric(name, title string, upd model.DetectedUpdate) genericEnvelope {
	typ := "release"
	if upd.IsPrerelease {
		typ = "prerelease"
	}
	return genericEnvelope{
		Event:     "protocol_update",
		Timestamp: n.now().UTC().Format(time.RFC3339),
		Data: genericData{
			Client:       name,
			Tag:          upd.Tag,
			Title:        title,
			URL:          upd.URL,
			Notes:        upd.Notes,
			IsPrerelease: upd.IsPrerelease,
			Type:         typ,
		},
	}
}

// sendDiscord posts to a Discord webhook, which answers 204 on success.
func (n *Notifier) sendDiscord(ctx context.Context, url string, msg discordMessage) error {
	status, err := n.post(ctx, url, msg)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", status)
	}
	return nil
}

// sendSlack posts to a Slack incoming webhook, which answers 200 on success.
func (n *Notifier) sendSlack(ctx context.Context, url string, msg slackMessage) error {
	status, err := n.post(ctx, url, msg)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", status)
	}
	return nil
}

func (n *Notifier) sendGeneric(ctx context.Context, url string, payload any) error {
	status, err := n.post(ctx, url, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// truncate caps s at max characters, marking the cut with an ellipsis the
// way chat clients expect.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
