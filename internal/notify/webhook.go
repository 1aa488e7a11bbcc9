// Package notify posts alert messages to a Slack-compatible incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"Buildwatch/internal/config"
)

type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Block struct {
	Type string `json:"type"`
	Text Text   `json:"text"`
}

// Message is a webhook payload: a heading block followed by a body block
type Message struct {
	Kind   string  `json:"-"`
	Blocks []Block `json:"blocks"`
}

func section(text string) Block {
	return Block{Type: "section", Text: Text{Type: "mrkdwn", Text: text}}
}

func newMessage(kind, heading, body string) Message {
	return Message{
		Kind:   kind,
		Blocks: []Block{section(heading), section(body)},
	}
}

const (
	KindUser  = "user"
	KindBuild = "build"
)

// UserAlert names an actor over the per-actor threshold. oldest is the earliest creation
// time across the whole fetch, which bounds what the cancellation pass may touch.
func UserAlert(actor string, count, windowSeconds int, now, oldest time.Time, dryRun bool) Message {
	body := fmt.Sprintf("*%s* has triggered %d pipelines in the past %d seconds\n (since %s).\n"+
		"Any running workflows triggered since %s will be cancelled.",
		actor, count, windowSeconds, now.Format(time.RFC3339), oldest.Format(time.RFC3339))
	if dryRun {
		body += "\n_Dry run: no workflows were cancelled._"
	}
	return newMessage(KindUser, "*USER ALERT*", body)
}

// BuildAlert reports the project-wide count of pipelines inside the window
func BuildAlert(count int, oldestInWindow, now time.Time) Message {
	body := fmt.Sprintf("There have been *%d pipelines* triggered between %s and %s.",
		count, oldestInWindow.Format(time.RFC3339), now.Format(time.RFC3339))
	return newMessage(KindBuild, "*BUILD ALERT*", body)
}

type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier
func NewWebhook(cfg config.NotifyConfig, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "notify"),
	}
}

// Send posts one message as a single JSON request
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	w.logger.Debug("notification sent", "kind", msg.Kind)
	return nil
}
