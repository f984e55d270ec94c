package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appconfig "arbflow/config"
)

// Discord caps message content at 2000 characters.
const discordMaxContent = 2000

// DiscordSender posts messages to a Discord webhook.
type DiscordSender struct {
	client     *http.Client
	webhookURL string
}

type discordPayload struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

func NewDiscordSender(cfg appconfig.DiscordConfig, timeout time.Duration) *DiscordSender {
	return &DiscordSender{
		client:     &http.Client{Timeout: timeout},
		webhookURL: cfg.WebhookURL,
	}
}

func (d *DiscordSender) Name() string { return "discord" }

func (d *DiscordSender) Deliver(ctx context.Context, title, body string) error {
	content := "**" + title + "**\n" + body
	if r := []rune(content); len(r) > discordMaxContent {
		content = string(r[:discordMaxContent])
	}
	payload, err := json.Marshal(discordPayload{Username: "arbflow", Content: content})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord status %d", resp.StatusCode)
	}
	return nil
}
