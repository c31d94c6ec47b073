package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	discordAPIBase = "https://discord.com/api/v10"
	httpTimeout    = 10 * time.Second
	// Two retries on top of the first attempt.
	maxRetries = 2
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Color       int          `json:"color,omitempty"`
}

type discordMessage struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

func buildMessage(n Notification, masker *Masker) discordMessage {
	n = masker.MaskNotification(n)
	e := embed{
		Title:       Truncate(n.Title, 256),
		Description: Truncate(n.Body, MaxBodyBytes),
		Color:       n.Severity.Color(),
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, embedField{
			Name:   Truncate(f.Name, 256),
			Value:  Truncate(f.Value, MaxBodyBytes),
			Inline: f.Inline,
		})
	}
	return discordMessage{Embeds: []embed{e}}
}

// WebhookClient posts notifications to a Discord webhook URL.
type WebhookClient struct {
	url    string
	client *http.Client
	masker *Masker
}

// NewWebhook builds a webhook-backed notifier.
func NewWebhook(url string, masker *Masker) *WebhookClient {
	return &WebhookClient{
		url:    url,
		client: &http.Client{Timeout: httpTimeout},
		masker: masker,
	}
}

// Notify posts the notification, retrying transient failures with
// exponential backoff.
func (c *WebhookClient) Notify(ctx context.Context, n Notification) error {
	return postJSON(ctx, c.client, c.url, nil, buildMessage(n, c.masker))
}

// BotClient posts notifications through the Discord bot API. A channel id is
// required; Notification.Channel overrides the default per message.
type BotClient struct {
	token     string
	channelID string
	baseURL   string
	client    *http.Client
	masker    *Masker
}

// NewBot builds a bot-token-backed notifier.
func NewBot(token, channelID string, masker *Masker) *BotClient {
	return &BotClient{
		token:     token,
		channelID: channelID,
		baseURL:   discordAPIBase,
		client:    &http.Client{Timeout: httpTimeout},
		masker:    masker,
	}
}

// Notify posts the notification to the bot's channel.
func (c *BotClient) Notify(ctx context.Context, n Notification) error {
	channel := c.channelID
	if n.Channel != "" {
		channel = n.Channel
	}
	if channel == "" {
		return fmt.Errorf("discord bot notifier: no channel configured")
	}
	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channel)
	headers := map[string]string{"Authorization": "Bot " + c.token}
	return postJSON(ctx, c.client, url, headers, buildMessage(n, c.masker))
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build notification request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("post notification: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 300 {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			err := fmt.Errorf("post notification: status %d: %s", resp.StatusCode, excerpt)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(op, policy)
}

// New picks a transport from the configured credentials: bot token first,
// webhook second, and a no-op sink when neither is usable.
func New(webhookURL, botToken, channelID string, masker *Masker) Notifier {
	switch {
	case botToken != "" && channelID != "":
		log.Info().Str("transport", "discord-bot").Msg("notifier configured")
		return NewBot(botToken, channelID, masker)
	case botToken != "":
		log.Warn().Msg("discord bot token set but no channel id; falling back")
	}
	if webhookURL != "" {
		log.Info().Str("transport", "discord-webhook").Msg("notifier configured")
		return NewWebhook(webhookURL, masker)
	}
	log.Debug().Msg("no notifier credentials; notifications disabled")
	return Nop{}
}
