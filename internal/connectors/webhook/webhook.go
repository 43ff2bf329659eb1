// Package webhook implements the chat connectors that post messages to an
// incoming-webhook URL: slack, google_chat, discord and microsoft_teams.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

// defaultTimeout bounds a webhook request when the instance sets no "timeout".
const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// Built-in chat connectors.
var (
	Slack = &connector.Plugin{
		Name: "slack",
		New:  func() connector.Connector { return &Connector{contentType: "application/json", field: "text"} },
	}
	GoogleChat = &connector.Plugin{
		Name: "google_chat",
		New:  func() connector.Connector { return &Connector{contentType: "application/json; charset=UTF-8", field: "text"} },
	}
	Discord = &connector.Plugin{
		Name: "discord",
		New:  func() connector.Connector { return &Connector{contentType: "application/json", field: "content"} },
	}
	MicrosoftTeams = &connector.Plugin{
		Name: "microsoft_teams",
		New:  func() connector.Connector { return &Connector{contentType: "application/json; charset=utf-8", field: "text"} },
	}
)

// Connector posts {"<field>": "<text>"} to the configured webhook_url.
type Connector struct {
	contentType string
	field       string

	// client overrides the per-call client in tests.
	client *http.Client
}

// Validate requires an absolute http(s) webhook_url and an optional
// positive integer timeout.
func (c *Connector) Validate(_ *email.Message, cfg connector.Config) error {
	raw, err := cfg.RequireString("webhook_url")
	if err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config value %q must be an http or https URL", "webhook_url")
	}
	if n, ok, err := cfg.Int("timeout"); err != nil {
		return err
	} else if ok && n <= 0 {
		return fmt.Errorf("config value %q must be a positive number of seconds", "timeout")
	}
	return nil
}

// Execute posts the message. Any transport error or non-2xx status is a failure.
func (c *Connector) Execute(ctx context.Context, msg *email.Message, content string, cfg connector.Config, log *slog.Logger) error {
	webhookURL, _ := cfg.RequireString("webhook_url")

	body, err := json.Marshal(map[string]string{c.field: Text(msg, content)})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", c.contentType)

	resp, err := c.httpClient(cfg).Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	log.Debug("webhook responded", "status", resp.StatusCode, "body", string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (c *Connector) httpClient(cfg connector.Config) *http.Client {
	if c.client != nil {
		return c.client
	}
	timeout := defaultTimeout
	if n, ok, _ := cfg.Int("timeout"); ok && n > 0 {
		timeout = time.Duration(n) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Text renders the chat message: the subject in bold, the date in italics
// when present, then the parsed content.
func Text(msg *email.Message, content string) string {
	if date := msg.Date(); date != "" {
		return fmt.Sprintf("*%s*\n_%s_\n\n%s", msg.Subject(), date, content)
	}
	return fmt.Sprintf("*%s*\n\n%s", msg.Subject(), content)
}
