// Package graph implements a connector that sends messages through the
// Microsoft Graph sendMail API using OAuth2 client credentials.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

const (
	defaultLoginURL = "https://login.microsoftonline.com"
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
)

// Plugin is the built-in "graph" connector.
var Plugin = &connector.Plugin{
	Name: "graph",
	New:  func() connector.Connector { return New() },
}

// Connector posts the raw MIME message to /users/{sender}/sendMail.
// A token is requested for every message; nothing is cached between calls.
type Connector struct {
	loginURL   string
	graphURL   string
	httpClient *http.Client
}

// New creates a Connector against the public Microsoft endpoints.
func New() *Connector {
	return &Connector{
		loginURL:   defaultLoginURL,
		graphURL:   defaultGraphURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// newWithOverrides creates a Connector with custom base URLs and HTTP client,
// used for testing.
func newWithOverrides(loginURL, graphURL string, client *http.Client) *Connector {
	return &Connector{loginURL: loginURL, graphURL: graphURL, httpClient: client}
}

type settings struct {
	tenantID     string
	clientID     string
	clientSecret string
	sender       string
}

func parseSettings(cfg connector.Config) (*settings, error) {
	s := &settings{}
	for key, dst := range map[string]*string{
		"tenant_id":     &s.tenantID,
		"client_id":     &s.clientID,
		"client_secret": &s.clientSecret,
		"sender":        &s.sender,
	} {
		v, err := cfg.RequireString(key)
		if err != nil {
			return nil, err
		}
		if v == "" {
			return nil, fmt.Errorf("config value %q must not be empty", key)
		}
		*dst = v
	}
	return s, nil
}

func (c *Connector) Validate(_ *email.Message, cfg connector.Config) error {
	_, err := parseSettings(cfg)
	return err
}

// Execute sends msg.Raw via Graph. HTTP 202 Accepted is success for sendMail.
func (c *Connector) Execute(ctx context.Context, msg *email.Message, _ string, cfg connector.Config, log *slog.Logger) error {
	s, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, url.PathEscape(s.tenantID))
	token, err := fetchToken(ctx, c.httpClient, tokenURL, s.clientID, s.clientSecret)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", c.graphURL, url.PathEscape(s.sender))
	body := base64.StdEncoding.EncodeToString(msg.Raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		log.Debug("message forwarded to Graph", "sender", s.sender, "status", resp.StatusCode)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	var graphErr graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErr); jsonErr == nil && graphErr.Error.Message != "" {
		return fmt.Errorf("Graph API error (HTTP %d): %s", resp.StatusCode, graphErr.Error.Message)
	}
	return fmt.Errorf("Graph API error (HTTP %d): %s", resp.StatusCode, string(respBody))
}

// graphErrorResponse is the error envelope returned by Graph.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
