// Package smtp implements the connector that relays messages to an upstream
// SMTP server unchanged.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

const (
	dialTimeout       = 30 * time.Second
	commandTimeout    = 5 * time.Minute
	submissionTimeout = 12 * time.Minute
)

// Plugin is the built-in "smtp" connector.
var Plugin = &connector.Plugin{
	Name: "smtp",
	New:  func() connector.Connector { return Connector{} },
}

// Connector forwards the envelope and raw message to smtp_host:smtp_port,
// optionally over implicit TLS and with AUTH PLAIN.
type Connector struct{}

// settings is the validated form of a connector config.
type settings struct {
	host     string
	port     int
	useTLS   bool
	useLogin bool
	user     string
	password string
}

func parseSettings(cfg connector.Config) (*settings, error) {
	s := &settings{}
	var err error

	if s.host, err = cfg.RequireString("smtp_host"); err != nil {
		return nil, err
	}
	if s.host == "" {
		return nil, fmt.Errorf("config value %q must not be empty", "smtp_host")
	}

	port, ok, err := cfg.Int("smtp_port")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("requires config value %q", "smtp_port")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("config value %q must be between 1 and 65535", "smtp_port")
	}
	s.port = port

	if s.useTLS, err = cfg.Bool("smtp_use_tls", false); err != nil {
		return nil, err
	}
	if s.useLogin, err = cfg.Bool("smtp_use_login", false); err != nil {
		return nil, err
	}
	if s.useLogin {
		if s.user, err = cfg.RequireString("smtp_login_user"); err != nil {
			return nil, err
		}
		if s.password, err = cfg.RequireString("smtp_login_password"); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Validate checks the connector config and that the message has an envelope
// to forward. No lookups are made against smtp_host.
func (Connector) Validate(msg *email.Message, cfg connector.Config) error {
	if _, err := parseSettings(cfg); err != nil {
		return err
	}
	if len(msg.Envelope.To) == 0 {
		return fmt.Errorf("message has no envelope recipients")
	}
	return nil
}

// Execute opens a client session, authenticates if configured and submits
// the message.
func (Connector) Execute(ctx context.Context, msg *email.Message, _ string, cfg connector.Config, log *slog.Logger) error {
	s, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := dial(ctx, addr, s)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	client := gosmtp.NewClient(conn)
	client.CommandTimeout = commandTimeout
	client.SubmissionTimeout = submissionTimeout
	defer client.Close()

	if s.useLogin {
		if err := client.Auth(sasl.NewPlainClient("", s.user, s.password)); err != nil {
			return fmt.Errorf("authentication with %s failed: %w", addr, err)
		}
	}

	if err := client.SendMail(msg.Envelope.From, msg.Envelope.To, bytes.NewReader(msg.Raw)); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", addr, err)
	}
	if err := client.Quit(); err != nil {
		log.Debug("upstream QUIT failed", "addr", addr, "error", err)
	}

	proto := "smtp"
	if s.useTLS {
		proto = "smtps"
	}
	log.Debug("message forwarded", "upstream", proto+"://"+addr)
	return nil
}

func dial(ctx context.Context, addr string, s *settings) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: dialTimeout}
	if !s.useTLS {
		return netDialer.DialContext(ctx, "tcp", addr)
	}
	tlsDialer := &tls.Dialer{
		NetDialer: netDialer,
		Config: &tls.Config{
			ServerName: s.host,
			MinVersion: tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}
