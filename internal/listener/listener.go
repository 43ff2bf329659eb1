// Package listener runs one SMTP endpoint: it accepts mail, routes each
// message through the mapping table and hands it to the chosen connector.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mail2beyond/internal/mapping"
)

const (
	// DefaultMaxMessageSize is 25 MiB.
	DefaultMaxMessageSize = 25 * 1024 * 1024

	// idleTimeout bounds a single read or write on a client connection.
	idleTimeout = 60 * time.Second

	maxRecipients = 100
)

// TLSPolicy selects how a listener offers TLS.
type TLSPolicy int

const (
	TLSNone TLSPolicy = iota
	TLSStartTLSOptional
	TLSStartTLSRequired
	TLSImplicit
)

func (p TLSPolicy) String() string {
	switch p {
	case TLSNone:
		return "none"
	case TLSStartTLSOptional:
		return "starttls_optional"
	case TLSStartTLSRequired:
		return "starttls_required"
	case TLSImplicit:
		return "smtps"
	default:
		return "TLSPolicy(" + strconv.Itoa(int(p)) + ")"
	}
}

// Config holds the settings of one listener.
type Config struct {
	Address  string
	Port     int
	Hostname string

	TLSPolicy TLSPolicy

	// TLSConfig is required for every policy except TLSNone.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword enable AUTH PLAIN when both are set.
	AuthUsername string
	AuthPassword string

	MaxMessageSize int64
}

// Name returns "address:port".
func (c Config) Name() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func (c Config) authEnabled() bool {
	return c.AuthUsername != "" && c.AuthPassword != ""
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

// Listener is an SMTP endpoint with its routing table. Create it with New,
// then call Start.
type Listener struct {
	cfg   Config
	table *mapping.Table
	log   *slog.Logger

	mu     sync.Mutex
	state  state
	server *gosmtp.Server
	ln     net.Listener
	done   chan struct{}
}

// New creates a Listener in the created state. No socket is opened.
func New(cfg Config, table *mapping.Table, log *slog.Logger) *Listener {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Listener{
		cfg:   cfg,
		table: table,
		log:   log.With("listener", cfg.Name()),
	}
}

// Name returns the configured "address:port".
func (l *Listener) Name() string {
	return l.cfg.Name()
}

// Config returns the listener settings.
func (l *Listener) Config() Config {
	return l.cfg
}

// Mappings returns the routing table.
func (l *Listener) Mappings() *mapping.Table {
	return l.table
}

// Start binds the socket and begins accepting connections in the
// background. Binding errors are returned; serving errors are logged.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateCreated {
		return fmt.Errorf("listener %s already started", l.Name())
	}
	if l.cfg.TLSPolicy != TLSNone && l.cfg.TLSConfig == nil {
		return fmt.Errorf("listener %s: TLS policy %s needs a certificate", l.Name(), l.cfg.TLSPolicy)
	}

	ln, err := net.Listen("tcp", l.cfg.Name())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.Name(), err)
	}
	if l.cfg.TLSPolicy == TLSImplicit {
		ln = tls.NewListener(ln, l.cfg.TLSConfig)
	}

	s := gosmtp.NewServer(&backend{l: l})
	s.Addr = l.cfg.Name()
	s.Domain = l.cfg.Hostname
	s.ReadTimeout = idleTimeout
	s.WriteTimeout = idleTimeout
	s.MaxMessageBytes = l.cfg.MaxMessageSize
	s.MaxRecipients = maxRecipients
	s.ErrorLog = serverLog{l.log}
	if l.cfg.TLSPolicy != TLSNone {
		s.TLSConfig = l.cfg.TLSConfig
	}
	// Without any TLS there is nothing to wait for before offering AUTH.
	s.AllowInsecureAuth = l.cfg.TLSPolicy == TLSNone

	l.server = s
	l.ln = ln
	l.done = make(chan struct{})
	l.state = stateRunning

	l.log.Info("SMTP listener started",
		"addr", ln.Addr().String(),
		"tls", l.cfg.TLSPolicy.String(),
		"auth_enabled", l.cfg.authEnabled(),
		"max_message_size", l.cfg.MaxMessageSize,
	)
	for i, m := range l.table.Mappings() {
		l.log.Debug("mapping", "order", i, "field", m.Field, "pattern", m.Pattern,
			"connector", m.Connector.Name, "parser", m.Parser.Name)
	}

	go func() {
		defer close(l.done)
		if err := s.Serve(ln); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			l.log.Error("SMTP listener stopped", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Shutdown stops accepting connections and waits for open sessions to end
// until ctx expires, after which they are closed.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.state != stateRunning {
		l.mu.Unlock()
		return nil
	}
	l.state = stateStopped
	s, ln, done := l.server, l.ln, l.done
	l.mu.Unlock()

	l.log.Info("shutting down SMTP listener")

	err := s.Shutdown(ctx)
	if err != nil {
		l.log.Warn("shutdown timeout reached with sessions still open", "error", err)
		_ = s.Close()
	}
	// The server only tracks ln once Serve is running, so close it here too.
	// Serve then sees the server closed and returns ErrServerClosed.
	_ = ln.Close()

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// serverLog adapts slog to the go-smtp error logger.
type serverLog struct {
	log *slog.Logger
}

func (s serverLog) Printf(format string, v ...any) {
	s.log.Debug(fmt.Sprintf(format, v...))
}

func (s serverLog) Println(v ...any) {
	s.log.Debug(fmt.Sprint(v...))
}
