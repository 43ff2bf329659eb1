// Package relay turns a validated configuration into ready-to-start
// listeners and runs them until the process is told to stop.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/internal/config"
	"github.com/shineum/mail2beyond/internal/listener"
	"github.com/shineum/mail2beyond/internal/mapping"
	m2btls "github.com/shineum/mail2beyond/internal/tls"
	"github.com/shineum/mail2beyond/parser"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Resolver looks up plugins by module name.
type Resolver interface {
	Connector(name string, dirs []string) (*connector.Plugin, error)
	Parser(name string, dirs []string) (*parser.Plugin, error)
}

// Compile validates cfg, resolves every connector and parser module and
// builds one Listener per configured endpoint. No socket is opened; on any
// error nothing has been started.
func Compile(cfg *config.Config, res Resolver, log *slog.Logger) ([]*listener.Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	instances := make(map[string]*connector.Instance, len(cfg.Connectors))
	for _, c := range cfg.Connectors {
		p, err := res.Connector(c.Module, cfg.Plugins.ConnectorDirs)
		if err != nil {
			return nil, fmt.Errorf("connector %q: %w", c.Name, err)
		}
		instances[c.Name] = connector.NewInstance(c.Name, p, c.Config)
	}

	rules := make([]*mapping.Mapping, 0, len(cfg.Mappings))
	for _, mc := range cfg.Mappings {
		p, err := res.Parser(mc.Parser, cfg.Plugins.ParserDirs)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", mc.Pattern, err)
		}
		m, err := mapping.New(mc.Pattern, mc.Field, instances[mc.Connector], p)
		if err != nil {
			return nil, &config.ConfigurationError{Reason: "invalid mapping", Err: err}
		}
		rules = append(rules, m)
	}

	table, err := mapping.NewTable(rules)
	if err != nil {
		return nil, &config.ConfigurationError{Reason: "invalid mappings", Err: err}
	}

	listeners := make([]*listener.Listener, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		lcfg, err := listenerConfig(lc)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, listener.New(lcfg, table, log))
	}

	return listeners, nil
}

// listenerConfig maps a configured endpoint to listener settings.
func listenerConfig(lc config.ListenerConfig) (listener.Config, error) {
	out := listener.Config{
		Address:        lc.Address,
		Port:           lc.Port,
		Hostname:       lc.Hostname,
		TLSPolicy:      tlsPolicy(lc),
		AuthUsername:   lc.AuthUsername,
		AuthPassword:   lc.AuthPassword,
		MaxMessageSize: lc.MaxMessageSize,
	}
	if out.TLSPolicy == listener.TLSNone {
		return out, nil
	}

	tlsCfg, err := m2btls.Load(lc.TLSCert, lc.TLSKey, lc.MinimumTLSVersion)
	if err != nil {
		return listener.Config{}, &config.ConfigurationError{Reason: "listener " + lc.Name() + ": invalid TLS certificate", Err: err}
	}
	out.TLSConfig = tlsCfg
	return out, nil
}

func tlsPolicy(lc config.ListenerConfig) listener.TLSPolicy {
	switch {
	case lc.EnableSMTPS:
		return listener.TLSImplicit
	case lc.EnableStartTLS && lc.RequireStartTLS:
		return listener.TLSStartTLSRequired
	case lc.EnableStartTLS:
		return listener.TLSStartTLSOptional
	default:
		return listener.TLSNone
	}
}

// Run starts every listener and blocks until ctx is cancelled, then shuts
// them all down. If any listener fails to start, the ones already running
// are stopped and the error is returned.
func Run(ctx context.Context, listeners []*listener.Listener, log *slog.Logger) error {
	for i, l := range listeners {
		if err := l.Start(); err != nil {
			shutdown(listeners[:i], log)
			return err
		}
	}

	log.Info("mail2beyond running", "listeners", len(listeners))
	<-ctx.Done()
	log.Info("shutting down", "reason", context.Cause(ctx))

	return shutdown(listeners, log)
}

func shutdown(listeners []*listener.Listener, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := make([]error, len(listeners))
	done := make(chan int)
	for i, l := range listeners {
		go func() {
			errs[i] = l.Shutdown(ctx)
			done <- i
		}()
	}
	for range listeners {
		<-done
	}

	err := errors.Join(errs...)
	if err == nil {
		log.Info("all listeners stopped")
	}
	return err
}
