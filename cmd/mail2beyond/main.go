// Package main is the entry point for the mail2beyond relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shineum/mail2beyond/internal/config"
	"github.com/shineum/mail2beyond/internal/metrics"
	"github.com/shineum/mail2beyond/internal/registry"
	"github.com/shineum/mail2beyond/internal/relay"
	m2btls "github.com/shineum/mail2beyond/internal/tls"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// options are the command-line settings. Each flag can also be set through
// an environment variable such as MAIL2BEYOND_CONFIG or MAIL2BEYOND_LOG_LEVEL.
type options struct {
	configPath    string
	connectorDirs []string
	parserDirs    []string
	logLevel      string
	logFormat     string
	generateCert  string
	showVersion   bool
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mail2beyond: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Println("mail2beyond", version)
		return
	}

	if opts.generateCert != "" {
		certPath, keyPath, err := generateCert(opts.generateCert)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mail2beyond: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote self-signed certificate %s and key %s\n", certPath, keyPath)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "mail2beyond: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string, output io.Writer) (*options, error) {
	fs := pflag.NewFlagSet("mail2beyond", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringP("config", "c", "", "path to the YAML or JSON configuration file")
	fs.StringSlice("connectors-dir", nil, "extra directory to search for connector plugins (repeatable)")
	fs.StringSlice("parsers-dir", nil, "extra directory to search for parser plugins (repeatable)")
	fs.String("log-level", "", "override logging.level (debug, info, warn, error)")
	fs.String("log-format", "", "override logging.format (json, text)")
	fs.String("generate-cert", "", "write a self-signed cert.pem and key.pem for localhost into DIR and exit")
	fs.BoolP("version", "v", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("MAIL2BEYOND")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	return &options{
		configPath:    v.GetString("config"),
		connectorDirs: v.GetStringSlice("connectors-dir"),
		parserDirs:    v.GetStringSlice("parsers-dir"),
		logLevel:      strings.ToLower(v.GetString("log-level")),
		logFormat:     strings.ToLower(v.GetString("log-format")),
		generateCert:  v.GetString("generate-cert"),
		showVersion:   v.GetBool("version"),
	}, nil
}

// generateCert writes a self-signed certificate and key into dir for local
// testing of STARTTLS and SMTPS listeners.
func generateCert(dir string) (certPath, keyPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := m2btls.WriteSelfSigned(certPath, keyPath); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// loadConfig reads the configuration file and applies command-line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	if opts.configPath == "" {
		return nil, &config.ConfigurationError{Reason: "a configuration file is required (--config)"}
	}

	cfg, err := config.LoadFromFile(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	cfg.Plugins.ConnectorDirs = append(cfg.Plugins.ConnectorDirs, opts.connectorDirs...)
	cfg.Plugins.ParserDirs = append(cfg.Plugins.ParserDirs, opts.parserDirs...)

	return cfg, nil
}

func run(opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.Level == "debug" {
		log.Warn("debug logging is enabled, logs may contain sensitive message content")
	}

	listeners, err := relay.Compile(cfg, registry.New(log), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		if err := metrics.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
			return err
		}
	}

	log.Info("starting mail2beyond",
		"version", version,
		"listeners", len(cfg.Listeners),
		"connectors", len(cfg.Connectors),
		"mappings", len(cfg.Mappings),
	)

	if err := relay.Run(ctx, listeners, log); err != nil {
		return err
	}

	log.Info("mail2beyond stopped")
	return nil
}

// setupLogger configures the global slog logger with the given level and
// format, and returns it.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
