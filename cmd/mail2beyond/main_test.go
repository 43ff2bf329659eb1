package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/shineum/mail2beyond/internal/config"
	m2btls "github.com/shineum/mail2beyond/internal/tls"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"MAIL2BEYOND_CONFIG", "MAIL2BEYOND_CONNECTORS_DIR", "MAIL2BEYOND_PARSERS_DIR",
		"MAIL2BEYOND_LOG_LEVEL", "MAIL2BEYOND_LOG_FORMAT", "MAIL2BEYOND_VERSION", "MAIL2BEYOND_GENERATE_CERT",
		"LOG_LEVEL", "LOG_FORMAT", "METRICS_LISTEN",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

// slogDefaultRestore returns a func that restores the current default logger.
func slogDefaultRestore() func() {
	prev := slog.Default()
	return func() { slog.SetDefault(prev) }
}

func TestParseOptions_Flags(t *testing.T) {
	clearEnv(t)

	opts, err := parseOptions([]string{
		"-c", "/etc/mail2beyond.yml",
		"--connectors-dir", "/a", "--connectors-dir", "/b",
		"--parsers-dir", "/p",
		"--log-level", "DEBUG",
		"--log-format", "text",
	}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opts.configPath != "/etc/mail2beyond.yml" {
		t.Errorf("configPath: got %q", opts.configPath)
	}
	if !slices.Equal(opts.connectorDirs, []string{"/a", "/b"}) {
		t.Errorf("connectorDirs: got %v", opts.connectorDirs)
	}
	if !slices.Equal(opts.parserDirs, []string{"/p"}) {
		t.Errorf("parserDirs: got %v", opts.parserDirs)
	}
	if opts.logLevel != "debug" || opts.logFormat != "text" {
		t.Errorf("logging: got %q %q", opts.logLevel, opts.logFormat)
	}
	if opts.showVersion {
		t.Error("showVersion: got true, want false")
	}
}

func TestParseOptions_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL2BEYOND_CONFIG", "/env/config.yml")
	t.Setenv("MAIL2BEYOND_LOG_LEVEL", "warn")

	opts, err := parseOptions(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.configPath != "/env/config.yml" {
		t.Errorf("configPath: got %q, want %q", opts.configPath, "/env/config.yml")
	}
	if opts.logLevel != "warn" {
		t.Errorf("logLevel: got %q, want %q", opts.logLevel, "warn")
	}

	// Flags take precedence over the environment.
	opts, err = parseOptions([]string{"--config", "/flag.yml"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.configPath != "/flag.yml" {
		t.Errorf("configPath: got %q, want %q", opts.configPath, "/flag.yml")
	}
}

func TestParseOptions_Help(t *testing.T) {
	clearEnv(t)

	var out bytes.Buffer
	_, err := parseOptions([]string{"--help"}, &out)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(out.String(), "--connectors-dir") {
		t.Errorf("usage does not list --connectors-dir: %q", out.String())
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
plugins:
  connector_dirs: [/from-file]
listeners: [{port: 2525}]
connectors: [{name: trash, module: void}]
mappings: [{pattern: default, connector: trash}]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&options{
		configPath:    path,
		connectorDirs: []string{"/from-flag"},
		logLevel:      "error",
		logFormat:     "text",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(cfg.Plugins.ConnectorDirs, []string{"/from-file", "/from-flag"}) {
		t.Errorf("ConnectorDirs: got %v", cfg.Plugins.ConnectorDirs)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	clearEnv(t)

	var cfgErr *config.ConfigurationError
	if err := run(&options{}); !errors.As(err, &cfgErr) {
		t.Errorf("no config: expected ConfigurationError, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
listeners: [{port: 2525}]
connectors: [{name: a, module: void}, {name: a, module: void}]
mappings: [{pattern: default, connector: a}]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := run(&options{configPath: path, logLevel: "error"}); !errors.As(err, &cfgErr) {
		t.Errorf("duplicate connector: expected ConfigurationError, got %v", err)
	}
}

func TestSetupLogger(t *testing.T) {
	defer slogDefaultRestore()()

	var buf bytes.Buffer
	log := setupLogger(&buf, "warn", "json")

	log.Info("hidden")
	log.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines: got %d, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["key"] != "value" {
		t.Errorf("entry: got %v", entry)
	}

	buf.Reset()
	log = setupLogger(&buf, "bogus", "text")
	log.Debug("hidden")
	log.InfoContext(context.Background(), "visible")
	if !strings.Contains(buf.String(), "msg=visible") || strings.Contains(buf.String(), "hidden") {
		t.Errorf("text output: got %q", buf.String())
	}
}

func TestGenerateCert(t *testing.T) {
	clearEnv(t)

	dir := filepath.Join(t.TempDir(), "certs")
	opts, err := parseOptions([]string{"--generate-cert", dir}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.generateCert != dir {
		t.Fatalf("generateCert: got %q, want %q", opts.generateCert, dir)
	}

	certPath, keyPath, err := generateCert(opts.generateCert)
	if err != nil {
		t.Fatalf("generateCert: %v", err)
	}
	if certPath != filepath.Join(dir, "cert.pem") || keyPath != filepath.Join(dir, "key.pem") {
		t.Errorf("paths: got %q %q", certPath, keyPath)
	}
	if _, err := m2btls.Load(certPath, keyPath, ""); err != nil {
		t.Errorf("generated pair does not load: %v", err)
	}
}
