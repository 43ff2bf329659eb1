package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	m2btls "github.com/shineum/mail2beyond/internal/tls"
)

const minimalYAML = `
listeners:
  - port: 2525
connectors:
  - name: trash
    module: void
mappings:
  - pattern: default
    connector: trash
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{"LOG_LEVEL", "LOG_FORMAT", "METRICS_LISTEN"} {
		t.Setenv(env, "")
	}
}

func mustParse(t *testing.T, data string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func TestParse_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg := mustParse(t, minimalYAML)

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("Metrics.Listen: got %q, want empty", cfg.Metrics.Listen)
	}

	l := cfg.Listeners[0]
	if l.Address != "127.0.0.1" {
		t.Errorf("Address: got %q, want %q", l.Address, "127.0.0.1")
	}
	if l.Port != 2525 {
		t.Errorf("Port: got %d, want %d", l.Port, 2525)
	}
	if l.Hostname != "localhost" {
		t.Errorf("Hostname: got %q, want %q", l.Hostname, "localhost")
	}
	if l.MaxMessageSize != 26214400 {
		t.Errorf("MaxMessageSize: got %d, want %d", l.MaxMessageSize, 26214400)
	}

	m := cfg.Mappings[0]
	if m.Field != "from" {
		t.Errorf("Field: got %q, want %q", m.Field, "from")
	}
	if m.Parser != "auto" {
		t.Errorf("Parser: got %q, want %q", m.Parser, "auto")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestParse_DefaultPort(t *testing.T) {
	clearEnv(t)

	cfg := mustParse(t, "listeners:\n  - address: 0.0.0.0\n")
	if cfg.Listeners[0].Port != 62125 {
		t.Errorf("Port: got %d, want %d", cfg.Listeners[0].Port, 62125)
	}
}

func TestParse_FullFile(t *testing.T) {
	clearEnv(t)

	cfg := mustParse(t, `
logging:
  level: debug
  format: text
metrics:
  listen: 127.0.0.1:9125
plugins:
  connector_dirs: [/opt/m2b/connectors]
  parser_dirs: [/opt/m2b/parsers]
listeners:
  - address: 0.0.0.0
    port: 25
    hostname: relay.example.com
    auth_username: relay
    auth_password: secret
connectors:
  - name: chat
    module: slack
    config:
      webhook_url: https://hooks.slack.com/services/T/B/X
      timeout: 10
mappings:
  - pattern: "^ops@x.com$"
    field: to
    connector: chat
    parser: html
  - pattern: default
    connector: chat
`)

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9125" {
		t.Errorf("Metrics.Listen: got %q", cfg.Metrics.Listen)
	}
	if len(cfg.Plugins.ConnectorDirs) != 1 || cfg.Plugins.ConnectorDirs[0] != "/opt/m2b/connectors" {
		t.Errorf("ConnectorDirs: got %v", cfg.Plugins.ConnectorDirs)
	}
	if cfg.Listeners[0].Hostname != "relay.example.com" || cfg.Listeners[0].AuthUsername != "relay" {
		t.Errorf("Listener: got %+v", cfg.Listeners[0])
	}
	if got := cfg.Connectors[0].Config["webhook_url"]; got != "https://hooks.slack.com/services/T/B/X" {
		t.Errorf("webhook_url: got %v", got)
	}
	if got := cfg.Connectors[0].Config["timeout"]; got != 10 {
		t.Errorf("timeout: got %v (%T), want 10", got, got)
	}
	if cfg.Mappings[0].Field != "to" || cfg.Mappings[0].Parser != "html" {
		t.Errorf("Mapping: got %+v", cfg.Mappings[0])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestParse_JSON(t *testing.T) {
	clearEnv(t)

	cfg := mustParse(t, `{
  "listeners": [{"address": "localhost", "port": 2525}],
  "connectors": [{"name": "trash", "module": "void"}],
  "mappings": [{"pattern": "default", "connector": "trash"}]
}`)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "Text")
	t.Setenv("METRICS_LISTEN", ":9999")

	cfg := mustParse(t, "logging:\n  level: error\n"+minimalYAML)

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
	if cfg.Metrics.Listen != ":9999" {
		t.Errorf("Metrics.Listen: got %q, want %q", cfg.Metrics.Listen, ":9999")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "mail2beyond.yml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connectors[0].Name != "trash" {
		t.Errorf("Connectors[0].Name: got %q, want %q", cfg.Connectors[0].Name, "trash")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile("/nonexistent/config.yml")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("missing file: expected ConfigurationError, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("listeners: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = LoadFromFile(path)
	if !errors.As(err, &cfgErr) {
		t.Errorf("invalid YAML: expected ConfigurationError, got %v", err)
	}
}

func validConfig() *Config {
	cfg := &Config{
		Listeners:  []ListenerConfig{{Port: 2525}},
		Connectors: []ConnectorConfig{{Name: "chat", Module: "slack"}, {Name: "trash", Module: "void"}},
		Mappings: []MappingConfig{
			{Pattern: "^ops@x.com$", Field: "to", Connector: "chat"},
			{Pattern: "default", Connector: "trash"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := m2btls.WriteSelfSigned(certPath, keyPath); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		reason string
	}{
		{
			name:   "duplicate connector name",
			mutate: func(c *Config) { c.Connectors = append(c.Connectors, ConnectorConfig{Name: "chat", Module: "discord"}) },
			reason: "not unique",
		},
		{
			name:   "missing default mapping",
			mutate: func(c *Config) { c.Mappings = c.Mappings[:1] },
			reason: "default",
		},
		{
			name:   "two default mappings",
			mutate: func(c *Config) { c.Mappings = append(c.Mappings, MappingConfig{Pattern: "default", Connector: "chat"}) },
			reason: "only one mapping",
		},
		{
			name: "smtps and starttls",
			mutate: func(c *Config) {
				c.Listeners[0].EnableSMTPS = true
				c.Listeners[0].EnableStartTLS = true
				c.Listeners[0].TLSCert = certPath
				c.Listeners[0].TLSKey = keyPath
			},
			reason: "mutually exclusive",
		},
		{
			name:   "smtps without cert",
			mutate: func(c *Config) { c.Listeners[0].EnableSMTPS = true },
			reason: "tls_cert is required",
		},
		{
			name: "starttls without key",
			mutate: func(c *Config) {
				c.Listeners[0].EnableStartTLS = true
				c.Listeners[0].TLSCert = certPath
			},
			reason: "tls_key is required",
		},
		{
			name: "unreadable certificate",
			mutate: func(c *Config) {
				c.Listeners[0].EnableSMTPS = true
				c.Listeners[0].TLSCert = filepath.Join(dir, "missing.pem")
				c.Listeners[0].TLSKey = keyPath
			},
			reason: "invalid TLS certificate",
		},
		{
			name:   "require_starttls without starttls",
			mutate: func(c *Config) { c.Listeners[0].RequireStartTLS = true },
			reason: "require_starttls",
		},
		{
			name:   "unknown connector reference",
			mutate: func(c *Config) { c.Mappings[0].Connector = "nope" },
			reason: "not declared",
		},
		{
			name:   "bad pattern",
			mutate: func(c *Config) { c.Mappings[0].Pattern = "([a-z" },
			reason: "does not compile",
		},
		{
			name:   "no listeners",
			mutate: func(c *Config) { c.Listeners = nil },
			reason: "at least one listener",
		},
		{
			name:   "no connectors",
			mutate: func(c *Config) { c.Connectors = nil; c.Mappings = nil },
			reason: "at least one connector",
		},
		{
			name:   "no mappings",
			mutate: func(c *Config) { c.Mappings = nil },
			reason: "at least one mapping",
		},
		{
			name:   "hostname as address",
			mutate: func(c *Config) { c.Listeners[0].Address = "mail.example.com" },
			reason: "address",
		},
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Listeners[0].Port = 70000 },
			reason: "port",
		},
		{
			name:   "duplicate listener",
			mutate: func(c *Config) { c.Listeners = append(c.Listeners, c.Listeners[0]) },
			reason: "more than once",
		},
		{
			name:   "unknown TLS version",
			mutate: func(c *Config) { c.Listeners[0].MinimumTLSVersion = "ssl3" },
			reason: "minimum_tls_version",
		},
		{
			name:   "auth username only",
			mutate: func(c *Config) { c.Listeners[0].AuthUsername = "relay" },
			reason: "auth_username",
		},
		{
			name:   "connector without module",
			mutate: func(c *Config) { c.Connectors[0].Module = "" },
			reason: "module is required",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			reason: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", err, tt.reason)
			}
		})
	}
}

func TestValidate_TLSListener(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := m2btls.WriteSelfSigned(certPath, keyPath); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Listeners = append(cfg.Listeners, ListenerConfig{
		Address:           "127.0.0.1",
		Port:              465,
		EnableSMTPS:       true,
		TLSCert:           certPath,
		TLSKey:            keyPath,
		MinimumTLSVersion: "tls1_3",
	}, ListenerConfig{
		Address:         "127.0.0.1",
		Port:            587,
		EnableStartTLS:  true,
		RequireStartTLS: true,
		TLSCert:         certPath,
		TLSKey:          keyPath,
	})

	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
