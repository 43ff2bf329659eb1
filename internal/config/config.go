// Package config loads the relay configuration from a YAML (or JSON) file
// with environment variable overrides, and validates it before anything is
// instantiated.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// defaultMaxMessageSize is 25 MiB in bytes.
	defaultMaxMessageSize = 26214400

	defaultAddress  = "127.0.0.1"
	defaultPort     = 62125
	defaultHostname = "localhost"

	defaultField  = "from"
	defaultParser = "auto"
)

// Config holds the complete application configuration.
type Config struct {
	Logging    LoggingConfig     `yaml:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Plugins    PluginsConfig     `yaml:"plugins"`
	Listeners  []ListenerConfig  `yaml:"listeners"`
	Connectors []ConnectorConfig `yaml:"connectors"`
	Mappings   []MappingConfig   `yaml:"mappings"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// PluginsConfig lists directories scanned for external plugins, in order.
type PluginsConfig struct {
	ConnectorDirs []string `yaml:"connector_dirs"`
	ParserDirs    []string `yaml:"parser_dirs"`
}

// ListenerConfig describes one SMTP endpoint.
type ListenerConfig struct {
	Address           string `yaml:"address"`
	Port              int    `yaml:"port"`
	Hostname          string `yaml:"hostname"`
	EnableSMTPS       bool   `yaml:"enable_smtps"`
	EnableStartTLS    bool   `yaml:"enable_starttls"`
	RequireStartTLS   bool   `yaml:"require_starttls"`
	TLSCert           string `yaml:"tls_cert"`
	TLSKey            string `yaml:"tls_key"`
	MinimumTLSVersion string `yaml:"minimum_tls_version"`
	AuthUsername      string `yaml:"auth_username"`
	AuthPassword      string `yaml:"auth_password"`
	MaxMessageSize    int64  `yaml:"max_message_size"`
}

// ConnectorConfig declares a named connector instance of a module.
type ConnectorConfig struct {
	Name   string         `yaml:"name"`
	Module string         `yaml:"module"`
	Config map[string]any `yaml:"config"`
}

// MappingConfig is one routing rule. Pattern "default" marks the fallback.
type MappingConfig struct {
	Pattern   string `yaml:"pattern"`
	Field     string `yaml:"field"`
	Connector string `yaml:"connector"`
	Parser    string `yaml:"parser"`
}

// ConfigurationError reports a malformed or inconsistent configuration.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "invalid configuration: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// LoadFromFile reads a configuration file, applies defaults and then
// environment variable overrides. It does not validate.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "failed to read config file", Err: err}
	}
	return Parse(data)
}

// Parse decodes configuration from YAML or JSON.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Reason: "failed to parse config file", Err: err}
	}

	cfg.applyDefaults()

	// Environment variables always override file values
	cfg.applyEnvVars()

	return cfg, nil
}

// applyDefaults fills unset fields with their default values.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	for i := range c.Listeners {
		l := &c.Listeners[i]
		if l.Address == "" {
			l.Address = defaultAddress
		}
		if l.Port == 0 {
			l.Port = defaultPort
		}
		if l.Hostname == "" {
			l.Hostname = defaultHostname
		}
		if l.MaxMessageSize == 0 {
			l.MaxMessageSize = defaultMaxMessageSize
		}
	}

	for i := range c.Mappings {
		m := &c.Mappings[i]
		if m.Field == "" {
			m.Field = defaultField
		}
		if m.Parser == "" {
			m.Parser = defaultParser
		}
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
}

// Name returns "address:port" for log and error messages.
func (l ListenerConfig) Name() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// IsDefault reports whether the mapping is the fallback rule.
func (m MappingConfig) IsDefault() bool {
	return m.Pattern == "default"
}

// Validate checks the whole configuration and returns the first problem as
// a *ConfigurationError. TLS certificate files are opened and parsed.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, invalid("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, invalid("logging.format %q must be json or text", c.Logging.Format))
	}

	errs = append(errs, c.validateListeners()...)
	errs = append(errs, c.validateConnectors()...)
	errs = append(errs, c.validateMappings()...)

	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}
