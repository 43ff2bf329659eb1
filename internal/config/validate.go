package config

import (
	"net"
	"regexp"

	m2btls "github.com/shineum/mail2beyond/internal/tls"
)

func (c *Config) validateListeners() []error {
	var errs []error

	if len(c.Listeners) == 0 {
		return []error{invalid("at least one listener is required")}
	}

	seen := map[string]bool{}
	for _, l := range c.Listeners {
		name := l.Name()

		if l.Address != "localhost" && net.ParseIP(l.Address) == nil {
			errs = append(errs, invalid("listener %s: address must be an IP address or localhost", name))
		}
		if l.Port < 1 || l.Port > 65535 {
			errs = append(errs, invalid("listener %s: port must be between 1 and 65535", name))
		}
		if seen[name] {
			errs = append(errs, invalid("listener %s is declared more than once", name))
		}
		seen[name] = true

		if l.MaxMessageSize < 0 {
			errs = append(errs, invalid("listener %s: max_message_size must not be negative", name))
		}
		if (l.AuthUsername == "") != (l.AuthPassword == "") {
			errs = append(errs, invalid("listener %s: auth_username and auth_password must be set together", name))
		}

		if _, err := m2btls.MinVersion(l.MinimumTLSVersion); err != nil {
			errs = append(errs, &ConfigurationError{Reason: "listener " + name + ": invalid minimum_tls_version", Err: err})
		}
		if l.EnableSMTPS && l.EnableStartTLS {
			errs = append(errs, invalid("listener %s: enable_smtps and enable_starttls are mutually exclusive", name))
		}
		if l.RequireStartTLS && !l.EnableStartTLS {
			errs = append(errs, invalid("listener %s: require_starttls needs enable_starttls", name))
		}
		if l.EnableSMTPS || l.EnableStartTLS {
			switch {
			case l.TLSCert == "":
				errs = append(errs, invalid("listener %s: tls_cert is required when TLS is enabled", name))
			case l.TLSKey == "":
				errs = append(errs, invalid("listener %s: tls_key is required when TLS is enabled", name))
			default:
				if _, err := m2btls.Load(l.TLSCert, l.TLSKey, l.MinimumTLSVersion); err != nil {
					errs = append(errs, &ConfigurationError{Reason: "listener " + name + ": invalid TLS certificate", Err: err})
				}
			}
		}
	}

	return errs
}

func (c *Config) validateConnectors() []error {
	var errs []error

	if len(c.Connectors) == 0 {
		return []error{invalid("at least one connector is required")}
	}

	seen := map[string]bool{}
	for i, conn := range c.Connectors {
		if conn.Name == "" {
			errs = append(errs, invalid("connectors[%d]: name is required", i))
			continue
		}
		if seen[conn.Name] {
			errs = append(errs, invalid("connector name %q is not unique", conn.Name))
		}
		seen[conn.Name] = true

		if conn.Module == "" {
			errs = append(errs, invalid("connector %q: module is required", conn.Name))
		}
	}

	return errs
}

func (c *Config) validateMappings() []error {
	var errs []error

	if len(c.Mappings) == 0 {
		return []error{invalid("at least one mapping is required")}
	}

	declared := map[string]bool{}
	for _, conn := range c.Connectors {
		declared[conn.Name] = true
	}

	defaults := 0
	for i, m := range c.Mappings {
		if m.Pattern == "" {
			errs = append(errs, invalid("mappings[%d]: pattern is required", i))
		} else if m.IsDefault() {
			defaults++
		} else if _, err := regexp.Compile(m.Pattern); err != nil {
			errs = append(errs, &ConfigurationError{Reason: "mapping pattern " + m.Pattern + " does not compile", Err: err})
		}

		if m.Connector == "" {
			errs = append(errs, invalid("mappings[%d]: connector is required", i))
		} else if !declared[m.Connector] {
			errs = append(errs, invalid("mappings[%d]: connector %q is not declared", i, m.Connector))
		}
	}

	switch {
	case defaults == 0:
		errs = append(errs, invalid("a mapping with pattern \"default\" is required"))
	case defaults > 1:
		errs = append(errs, invalid("only one mapping may use pattern \"default\", found %d", defaults))
	}

	return errs
}
