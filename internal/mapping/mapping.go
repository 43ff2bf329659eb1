// Package mapping implements the ordered routing rules that pick the
// connector and parser for a received message.
package mapping

import (
	"fmt"
	"regexp"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
	"github.com/shineum/mail2beyond/parser"
)

// DefaultPattern marks the fallback mapping.
const DefaultPattern = "default"

// DefaultField is the header matched when a mapping names no field.
const DefaultField = "from"

// Mapping routes messages whose Field matches Pattern to Connector, with
// Parser rendering the body. Immutable after New.
type Mapping struct {
	Pattern   string
	Field     string
	Connector *connector.Instance
	Parser    *parser.Plugin

	re *regexp.Regexp
}

// New compiles a mapping. An empty field defaults to "from".
func New(pattern, field string, c *connector.Instance, p *parser.Plugin) (*Mapping, error) {
	if c == nil {
		return nil, fmt.Errorf("mapping %q has no connector", pattern)
	}
	if p == nil {
		return nil, fmt.Errorf("mapping %q has no parser", pattern)
	}
	if field == "" {
		field = DefaultField
	}

	m := &Mapping{Pattern: pattern, Field: field, Connector: c, Parser: p}
	if m.IsDefault() {
		return m, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping pattern %q: %w", pattern, err)
	}
	m.re = re
	return m, nil
}

// IsDefault reports whether m is the fallback mapping.
func (m *Mapping) IsDefault() bool {
	return m.Pattern == DefaultPattern
}

// Match reports whether the pattern is found anywhere in the message field.
// A missing field never matches. The default mapping matches everything.
func (m *Mapping) Match(msg *email.Message) bool {
	if m.IsDefault() {
		return true
	}
	value, ok := msg.Field(m.Field)
	if !ok {
		return false
	}
	return m.re.MatchString(value)
}

func (m *Mapping) String() string {
	return fmt.Sprintf("%s %q -> %s (%s)", m.Field, m.Pattern, m.Connector, m.Parser)
}

// Table is an ordered list of mappings with exactly one default.
// It is read-only and safe for concurrent use.
type Table struct {
	rules []*Mapping
	def   *Mapping
}

// NewTable checks that exactly one mapping is the default.
func NewTable(rules []*Mapping) (*Table, error) {
	t := &Table{rules: rules}
	for _, m := range rules {
		if !m.IsDefault() {
			continue
		}
		if t.def != nil {
			return nil, fmt.Errorf("only one %q mapping is allowed", DefaultPattern)
		}
		t.def = m
	}
	if t.def == nil {
		return nil, fmt.Errorf("a %q mapping is required", DefaultPattern)
	}
	return t, nil
}

// Resolve returns the first non-default mapping matching msg in list order,
// or the default mapping when none does.
func (t *Table) Resolve(msg *email.Message) *Mapping {
	for _, m := range t.rules {
		if !m.IsDefault() && m.Match(msg) {
			return m
		}
	}
	return t.def
}

// Mappings returns the rules in evaluation order.
func (t *Table) Mappings() []*Mapping {
	return t.rules
}
