// Package connector defines the contract every output connector implements,
// whether it ships with mail2beyond or is loaded from a plugin directory.
//
// A plugin is a Go shared object exporting a variable named Connector of
// type Plugin:
//
//	var Connector = connector.Plugin{
//		Name: "pagerduty",
//		New:  func() connector.Connector { return &pagerDuty{} },
//	}
package connector

import (
	"context"
	"log/slog"
	"maps"

	"github.com/shineum/mail2beyond/email"
)

// Connector delivers a routed message to an upstream system.
//
// Implementations are shared by every session on every listener that routes
// to them, so they must not keep per-call state. Config is read-only.
type Connector interface {
	// Validate checks cfg and msg before delivery. It must not perform
	// network I/O and must be safe to call more than once.
	Validate(msg *email.Message, cfg Config) error

	// Execute performs the delivery. content is the parser output for msg.
	Execute(ctx context.Context, msg *email.Message, content string, cfg Config, log *slog.Logger) error
}

// Plugin advertises a connector implementation under a module name.
type Plugin struct {
	Name string
	New  func() Connector
}

// Instance is a named, configured connector declared in the configuration.
// One Instance may be referenced by several mappings across listeners.
type Instance struct {
	Name   string
	Module string
	Config Config

	impl Connector
}

// NewInstance builds an Instance from a resolved plugin. cfg is copied.
func NewInstance(name string, p *Plugin, cfg Config) *Instance {
	if cfg == nil {
		cfg = Config{}
	}
	return &Instance{
		Name:   name,
		Module: p.Name,
		Config: maps.Clone(cfg),
		impl:   p.New(),
	}
}

// Deliver runs Validate and, only if it succeeds, Execute. Failures are
// returned as *ValidationError or *DeliveryError respectively.
func (i *Instance) Deliver(ctx context.Context, msg *email.Message, content string, log *slog.Logger) error {
	if err := i.impl.Validate(msg, i.Config); err != nil {
		return &ValidationError{Connector: i.Name, Err: err}
	}
	if err := i.impl.Execute(ctx, msg, content, i.Config, log); err != nil {
		return &DeliveryError{Connector: i.Name, Err: err}
	}
	return nil
}

func (i *Instance) String() string {
	return i.Name
}
