// Package void implements the connector that discards messages.
package void

import (
	"context"
	"log/slog"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

// Plugin is the built-in "void" connector.
var Plugin = &connector.Plugin{
	Name: "void",
	New:  func() connector.Connector { return Connector{} },
}

// Connector accepts every message and does nothing with it.
type Connector struct{}

func (Connector) Validate(_ *email.Message, _ connector.Config) error {
	return nil
}

func (Connector) Execute(_ context.Context, msg *email.Message, _ string, _ connector.Config, log *slog.Logger) error {
	log.Debug("message discarded", "id", msg.ID)
	return nil
}
