// Package stdout implements a connector that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/email"
)

// Plugin is the built-in "stdout" connector.
var Plugin = &connector.Plugin{
	Name: "stdout",
	New:  func() connector.Connector { return New(os.Stdout) },
}

// Connector prints messages in a human-readable block.
type Connector struct {
	// mu keeps blocks from concurrent sessions from interleaving.
	mu     *sync.Mutex
	writer io.Writer
}

// New creates a stdout Connector writing to w.
func New(w io.Writer) *Connector {
	return &Connector{mu: &sync.Mutex{}, writer: w}
}

func (c *Connector) Validate(_ *email.Message, _ connector.Config) error {
	return nil
}

// Execute writes the envelope, subject and parsed content.
func (c *Connector) Execute(_ context.Context, msg *email.Message, content string, _ connector.Config, _ *slog.Logger) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", msg.Envelope.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.Envelope.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject()))
	if d := msg.Date(); d != "" {
		b.WriteString(fmt.Sprintf("Date: %s\n", d))
	}
	b.WriteString("Body:\n")
	b.WriteString(content + "\n")
	b.WriteString("========================================\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprint(c.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
