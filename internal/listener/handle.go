package listener

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mail2beyond/email"
	"github.com/shineum/mail2beyond/internal/metrics"
)

var (
	errUndecodable = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "Message could not be decoded",
	}
	errNotDelivered = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 3, 0},
		Message:      "Message could not be delivered",
	}
	errInternal = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Internal error, try again later",
	}
)

// handle decodes, routes, parses and delivers one message. A nil return is
// answered with 250. Delivery is attempted once; failures are permanent.
func (l *Listener) handle(raw []byte, env email.Envelope, remoteAddr, localAddr string) (err error) {
	metrics.MessagesReceived.WithLabelValues(l.Name()).Inc()

	msg, err := email.Decode(raw, env)
	if err != nil {
		l.log.Error("failed to decode message", "remote_addr", remoteAddr, "from", env.From, "error", err)
		return errUndecodable
	}
	msg.RemoteAddr = remoteAddr
	msg.LocalAddr = localAddr

	log := l.log.With("id", msg.ID)
	log.Info("message received",
		"remote_addr", remoteAddr,
		"local_addr", localAddr,
		"from", env.From,
		"to", env.To,
		"size", len(raw),
	)
	for _, w := range msg.Warnings {
		log.Warn("message decoded with problems", "warning", w)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling message", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = errInternal
		}
	}()

	m := l.table.Resolve(msg)
	if m.IsDefault() {
		log.Debug("no mapping matched, using default")
	} else {
		value, _ := msg.Field(m.Field)
		log.Debug("mapping matched", "field", m.Field, "value", value, "pattern", m.Pattern)
	}
	log = log.With("mapping", m.Pattern, "connector", m.Connector.Name, "parser", m.Parser.Name)
	metrics.MessagesRouted.WithLabelValues(l.Name(), m.Connector.Name).Inc()

	content := m.Parser.Run(msg)

	// In-flight deliveries are never cancelled by the listener; connectors
	// enforce their own timeouts.
	start := time.Now()
	err = m.Connector.Deliver(context.Background(), msg, content, log)
	elapsed := time.Since(start)
	metrics.ObserveDelivery(m.Connector.Name, err, elapsed)

	if err != nil {
		log.Error("message not delivered", "error", err, "duration", elapsed)
		return errNotDelivered
	}
	log.Info("message delivered", "duration", elapsed)
	return nil
}
