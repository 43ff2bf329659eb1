package listener

import (
	"bytes"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mail2beyond/email"
)

var (
	errTLSRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Must issue a STARTTLS command first",
	}
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}
)

// backend creates one session per client connection.
type backend struct {
	l *Listener
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	s := &session{l: b.l, conn: c}
	if nc := c.Conn(); nc != nil {
		s.remoteAddr = nc.RemoteAddr().String()
		s.localAddr = nc.LocalAddr().String()
	}
	b.l.log.Debug("client connected", "remote_addr", s.remoteAddr)
	return s, nil
}

// session holds the state of one SMTP transaction. go-smtp serializes calls
// for a connection, so no locking is needed.
type session struct {
	l    *Listener
	conn *gosmtp.Conn

	remoteAddr string
	localAddr  string

	authenticated bool
	from          string
	rcpts         []string
}

var _ gosmtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if !s.l.cfg.authEnabled() {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.l.cfg.authEnabled() || mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return errAuthFailed
		}
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.l.cfg.AuthUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.l.cfg.AuthPassword)) == 1
		if !userOK || !passOK {
			s.l.log.Warn("authentication failed", "remote_addr", s.remoteAddr, "username", username)
			return errAuthFailed
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.l.cfg.TLSPolicy == TLSStartTLSRequired {
		if _, isTLS := s.conn.Conn().(*tls.Conn); !isTLS {
			return errTLSRequired
		}
	}
	if s.l.cfg.authEnabled() && !s.authenticated {
		return errAuthRequired
	}
	s.from = from
	s.rcpts = nil
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			s.l.log.Warn("message rejected while reading", "remote_addr", s.remoteAddr, "error", err)
			return smtpErr
		}
		return err
	}

	env := email.Envelope{From: s.from, To: append([]string(nil), s.rcpts...)}
	return s.l.handle(buf.Bytes(), env, s.remoteAddr, s.localAddr)
}

func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *session) Logout() error {
	s.l.log.Debug("client disconnected", slog.String("remote_addr", s.remoteAddr))
	return nil
}
