// Package email defines the decoded message handed to parsers and connectors.
package email

import (
	"strings"
	"time"
)

// defaultSubject is reported when a message carries no Subject header.
const defaultSubject = "No subject"

// Envelope holds the SMTP envelope of a received message.
type Envelope struct {
	From string
	To   []string
}

// Header maps lower-cased header names to their values in order of appearance.
type Header map[string][]string

// Add appends a value for the named header.
func (h Header) Add(name, value string) {
	key := strings.ToLower(name)
	h[key] = append(h[key], value)
}

// Get returns the first value of the named header, or "" if it is absent.
// The lookup is case-insensitive.
func (h Header) Get(name string) string {
	if v := h[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value of the named header.
func (h Header) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// Has reports whether the named header is present.
func (h Header) Has(name string) bool {
	return len(h[strings.ToLower(name)]) > 0
}

// Message is a received mail after transfer decoding. It is built once by
// Decode and must be treated as read-only by parsers and connectors, which may
// run concurrently against the same value.
type Message struct {
	// ID identifies the message in logs. It is unrelated to the Message-Id header.
	ID string

	Headers Header

	// Content is the decoded body selected for rendering.
	Content string

	// ContentType is the media type of Content, e.g. "text/html". Empty when
	// the message did not declare one.
	ContentType string

	Envelope Envelope

	// Raw is the message exactly as received after DATA.
	Raw []byte

	RemoteAddr string
	LocalAddr  string
	ReceivedAt time.Time

	// Warnings lists decoding problems that did not prevent delivery, such as
	// an unknown charset.
	Warnings []string
}

// Field returns the value used for rule matching. Any header name is
// accepted; "subject", "date", "from" and "to" resolve to their headers.
func (m *Message) Field(name string) (string, bool) {
	values := m.Headers.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Subject returns the Subject header or "No subject".
func (m *Message) Subject() string {
	if s := m.Headers.Get("subject"); s != "" {
		return s
	}
	return defaultSubject
}

// Date returns the Date header as sent.
func (m *Message) Date() string {
	return m.Headers.Get("date")
}
