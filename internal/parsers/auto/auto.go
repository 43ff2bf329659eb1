// Package auto implements the parser that picks html or plain from the
// message content type.
package auto

import (
	"strings"

	"github.com/shineum/mail2beyond/email"
	"github.com/shineum/mail2beyond/internal/parsers/html"
	"github.com/shineum/mail2beyond/internal/parsers/plain"
	"github.com/shineum/mail2beyond/parser"
)

// Plugin is the built-in "auto" parser.
var Plugin = &parser.Plugin{
	Name: "auto",
	New:  func() parser.Parser { return Parser{} },
}

// Parser dispatches text/html content to the html parser and everything
// else, including a missing content type, to the plain parser.
type Parser struct{}

func (Parser) Parse(msg *email.Message) string {
	return Select(msg.ContentType).Run(msg)
}

// Select returns the parser plugin used for a content type.
func Select(contentType string) *parser.Plugin {
	if strings.EqualFold(strings.TrimSpace(contentType), "text/html") {
		return html.Plugin
	}
	return plain.Plugin
}
