// Package plain implements the parser that passes the body through unchanged.
package plain

import (
	"github.com/shineum/mail2beyond/email"
	"github.com/shineum/mail2beyond/parser"
)

// Plugin is the built-in "plain" parser.
var Plugin = &parser.Plugin{
	Name: "plain",
	New:  func() parser.Parser { return Parser{} },
}

// Parser returns the decoded content as-is.
type Parser struct{}

func (Parser) Parse(msg *email.Message) string {
	return msg.Content
}
