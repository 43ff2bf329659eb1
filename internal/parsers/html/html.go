// Package html implements the parser that renders HTML bodies as markdown.
package html

import (
	"log/slog"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/shineum/mail2beyond/email"
	"github.com/shineum/mail2beyond/internal/parsers/plain"
	"github.com/shineum/mail2beyond/parser"
)

// Plugin is the built-in "html" parser.
var Plugin = &parser.Plugin{
	Name: "html",
	New:  func() parser.Parser { return Parser{} },
}

// Parser converts HTML markup to markdown. Content that cannot be converted
// is returned unchanged.
type Parser struct{}

func (Parser) Parse(msg *email.Message) string {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(msg.Content)
	if err != nil {
		slog.Debug("html parser could not convert content, using plain", "error", err)
		return plain.Parser{}.Parse(msg)
	}
	return out
}
