// Package parser defines the contract for content parsers. A parser turns the
// decoded body of a message into the text a connector sends upstream.
//
// External parsers are Go shared objects exporting a variable named Parser of
// type Plugin.
package parser

import "github.com/shineum/mail2beyond/email"

// Parser renders a message body. A fresh Parser is created for every message
// and must not modify it.
type Parser interface {
	Parse(msg *email.Message) string
}

// Plugin advertises a parser implementation under a module name.
type Plugin struct {
	Name string
	New  func() Parser
}

// Run creates a transient parser and applies it to msg.
func (p *Plugin) Run(msg *email.Message) string {
	return p.New().Parse(msg)
}

func (p *Plugin) String() string {
	return p.Name
}
