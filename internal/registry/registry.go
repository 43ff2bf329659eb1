// Package registry resolves connector and parser module names to
// implementations. Built-in plugins are always consulted first; after that,
// shared objects in the configured plugin directories are scanned in order.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/shineum/mail2beyond/connector"
	"github.com/shineum/mail2beyond/internal/connectors/graph"
	"github.com/shineum/mail2beyond/internal/connectors/ses"
	"github.com/shineum/mail2beyond/internal/connectors/smtp"
	"github.com/shineum/mail2beyond/internal/connectors/stdout"
	"github.com/shineum/mail2beyond/internal/connectors/void"
	"github.com/shineum/mail2beyond/internal/connectors/webhook"
	"github.com/shineum/mail2beyond/internal/parsers/auto"
	"github.com/shineum/mail2beyond/internal/parsers/html"
	"github.com/shineum/mail2beyond/internal/parsers/plain"
	"github.com/shineum/mail2beyond/parser"
)

// pluginExt is the file suffix of loadable plugin files.
const pluginExt = ".so"

// Kind selects which plugin family a lookup searches.
type Kind int

const (
	KindConnector Kind = iota
	KindParser
)

func (k Kind) String() string {
	switch k {
	case KindConnector:
		return "connector"
	case KindParser:
		return "parser"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// symbol is the exported variable a plugin file of this kind must define.
func (k Kind) symbol() string {
	if k == KindParser {
		return "Parser"
	}
	return "Connector"
}

// Symbols is the part of *plugin.Plugin the registry needs.
type Symbols interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// Opener loads a plugin file.
type Opener func(path string) (Symbols, error)

func openShared(path string) (Symbols, error) {
	return plugin.Open(path)
}

type loaded struct {
	sym plugin.Symbol
	err error
}

// Registry is safe for concurrent use. Plugin files are opened at most once.
type Registry struct {
	connectors map[string]*connector.Plugin
	parsers    map[string]*parser.Plugin
	open       Opener
	log        *slog.Logger

	mu    sync.Mutex
	cache map[string]loaded
}

// New creates a Registry holding the built-in plugins and loading external
// plugins with the Go plugin package.
func New(log *slog.Logger) *Registry {
	return NewWithOpener(openShared, log)
}

// NewWithOpener creates a Registry with a custom plugin opener, used for testing.
func NewWithOpener(open Opener, log *slog.Logger) *Registry {
	r := &Registry{
		connectors: map[string]*connector.Plugin{},
		parsers:    map[string]*parser.Plugin{},
		open:       open,
		log:        log,
		cache:      map[string]loaded{},
	}
	for _, p := range []*connector.Plugin{
		void.Plugin,
		stdout.Plugin,
		webhook.Slack,
		webhook.GoogleChat,
		webhook.Discord,
		webhook.MicrosoftTeams,
		smtp.Plugin,
		ses.Plugin,
		graph.Plugin,
	} {
		r.connectors[p.Name] = p
	}
	for _, p := range []*parser.Plugin{plain.Plugin, html.Plugin, auto.Plugin} {
		r.parsers[p.Name] = p
	}
	return r
}

// Connector resolves a connector module name.
func (r *Registry) Connector(name string, dirs []string) (*connector.Plugin, error) {
	if p, ok := r.connectors[name]; ok {
		return p, nil
	}
	return scan(r, KindConnector, name, dirs, func(sym plugin.Symbol) (*connector.Plugin, string, bool) {
		switch p := sym.(type) {
		case *connector.Plugin:
			return p, p.Name, p.New != nil
		case **connector.Plugin:
			if *p == nil {
				return nil, "", false
			}
			return *p, (*p).Name, (*p).New != nil
		}
		return nil, "", false
	})
}

// Parser resolves a parser module name.
func (r *Registry) Parser(name string, dirs []string) (*parser.Plugin, error) {
	if p, ok := r.parsers[name]; ok {
		return p, nil
	}
	return scan(r, KindParser, name, dirs, func(sym plugin.Symbol) (*parser.Plugin, string, bool) {
		switch p := sym.(type) {
		case *parser.Plugin:
			return p, p.Name, p.New != nil
		case **parser.Plugin:
			if *p == nil {
				return nil, "", false
			}
			return *p, (*p).Name, (*p).New != nil
		}
		return nil, "", false
	})
}

// Builtins returns the sorted built-in module names of a kind.
func (r *Registry) Builtins(kind Kind) []string {
	if kind == KindParser {
		return slices.Sorted(maps.Keys(r.parsers))
	}
	return slices.Sorted(maps.Keys(r.connectors))
}

// scan walks dirs in order and returns the first plugin named name. Broken
// files are logged and skipped.
func scan[P any](r *Registry, kind Kind, name string, dirs []string, assert func(plugin.Symbol) (*P, string, bool)) (*P, error) {
	var loadErrs []error

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			loadErrs = append(loadErrs, r.failed(&PluginLoadError{Kind: kind, Path: dir, Err: err}))
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), pluginExt) {
				continue
			}
			path := filepath.Join(dir, entry.Name())

			sym, err := r.load(kind, path)
			if err != nil {
				loadErrs = append(loadErrs, r.failed(&PluginLoadError{Kind: kind, Path: path, Err: err}))
				continue
			}

			p, pluginName, ok := assert(sym)
			if !ok {
				err := fmt.Errorf("symbol %s is %T, want a %s.Plugin with a New function", kind.symbol(), sym, kind)
				loadErrs = append(loadErrs, r.failed(&PluginLoadError{Kind: kind, Path: path, Err: err}))
				continue
			}
			if pluginName == name {
				r.log.Debug("loaded external plugin", "kind", kind.String(), "name", name, "path", path)
				return p, nil
			}
		}
	}

	return nil, &PluginNotFoundError{Kind: kind, Name: name, LoadErrors: loadErrs}
}

// load opens path once and looks up the kind's symbol.
func (r *Registry) load(kind Kind, path string) (plugin.Symbol, error) {
	key := kind.String() + ":" + path

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.cache[key]; ok {
		return l.sym, l.err
	}

	var l loaded
	syms, err := r.open(path)
	if err != nil {
		l.err = err
	} else if l.sym, err = syms.Lookup(kind.symbol()); err != nil {
		l.err = err
	} else if l.sym == nil {
		l.err = errors.New("symbol " + kind.symbol() + " is nil")
	}
	r.cache[key] = l
	return l.sym, l.err
}

func (r *Registry) failed(err *PluginLoadError) error {
	r.log.Warn("skipping plugin", "kind", err.Kind.String(), "path", err.Path, "error", err.Err)
	return err
}
