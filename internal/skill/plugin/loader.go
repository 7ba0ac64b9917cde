package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/internal/intent"
)

// LoadOption configures [Load].
type LoadOption func(*loader)

// WithToolCaller sets the caller used by tool-backed intents. Manifests that
// declare a tool fail to load without one.
func WithToolCaller(c ToolCaller) LoadOption {
	return func(l *loader) { l.caller = c }
}

type loader struct {
	caller ToolCaller
}

// Load reads every *.yaml and *.yml manifest in dir, in lexical order. A
// missing directory yields no plugins. Every manifest problem is collected
// and returned joined, so one bad file is reported together with the rest.
func Load(fsys afero.Fs, dir string, opts ...LoadOption) ([]*Plugin, error) {
	l := &loader{}
	for _, o := range opts {
		o(l)
	}

	exists, err := afero.DirExists(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: stat %s: %w", dir, err)
	}
	if !exists {
		slog.Debug("plugin directory not found, no plugins loaded", "dir", dir)
		return nil, nil
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var (
		plugins []*Plugin
		errs    []error
		owners  = make(map[string]string) // plugin name -> file
	)
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		m, err := ParseManifest(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if prev, dup := owners[m.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: plugin %q already defined in %s", path, m.Name, prev))
			continue
		}
		p, err := l.build(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		owners[m.Name] = path
		plugins = append(plugins, p)
		slog.Info("plugin loaded", "plugin", p.name, "file", path, "intents", p.intents)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return plugins, nil
}

// build compiles a validated manifest into a Plugin.
func (l *loader) build(m *Manifest) (*Plugin, error) {
	p := &Plugin{
		name:        m.Name,
		description: m.Description,
		handlers:    make(map[string]*handler, len(m.Intents)),
		caller:      l.caller,
	}

	var errs []error
	for _, im := range m.Intents {
		if _, dup := p.handlers[im.Name]; dup {
			errs = append(errs, fmt.Errorf("intent %q declared twice", im.Name))
			continue
		}

		var patterns []intent.Pattern
		for _, expr := range im.Patterns {
			pat, err := intent.Compile(im.Name, expr)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			patterns = append(patterns, pat)
		}

		h, err := l.handler(im)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %q: %w", im.Name, err))
			continue
		}
		p.handlers[im.Name] = h
		p.intents = append(p.intents, im.Name)
		p.patterns = append(p.patterns, patterns...)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("plugin %q: %w", m.Name, errors.Join(errs...))
	}
	return p, nil
}

func (l *loader) handler(im IntentManifest) (*handler, error) {
	if im.Tool == nil {
		reply, err := parseTemplate(im.Name, im.Reply)
		if err != nil {
			return nil, err
		}
		return &handler{reply: reply}, nil
	}

	if l.caller == nil {
		return nil, fmt.Errorf("tool %s/%s declared but no mcp servers are configured", im.Tool.Server, im.Tool.Name)
	}
	if !l.caller.HasServer(im.Tool.Server) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, im.Tool.Server)
	}
	h := &handler{server: im.Tool.Server, tool: im.Tool.Name, args: im.Tool.Arguments}
	if im.Tool.Reply != "" {
		reply, err := parseTemplate(im.Name, im.Tool.Reply)
		if err != nil {
			return nil, err
		}
		h.reply = reply
	}
	return h, nil
}
