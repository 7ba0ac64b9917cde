// Package plugin loads declarative skills from YAML manifests.
//
// A manifest names a skill, lists its intents with their regular-expression
// patterns, and says how each intent answers: either with a reply template
// rendered from the matched entities, or by calling a tool on an MCP server
// and rendering the tool's text output. Manifests are validated against a JSON
// Schema before they are decoded, and every load problem is reported at once.
package plugin

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"text/template"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/skill"
)

var _ skill.Skill = (*Plugin)(nil)

// Plugin is a [skill.Skill] built from a [Manifest].
type Plugin struct {
	name        string
	description string
	intents     []string
	patterns    []intent.Pattern
	handlers    map[string]*handler
	caller      ToolCaller
}

type handler struct {
	reply *template.Template

	// Set for tool-backed intents.
	server string
	tool   string
	args   map[string]any
}

// Name implements [skill.Skill].
func (p *Plugin) Name() string { return p.name }

// Description returns the manifest description.
func (p *Plugin) Description() string { return p.description }

// Intents implements [skill.Skill].
func (p *Plugin) Intents() []string { return append([]string(nil), p.intents...) }

// Patterns returns the compiled patterns in manifest order. Callers add them
// to the intent parser after the built-in patterns.
func (p *Plugin) Patterns() []intent.Pattern { return append([]intent.Pattern(nil), p.patterns...) }

// Handle implements [skill.Skill].
func (p *Plugin) Handle(ctx context.Context, m intent.Match) (skill.Result, error) {
	h, ok := p.handlers[m.Intent]
	if !ok {
		return skill.Result{}, fmt.Errorf("plugin %s: no handler for intent %q", p.name, m.Intent)
	}

	data := templateData(m)
	if h.server == "" {
		msg, err := render(h.reply, data)
		if err != nil {
			return skill.Result{}, fmt.Errorf("plugin %s: %w", p.name, err)
		}
		return skill.Succeeded(msg, nil), nil
	}

	args, err := renderArgs(h.args, data)
	if err != nil {
		return skill.Result{}, fmt.Errorf("plugin %s: %w", p.name, err)
	}
	out, err := p.caller.CallTool(ctx, h.server, h.tool, args)
	if err != nil {
		return skill.Result{}, fmt.Errorf("plugin %s: %w", p.name, err)
	}

	msg := strings.TrimSpace(out)
	if h.reply != nil {
		data["result"] = msg
		if msg, err = render(h.reply, data); err != nil {
			return skill.Result{}, fmt.Errorf("plugin %s: %w", p.name, err)
		}
	}
	return skill.Succeeded(msg, map[string]any{"server": h.server, "tool": h.tool}), nil
}

// templateData exposes the entities by name plus the raw utterance as "raw".
// Values are strings so that a missing key renders empty.
func templateData(m intent.Match) map[string]string {
	data := make(map[string]string, len(m.Entities)+2)
	maps.Copy(data, m.Entities)
	data["raw"] = m.Raw
	return data
}

func render(t *template.Template, data map[string]string) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// renderArgs renders string argument values as templates. Other values are
// passed through unchanged.
func renderArgs(args map[string]any, data map[string]string) (map[string]any, error) {
	out := maps.Clone(args)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "{{") {
			continue
		}
		t, err := parseTemplate("arg:"+k, s)
		if err != nil {
			return nil, err
		}
		rendered, err := render(t, data)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}
