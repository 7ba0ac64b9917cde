package plugin

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of one plugin skill.
//
//	name: weather
//	description: Local forecast from the weather MCP server.
//	intents:
//	  - name: weather
//	    patterns:
//	      - "what's the weather(?: like)?(?: in (?P<city>.+))?"
//	    tool:
//	      server: forecast
//	      name: get_forecast
//	      arguments: {city: "{{.city}}"}
//	      reply: "Here's the forecast: {{.result}}"
//	  - name: greet
//	    patterns: ["say hello to (?P<name>\\w+)"]
//	    reply: "Hello, {{.name}}!"
type Manifest struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Intents     []IntentManifest `yaml:"intents"`
}

// IntentManifest declares one intent of a plugin.
type IntentManifest struct {
	Name     string        `yaml:"name"`
	Patterns []string      `yaml:"patterns"`
	Reply    string        `yaml:"reply"`
	Tool     *ToolManifest `yaml:"tool"`
}

// ToolManifest routes an intent to an MCP tool.
type ToolManifest struct {
	Server    string         `yaml:"server"`
	Name      string         `yaml:"name"`
	Arguments map[string]any `yaml:"arguments"`
	Reply     string         `yaml:"reply"`
}

// ParseManifest validates data against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plugin: parse manifest: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("plugin: invalid manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("plugin: decode manifest: %w", err)
	}
	return &m, nil
}
