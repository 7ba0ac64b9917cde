package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaURL = "https://hark.local/schemas/skill-manifest.json"

// manifestSchema describes a skill manifest. Each intent answers either with
// a reply template or by calling an MCP tool.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "intents"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
    "description": {"type": "string"},
    "intents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "patterns"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "patterns": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          },
          "reply": {"type": "string", "minLength": 1},
          "tool": {
            "type": "object",
            "required": ["server", "name"],
            "additionalProperties": false,
            "properties": {
              "server": {"type": "string", "minLength": 1},
              "name": {"type": "string", "minLength": 1},
              "arguments": {"type": "object"},
              "reply": {"type": "string", "minLength": 1}
            }
          }
        },
        "oneOf": [
          {"required": ["reply"]},
          {"required": ["tool"]}
        ]
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(manifestSchemaURL, strings.NewReader(manifestSchema)); err != nil {
			schemaErr = fmt.Errorf("plugin: add manifest schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(manifestSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("plugin: compile manifest schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateDocument checks a decoded YAML document against the manifest schema.
// The document is round-tripped through JSON first so the validator only sees
// JSON value types.
func validateDocument(doc any) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("plugin: manifest is not representable as JSON: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}
