package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const rulesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "severity", "conditions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "category": {"type": "string"},
          "severity": {"type": "string", "pattern": "(?i)^(low|medium|high|critical)$"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "impact": {"type": "string"},
          "advisory_template": {"type": "string"},
          "conditions": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "event_type": {"type": "string"},
              "process_name_contains": {"type": "array", "items": {"type": "string"}},
              "port_in": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 65535}},
              "cpu_percent": {"type": "number", "minimum": 0},
              "path_contains": {"type": "array", "items": {"type": "string"}},
              "extension_in": {"type": "array", "items": {"type": "string"}},
              "connection_count": {"type": "integer", "minimum": 0},
              "count": {"type": "integer", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(rulesSchema))
	})
	return compiledSchema, schemaErr
}

// validateDocument checks a decoded rules document against the rules schema
func validateDocument(doc interface{}) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("failed to load rules schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(errs, "; "))
	}

	return nil
}
