package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nextlevelbuilder/sitememo/internal/store"
)

const schemaURL = "https://sitememo.invalid/schema/backup.json"

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "anyOf": [
    {"required": ["memos"]},
    {"required": ["templates"]},
    {"required": ["positions"]}
  ],
  "properties": {
    "memos": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "content": {"type": ["string", "null"]},
          "isVisible": {"type": "boolean"}
        }
      }
    },
    "templates": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["content"],
        "properties": {
          "content": {"type": "string"},
          "order": {"type": "integer", "minimum": 0}
        }
      }
    },
    "positions": {
      "type": "object",
      "propertyNames": {"pattern": "^position_.+"}
    },
    "meta": {
      "type": "object",
      "properties": {
        "version": {"type": "string"},
        "dataFormat": {"enum": ["standard", "mixed"]}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse backup schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add backup schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks raw against the backup schema and decodes it. Every
// failure wraps store.ErrInvalidArgument; nothing is written.
func Validate(raw []byte) (*Document, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, store.InvalidArgument("backup is not valid JSON: %v", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, store.InvalidArgument("backup does not match the expected format: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, store.InvalidArgument("decode backup: %v", err)
	}
	return &doc, nil
}
