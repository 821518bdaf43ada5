package analysis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "focus://annotation.schema.json"

const annotationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["summary", "activities", "context"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "activities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "focus_indicators"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "category": {"type": "string"},
          "purpose": {"type": ["string", "null"]},
          "focus_indicators": {
            "type": "object",
            "required": ["attention_level"],
            "properties": {
              "attention_level": {"type": "number"},
              "context_switches": {"type": ["string", "null"]},
              "workspace_organization": {"type": ["string", "null"]}
            }
          }
        }
      }
    },
    "context": {
      "type": "object",
      "properties": {
        "primary_task": {"type": ["string", "null"]},
        "attention_state": {"type": ["string", "null"]},
        "environment": {"type": ["string", "object", "null"]},
        "confidence": {"type": ["number", "null"]}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func annotationValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(annotationSchema)); err != nil {
			schemaErr = fmt.Errorf("add annotation schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// schemaProblems flattens a validation error tree into "location: message" lines.
func schemaProblems(err *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return out
}
