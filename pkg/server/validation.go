package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/agui-bridge/pkg/agui"
	"github.com/xeipuuv/gojsonschema"
)

// RunInputSchema is the JSON schema a request body must satisfy before any
// side effect takes place.
const RunInputSchema = `{
  "type": "object",
  "required": ["threadId", "messages"],
  "properties": {
    "threadId": {"type": "string", "minLength": 1},
    "runId": {"type": "string"},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "role"],
        "properties": {
          "id": {"type": "string"},
          "role": {"enum": ["developer", "system", "assistant", "user", "tool"]},
          "content": {"type": ["string", "null"]},
          "name": {"type": "string"},
          "toolCallId": {"type": "string"},
          "toolCalls": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "function"],
              "properties": {
                "id": {"type": "string"},
                "function": {
                  "type": "object",
                  "required": ["name"],
                  "properties": {
                    "name": {"type": "string"},
                    "arguments": {"type": "string"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    },
    "context": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "value": {"type": "string"}
        }
      }
    }
  }
}`

// ValidationError reports a request body that is not a usable RunAgentInput.
type ValidationError struct {
	Problems []string
	Err      error // decode failure, nil for schema violations
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 && e.Err != nil {
		return fmt.Sprintf("invalid run input: %v", e.Err)
	}
	return "invalid run input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks request bodies against RunInputSchema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles RunInputSchema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(RunInputSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile run input schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates body and decodes it. Any failure is a *ValidationError.
func (v *Validator) Decode(body []byte) (*agui.RunAgentInput, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &ValidationError{Problems: []string{"request body is empty"}}
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return nil, &ValidationError{Problems: problems}
	}

	var input agui.RunAgentInput
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return &input, nil
}
