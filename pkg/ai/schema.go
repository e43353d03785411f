package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const planSchemaURL = "schema://remediation_plan.json"

const planSchemaDocument = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["overview", "days"],
  "properties": {
    "overview": {"type": "string", "minLength": 1},
    "days": {
      "type": "array",
      "minItems": 1,
      "maxItems": 14,
      "items": {
        "type": "object",
        "required": ["day", "subject", "focus", "activity", "minutes"],
        "properties": {
          "day": {"type": "integer", "minimum": 1, "maximum": 14},
          "subject": {"type": "string", "minLength": 1},
          "focus": {"type": "string", "minLength": 1},
          "activity": {"type": "string", "minLength": 1},
          "minutes": {"type": "integer", "minimum": 5, "maximum": 120}
        }
      }
    }
  }
}`

var (
	planSchemaOnce sync.Once
	planSchema     *jsonschema.Schema
	planSchemaErr  error
)

func compiledPlanSchema() (*jsonschema.Schema, error) {
	planSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(planSchemaURL, strings.NewReader(planSchemaDocument)); err != nil {
			planSchemaErr = fmt.Errorf("add plan schema: %w", err)
			return
		}
		planSchema, planSchemaErr = compiler.Compile(planSchemaURL)
	})
	return planSchema, planSchemaErr
}

// ParsePlan validates raw provider output against the plan schema and decodes it.
func ParsePlan(content string) (Plan, error) {
	content = stripCodeFence(content)

	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Plan{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("invalid json: %w", err)}
	}

	schema, err := compiledPlanSchema()
	if err != nil {
		return Plan{}, &ErrInvalidResponse{Content: content, Err: err}
	}

	if err := schema.Validate(raw); err != nil {
		return Plan{}, &ErrInvalidResponse{Content: content, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	var plan Plan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return Plan{}, &ErrInvalidResponse{Content: content, Err: err}
	}

	return plan, nil
}

// Models sometimes wrap JSON in a markdown fence even when asked not to.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
