package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"document-ai-indexing/internal/domain"
)

const analysisSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["summary", "text"],
  "properties": {
    "summary": {"type": "string"},
    "text": {"type": "string"},
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string"},
          "value": {"type": "string"}
        }
      }
    },
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["rows"],
        "properties": {
          "title": {"type": "string"},
          "rows": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}}
        }
      }
    }
  }
}`

var analysisSchema = jsonschema.MustCompileString("analysis.json", analysisSchemaJSON)

// validateAnalysisPayload checks a model reply against the analysis shape
// and returns the cleaned JSON bytes. Models occasionally wrap replies in
// markdown fences despite instructions, so those are stripped first.
func validateAnalysisPayload(reply string) ([]byte, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, domain.ErrEmptyModelResponse
	}

	var v interface{}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAnalysis, err)
	}
	if err := analysisSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAnalysis, err)
	}
	return []byte(cleaned), nil
}
