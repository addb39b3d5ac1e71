package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// analysisSchemaJSON validates the model's structured analysis output.
// Embedded as a constant to avoid filesystem dependencies.
const analysisSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://triage.mantel.dev/schemas/analysis.json",
  "type": "object",
  "required": ["product", "confidence", "search_query"],
  "properties": {
    "product": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "search_query": {"type": "string", "minLength": 1},
    "image_description": {"type": "string"}
  },
  "additionalProperties": true
}`

// excerptLimit bounds how much raw payload is echoed back in parse errors.
const excerptLimit = 200

// AnalysisValidator validates raw model output against the analysis schema.
// Safe for concurrent use after construction.
type AnalysisValidator struct {
	schema *jsonschema.Schema
}

// NewAnalysisValidator compiles the embedded analysis schema.
func NewAnalysisValidator() (*AnalysisValidator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(analysisSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal analysis schema: %w", err)
	}
	if err := c.AddResource("https://triage.mantel.dev/schemas/analysis.json", doc); err != nil {
		return nil, fmt.Errorf("add analysis schema resource: %w", err)
	}

	compiled, err := c.Compile("https://triage.mantel.dev/schemas/analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compile analysis schema: %w", err)
	}

	return &AnalysisValidator{schema: compiled}, nil
}

// Parse extracts and validates AnalysisData from raw model text.
// The model sometimes wraps JSON in a fenced code block; the fence is stripped
// before parsing. Any failure is a PARSE error carrying a truncated excerpt of
// the offending payload.
func (v *AnalysisValidator) Parse(raw string) (*AnalysisData, error) {
	cleaned := CleanJSON(raw)

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, NewErrorf(ErrCodeParse, "analysis output is not valid JSON: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"excerpt": Excerpt(raw)})
	}

	if err := v.schema.Validate(decoded); err != nil {
		return nil, NewErrorf(ErrCodeParse, "analysis output failed schema validation: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"excerpt": Excerpt(raw)})
	}

	var data AnalysisData
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, NewErrorf(ErrCodeParse, "decode analysis output: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"excerpt": Excerpt(raw)})
	}

	return &data, nil
}

// Excerpt truncates a raw payload for inclusion in user-facing parse errors.
func Excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= excerptLimit {
		return raw
	}
	return raw[:excerptLimit] + "..."
}

// CleanJSON removes a surrounding markdown code fence, if present. Models
// routinely wrap JSON output in fences despite instructions not to.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
