package cache

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchema describes a serialized entity.ExtractionResult.
func resultSchema() map[string]any {
	bbox := map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "number"},
		"minItems": 4,
		"maxItems": 4,
	}
	block := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":       map[string]any{"type": "string"},
			"text":       map[string]any{"type": "string"},
			"bbox":       bbox,
			"page":       map[string]any{"type": "integer", "minimum": 1},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"type", "text", "bbox", "page"},
	}
	meta := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration_ms":        map[string]any{"type": "integer", "minimum": 0},
			"engine_duration_ms": map[string]any{"type": "integer", "minimum": 0},
			"pages":              map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"duration_ms", "pages"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"engine":          map[string]any{"type": "string", "minLength": 1},
			"full_text":       map[string]any{"type": "string"},
			"blocks":          map[string]any{"type": "array", "items": block},
			"meta":            meta,
			"idempotency_key": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"engine", "full_text", "blocks", "meta", "idempotency_key"},
	}
}

func compileResultSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(resultSchema())
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return compiler.Compile("result.json")
}
