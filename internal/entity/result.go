package entity

import "github.com/joseph-ayodele/ocr-service/internal/extract"

// Block is a normalized text block. Its position within ExtractionResult.Blocks is the reading order.
type Block struct {
	Type       string       `json:"type"`
	Text       string       `json:"text"`
	BBox       extract.BBox `json:"bbox"`
	Page       int          `json:"page"`
	Confidence *float64     `json:"confidence,omitempty"`
}

// Meta carries timing and page information for one extraction.
type Meta struct {
	DurationMS       int64 `json:"duration_ms"`
	EngineDurationMS int64 `json:"engine_duration_ms"`
	Pages            int   `json:"pages"`
}

// ExtractionResult is the unit stored in the idempotency cache and returned to callers.
type ExtractionResult struct {
	Engine         string  `json:"engine"`
	FullText       string  `json:"full_text"`
	Blocks         []Block `json:"blocks"`
	Meta           Meta    `json:"meta"`
	IdempotencyKey string  `json:"idempotency_key"`
}
