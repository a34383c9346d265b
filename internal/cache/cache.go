// Package cache holds idempotency records: extraction results keyed by the
// client-supplied idempotency key, each living for a fixed TTL from write time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/ocr-service/internal/entity"
)

// KeyPrefix namespaces idempotency records in shared stores.
const KeyPrefix = "ocr:idempotency:"

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Idempotency stores extraction results under namespaced keys.
type Idempotency struct {
	store  Store
	ttl    time.Duration
	schema *jsonschema.Schema
	log    *slog.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger *slog.Logger) (*Idempotency, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileResultSchema()
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return &Idempotency{store: store, ttl: ttl, schema: schema, log: logger}, nil
}

// Key returns the store key for an idempotency key.
func Key(idempotencyKey string) string {
	return KeyPrefix + idempotencyKey
}

// Get returns the stored result for key. ok is false on a miss. A stored
// payload that does not decode into a result is reported as a miss.
func (c *Idempotency) Get(ctx context.Context, key string) (res *entity.ExtractionResult, ok bool, err error) {
	raw, err := c.store.Get(ctx, Key(key))
	if errors.Is(err, ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.log.Warn("cache.entry.corrupt", "key", key, "error", err)
		return nil, false, nil
	}
	if err := c.schema.Validate(doc); err != nil {
		c.log.Warn("cache.entry.corrupt", "key", key, "error", err)
		return nil, false, nil
	}

	var out entity.ExtractionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("cache.entry.corrupt", "key", key, "error", err)
		return nil, false, nil
	}
	return &out, true, nil
}

// Set stores res under key for the configured TTL, replacing any previous entry.
func (c *Idempotency) Set(ctx context.Context, key string, res *entity.ExtractionResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return c.store.Set(ctx, Key(key), raw, c.ttl)
}

// TTL is the lifetime applied to new entries.
func (c *Idempotency) TTL() time.Duration { return c.ttl }

func (c *Idempotency) Close() error { return c.store.Close() }
