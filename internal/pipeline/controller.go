// Package pipeline runs one extraction request end to end: validation,
// idempotency lookup, input acquisition, engine call, post-processing,
// normalization and cache store.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/async"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/entity"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
	"github.com/joseph-ayodele/ocr-service/internal/input"
	"github.com/joseph-ayodele/ocr-service/internal/normalize"
	"github.com/joseph-ayodele/ocr-service/internal/postprocess"
)

// MaxIdempotencyKeyLen bounds client keys so they fit every cache backend.
const MaxIdempotencyKeyLen = 256

// Request is one extraction call. Exactly one of Upload or FileURL is set.
type Request struct {
	IdempotencyKey string
	Engine         string // "" selects the default engine
	UseLayout      bool

	Upload   io.Reader
	Filename string
	FileURL  string
}

// ResultCache is the idempotency store seen by the controller.
type ResultCache interface {
	Get(ctx context.Context, key string) (*entity.ExtractionResult, bool, error)
	Set(ctx context.Context, key string, res *entity.ExtractionResult) error
}

// Acquirer places request input on local disk.
type Acquirer interface {
	FromUpload(ctx context.Context, r io.Reader, filename string) (*input.File, error)
	FromURL(ctx context.Context, rawURL string) (*input.File, error)
}

type Controller struct {
	registry      *Registry
	cache         ResultCache
	acquirer      Acquirer
	defaultEngine string
	post          postprocess.Options
	gate          async.Runner
	flight        *singleflight.Group
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Controller)

// WithPostprocess overrides the small-box thresholds.
func WithPostprocess(o postprocess.Options) Option {
	return func(c *Controller) { c.post = o }
}

// WithEngineGate routes every engine call through r, bounding concurrent provider calls.
func WithEngineGate(r async.Runner) Option {
	return func(c *Controller) { c.gate = r }
}

// WithSingleflight collapses concurrent misses on the same idempotency key
// into one computation.
func WithSingleflight(enabled bool) Option {
	return func(c *Controller) {
		if enabled {
			c.flight = &singleflight.Group{}
		} else {
			c.flight = nil
		}
	}
}

// WithDefaultEngine sets the engine used when a request names none.
func WithDefaultEngine(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.defaultEngine = name
		}
	}
}

func NewController(registry *Registry, cache ResultCache, acquirer Acquirer, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		registry:      registry,
		cache:         cache,
		acquirer:      acquirer,
		defaultEngine: string(constants.DefaultEngine),
		post:          postprocess.DefaultOptions(),
		logger:        logger,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DefaultEngine is the engine used when a request names none.
func (c *Controller) DefaultEngine() string { return c.defaultEngine }

// Extract runs a request through the pipeline. On any failure no result is
// returned and nothing is cached.
func (c *Controller) Extract(ctx context.Context, req Request) (*entity.ExtractionResult, error) {
	log := common.LoggerFromContext(ctx, c.logger).With("idempotency_key", req.IdempotencyKey)
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		log = log.With("req_id", rid)
	}

	engine, err := c.validate(&req)
	if err != nil {
		log.Warn("pipeline.validate.failed", "error", err)
		return nil, err
	}
	log = log.With("engine", engine)

	if res, ok := c.lookup(ctx, log, req.IdempotencyKey); ok {
		return res, nil
	}

	if c.flight == nil {
		return c.run(ctx, log, req, engine)
	}
	// the shared run must not be cancelled by whichever caller happened to start it
	runCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(req.IdempotencyKey, func() (any, error) {
		return c.run(runCtx, log, req, engine)
	})
	select {
	case <-ctx.Done():
		log.Warn("pipeline.singleflight.abandoned", "error", ctx.Err())
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug("pipeline.singleflight.shared")
		}
		res := *r.Val.(*entity.ExtractionResult)
		return &res, nil
	}
}

// validate checks the request in a fixed order and resolves the engine name.
func (c *Controller) validate(req *Request) (string, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.FileURL = strings.TrimSpace(req.FileURL)
	engine := strings.TrimSpace(req.Engine)
	if engine == "" {
		engine = c.defaultEngine
	}

	v := common.NewValidator()
	v.Field("idempotency_key", req.IdempotencyKey, common.Required, common.MaxLength(MaxIdempotencyKeyLen))

	hasUpload, hasURL := req.Upload != nil, req.FileURL != ""
	switch {
	case !hasUpload && !hasURL:
		v.Check(false, "file", "either 'file' or 'file_url' must be provided")
	case hasUpload && hasURL:
		v.Check(false, "file", "provide only one of 'file' or 'file_url', not both")
	}

	v.Field("engine", engine, common.OneOf(constants.EngineNames()...))
	if err := v.Err(); err != nil {
		return "", err
	}

	if req.UseLayout {
		return "", common.NotImplementedError("layout-aware segmentation is not implemented (use_layout must be false)")
	}
	if !c.registry.Configured(engine) {
		return "", common.EngineUnavailableError(notConfiguredMessage(engine))
	}
	return engine, nil
}

func notConfiguredMessage(engine string) string {
	if engine == string(constants.EngineVision) {
		return "Google Cloud Vision not configured. Set GCP_PROJECT and GCP_CREDENTIALS_JSON"
	}
	return engine + " engine is not configured"
}

func (c *Controller) lookup(ctx context.Context, log *slog.Logger, key string) (*entity.ExtractionResult, bool) {
	res, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn("pipeline.cache.read_failed", "error", err)
		return nil, false
	case ok:
		log.Info("pipeline.cache.hit")
		return res, true
	default:
		log.Debug("pipeline.cache.miss")
		return nil, false
	}
}

// run executes the miss path. The acquired file is removed on every return.
func (c *Controller) run(ctx context.Context, log *slog.Logger, req Request, engineName string) (*entity.ExtractionResult, error) {
	file, err := c.acquire(ctx, req)
	if err != nil {
		log.Error("pipeline.acquire.failed", "error", err)
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			log.Warn("pipeline.cleanup.failed", "path", file.Path, "error", cerr)
		}
	}()

	engine, err := c.registry.Get(ctx, engineName)
	if err != nil {
		return nil, extract.Failure(engineName, err)
	}

	start := c.now()
	dets, engineDur, err := c.extract(ctx, engine, file.Path)
	if err != nil {
		log.Error("pipeline.extract.failed", "error", err, "elapsed_ms", c.now().Sub(start).Milliseconds())
		return nil, extract.Failure(engineName, err)
	}

	ordered := c.post.Apply(dets)
	blocks := normalize.Blocks(ordered, constants.CurrentPage)
	res := &entity.ExtractionResult{
		Engine:   engineName,
		FullText: normalize.FullText(blocks),
		Blocks:   blocks,
		Meta: entity.Meta{
			DurationMS:       c.now().Sub(start).Milliseconds(),
			EngineDurationMS: engineDur.Milliseconds(),
			Pages:            constants.CurrentPage,
		},
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := c.cache.Set(ctx, req.IdempotencyKey, res); err != nil {
		log.Warn("pipeline.cache.write_failed", "error", err)
	}

	log.Info("pipeline.extract.ok",
		"format", file.Format,
		"bytes", file.Size,
		"raw_detections", len(dets),
		"blocks", len(blocks),
		"duration_ms", res.Meta.DurationMS,
		"engine_duration_ms", res.Meta.EngineDurationMS,
	)
	return res, nil
}

func (c *Controller) acquire(ctx context.Context, req Request) (*input.File, error) {
	var (
		f   *input.File
		err error
	)
	if req.Upload != nil {
		f, err = c.acquirer.FromUpload(ctx, req.Upload, req.Filename)
	} else {
		f, err = c.acquirer.FromURL(ctx, req.FileURL)
	}
	if err != nil {
		var ae *common.AppError
		if !errors.As(err, &ae) {
			err = common.InternalErrorf("failed to acquire input: %v", err)
		}
		return nil, err
	}
	return f, nil
}

func (c *Controller) extract(ctx context.Context, engine extract.Engine, path string) ([]extract.RawDetection, time.Duration, error) {
	if c.gate == nil {
		return engine.Extract(ctx, path)
	}
	var (
		dets []extract.RawDetection
		dur  time.Duration
	)
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		dets, dur, err = engine.Extract(ctx, path)
		return err
	})
	return dets, dur, err
}
