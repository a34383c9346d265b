// Package ocr is the local-model extraction engine backed by Tesseract.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

const (
	BackendCLI       = "cli"       // exec the tesseract binary and parse TSV
	BackendGosseract = "gosseract" // in-process libtesseract via cgo

	LevelLine = "line"
	LevelWord = "word"
)

type Config struct {
	Backend   string // BackendCLI | BackendGosseract; default BackendCLI
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Lang              string // language profile, e.g. "kor+eng"; default "eng"
	DetectOrientation bool   // enables orientation/script detection (psm 1 / PSM_AUTO_OSD)
	Level             string // LevelLine | LevelWord; default LevelLine

	TessdataDir string
	PSM         int // overrides the orientation-derived page segmentation mode when > 0
	OEM         int // 1 = LSTM; leave 0 to use default

	HeicConverter string
}

// region is one recognized area in provider terms, before conversion to RawDetection.
type region struct {
	Quad []extract.Point
	Text string
	Conf float64 // 0..100; negative when the provider has none
}

type recognizer interface {
	Recognize(ctx context.Context, path string) ([]region, error)
	// Serialized reports whether calls must not overlap.
	Serialized() bool
	Close() error
}

// Engine implements extract.Engine over a Tesseract backend.
type Engine struct {
	cfg    Config
	rec    recognizer
	runner Runner
	logger *slog.Logger

	mu sync.Mutex // guards rec when rec.Serialized()
}

func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.Level == "" {
		cfg.Level = LevelLine
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendCLI
	}
	runner := execRunner{logger: logger}

	var rec recognizer
	switch cfg.Backend {
	case BackendCLI:
		rec = &cliRecognizer{cfg: cfg, runner: runner}
	case BackendGosseract:
		g, err := newGosseractRecognizer(cfg)
		if err != nil {
			return nil, fmt.Errorf("init gosseract: %w", err)
		}
		rec = g
	default:
		return nil, fmt.Errorf("unknown tesseract backend: %q", cfg.Backend)
	}

	logger.Info("ocr.engine.ready",
		"engine", constants.EngineTesseract,
		"backend", cfg.Backend,
		"lang", cfg.Lang,
		"detect_orientation", cfg.DetectOrientation,
		"level", cfg.Level,
	)
	return &Engine{cfg: cfg, rec: rec, runner: runner, logger: logger}, nil
}

func (e *Engine) Name() string { return string(constants.EngineTesseract) }

// Extract recognizes text in the image at path. HEIC inputs are converted to PNG first.
func (e *Engine) Extract(ctx context.Context, path string) ([]extract.RawDetection, time.Duration, error) {
	if constants.IsHEICExt(filepath.Ext(path)) {
		out, cleanup, err := convertHEICtoPNG(ctx, e.runner, e.cfg.HeicConverter, path)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			e.logger.Error("heic conversion failed", "path", path, "error", err)
			return nil, 0, extract.Failure(e.Name(), err)
		}
		path = out
	}

	regions, dur, err := e.recognize(ctx, path)
	if err != nil {
		e.logger.Error("ocr.extract.failed", "path", path, "backend", e.cfg.Backend, "error", err)
		return nil, dur, extract.Failure(e.Name(), err)
	}

	dets := make([]extract.RawDetection, 0, len(regions))
	for _, r := range regions {
		box, ok := extract.BBoxFromPoints(r.Quad)
		if !ok {
			continue
		}
		d := extract.RawDetection{BBox: box, Text: norm.NFC.String(r.Text)}
		if r.Conf >= 0 {
			d.Confidence = extract.Float(min(r.Conf/100.0, 1.0))
		}
		dets = append(dets, d)
	}
	e.logger.Debug("ocr.extract.ok", "path", path, "detections", len(dets), "duration_ms", dur.Milliseconds())
	return dets, dur, nil
}

func (e *Engine) recognize(ctx context.Context, path string) ([]region, time.Duration, error) {
	if e.rec.Serialized() {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	start := time.Now()
	regions, err := e.rec.Recognize(ctx, path)
	return regions, time.Since(start), err
}

// Close releases the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Close()
}

// pageSegMode picks the tesseract --psm value.
func (c Config) pageSegMode() int {
	if c.PSM > 0 {
		return c.PSM
	}
	if c.DetectOrientation {
		return 1 // automatic segmentation with orientation and script detection
	}
	return 3 // fully automatic segmentation, no OSD
}

// rectQuad returns the four corners of an axis-aligned rectangle, clockwise from top-left.
func rectQuad(left, top, width, height float64) []extract.Point {
	return []extract.Point{
		{X: left, Y: top},
		{X: left + width, Y: top},
		{X: left + width, Y: top + height},
		{X: left, Y: top + height},
	}
}
