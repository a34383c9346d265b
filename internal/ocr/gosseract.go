package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// gosseractRecognizer keeps one libtesseract handle for the life of the engine.
// The handle is not safe for concurrent use.
type gosseractRecognizer struct {
	client *gosseract.Client
	level  gosseract.PageIteratorLevel
}

func newGosseractRecognizer(cfg Config) (*gosseractRecognizer, error) {
	c := gosseract.NewClient()
	if err := c.SetLanguage(strings.Split(cfg.Lang, "+")...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	mode := gosseract.PSM_AUTO
	if cfg.DetectOrientation {
		mode = gosseract.PSM_AUTO_OSD
	}
	if cfg.PSM > 0 {
		mode = gosseract.PageSegMode(cfg.PSM)
	}
	if err := c.SetPageSegMode(mode); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set page seg mode: %w", err)
	}
	level := gosseract.RIL_TEXTLINE
	if cfg.Level == LevelWord {
		level = gosseract.RIL_WORD
	}
	return &gosseractRecognizer{client: c, level: level}, nil
}

func (g *gosseractRecognizer) Serialized() bool { return true }

func (g *gosseractRecognizer) Close() error { return g.client.Close() }

func (g *gosseractRecognizer) Recognize(ctx context.Context, path string) ([]region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.client.SetImage(path); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := g.client.GetBoundingBoxes(g.level)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	out := make([]region, 0, len(boxes))
	for _, b := range boxes {
		r := b.Box
		out = append(out, region{
			Quad: rectQuad(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy())),
			Text: strings.TrimSpace(b.Word),
			Conf: b.Confidence,
		})
	}
	return out, nil
}
