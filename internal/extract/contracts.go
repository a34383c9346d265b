package extract

import (
	"context"
	"math"
	"time"
)

// Engine turns an image file into raw text detections.
// Implementations are long-lived and shared across requests; they must tolerate concurrent calls.
type Engine interface {
	Name() string
	Extract(ctx context.Context, imagePath string) ([]RawDetection, time.Duration, error)
}

// BBox is an axis-aligned box [x1, y1, x2, y2] in image pixels, y growing downward.
type BBox [4]float64

func (b BBox) X1() float64     { return b[0] }
func (b BBox) Y1() float64     { return b[1] }
func (b BBox) X2() float64     { return b[2] }
func (b BBox) Y2() float64     { return b[3] }
func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

// Point is a polygon vertex in image pixels.
type Point struct {
	X, Y float64
}

// BBoxFromPoints returns the axis-aligned bound of a polygon (typically a possibly rotated quad).
// Rotation is discarded. ok is false when points is empty.
func BBoxFromPoints(points []Point) (BBox, bool) {
	if len(points) == 0 {
		return BBox{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return BBox{minX, minY, maxX, maxY}, true
}

// RawDetection is one provider detection, converted at the adapter boundary.
// Confidence is nil when the provider does not report one.
type RawDetection struct {
	BBox       BBox
	Text       string
	Confidence *float64
}

// ConfidenceOr returns the detection's confidence, or def when absent.
func (d RawDetection) ConfidenceOr(def float64) float64 {
	if d.Confidence == nil {
		return def
	}
	return *d.Confidence
}

// Float returns a pointer to v; handy for optional confidences.
func Float(v float64) *float64 { return &v }
