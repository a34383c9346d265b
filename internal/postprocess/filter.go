// Package postprocess cleans up raw detections before normalization: speckle
// filtering and reading-order reconstruction.
package postprocess

import "github.com/joseph-ayodele/ocr-service/internal/extract"

// Options tunes post-processing.
type Options struct {
	MinWidth  float64
	MinHeight float64
}

// DefaultOptions drops boxes smaller than 10x10 pixels.
func DefaultOptions() Options {
	return Options{MinWidth: 10, MinHeight: 10}
}

// Apply filters small boxes, then restores reading order.
func (o Options) Apply(dets []extract.RawDetection) []extract.RawDetection {
	return SortReadingOrder(FilterSmallBoxes(dets, o.MinWidth, o.MinHeight))
}

// FilterSmallBoxes drops detections narrower than minWidth or shorter than minHeight.
// Survivors keep their relative order; the input slice is not modified.
func FilterSmallBoxes(dets []extract.RawDetection, minWidth, minHeight float64) []extract.RawDetection {
	out := make([]extract.RawDetection, 0, len(dets))
	for _, d := range dets {
		if d.BBox.Width() < minWidth || d.BBox.Height() < minHeight {
			continue
		}
		out = append(out, d)
	}
	return out
}
