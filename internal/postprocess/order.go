package postprocess

import (
	"math"
	"sort"

	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// lineThresholdRatio is the fraction of the mean box height within which two tops share a line.
const lineThresholdRatio = 0.5

// SortReadingOrder reconstructs top-to-bottom, left-to-right order for a single column of
// near-horizontal text. Detections are grouped into lines when their top edge lies within
// half the mean box height of the line's first (anchor) detection; each line is then
// ordered by left edge. Multi-column layouts and vertical or rotated text are not detected.
func SortReadingOrder(dets []extract.RawDetection) []extract.RawDetection {
	if len(dets) == 0 {
		return dets
	}

	var sum float64
	for _, d := range dets {
		sum += d.BBox.Height()
	}
	threshold := lineThresholdRatio * sum / float64(len(dets))

	sorted := make([]extract.RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BBox.Y1() != sorted[j].BBox.Y1() {
			return sorted[i].BBox.Y1() < sorted[j].BBox.Y1()
		}
		return sorted[i].BBox.X1() < sorted[j].BBox.X1()
	})

	out := make([]extract.RawDetection, 0, len(sorted))
	line := make([]extract.RawDetection, 0, 8)
	anchor := sorted[0].BBox.Y1()
	flush := func() {
		sort.SliceStable(line, func(i, j int) bool { return line[i].BBox.X1() < line[j].BBox.X1() })
		out = append(out, line...)
		line = line[:0]
	}
	for _, d := range sorted {
		if len(line) > 0 && math.Abs(d.BBox.Y1()-anchor) > threshold {
			flush()
		}
		if len(line) == 0 {
			anchor = d.BBox.Y1()
		}
		line = append(line, d)
	}
	flush()
	return out
}
