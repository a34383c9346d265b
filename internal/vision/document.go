package vision

import (
	"strings"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// detectionsFromAnnotation flattens page → block → paragraph → word into one
// detection per word. Words without a usable bounding polygon are dropped.
func detectionsFromAnnotation(doc *visionpb.TextAnnotation) []extract.RawDetection {
	dets := make([]extract.RawDetection, 0)
	for _, page := range doc.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, word := range para.GetWords() {
					if d, ok := wordDetection(word); ok {
						dets = append(dets, d)
					}
				}
			}
		}
	}
	return dets
}

func wordDetection(w *visionpb.Word) (extract.RawDetection, bool) {
	vertices := w.GetBoundingBox().GetVertices()
	if len(vertices) < 4 {
		return extract.RawDetection{}, false
	}
	pts := make([]extract.Point, 0, len(vertices))
	for _, v := range vertices {
		pts = append(pts, extract.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
	}
	box, ok := extract.BBoxFromPoints(pts)
	if !ok {
		return extract.RawDetection{}, false
	}

	var sb strings.Builder
	var sum float64
	symbols := w.GetSymbols()
	for _, s := range symbols {
		sb.WriteString(s.GetText())
		sum += float64(s.GetConfidence())
	}
	conf := 1.0
	if len(symbols) > 0 {
		conf = sum / float64(len(symbols))
	}

	return extract.RawDetection{
		BBox:       box,
		Text:       norm.NFC.String(sb.String()),
		Confidence: extract.Float(conf),
	}, true
}
