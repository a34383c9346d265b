// Package normalize maps ordered raw detections to canonical blocks and assembles full text.
package normalize

import (
	"strings"

	"github.com/joseph-ayodele/ocr-service/constants"
	"github.com/joseph-ayodele/ocr-service/internal/entity"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// Blocks converts detections 1:1, in order, into paragraph blocks on the given page.
func Blocks(dets []extract.RawDetection, page int) []entity.Block {
	out := make([]entity.Block, 0, len(dets))
	for _, d := range dets {
		out = append(out, entity.Block{
			Type:       constants.BlockTypeParagraph,
			Text:       d.Text,
			BBox:       d.BBox,
			Page:       page,
			Confidence: d.Confidence,
		})
	}
	return out
}

// FullText joins the text of every block with non-blank text using single newlines.
// Blank blocks contribute neither text nor a separator.
func FullText(blocks []entity.Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		if strings.TrimSpace(blk.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(blk.Text)
	}
	return b.String()
}
