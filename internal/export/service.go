package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/ocr-service/internal/entity"
)

const (
	BlocksSheet = "Blocks"
	MetaSheet   = "Meta"
)

// Service produces XLSX bytes for extraction results.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResultXLSX returns a workbook with one row per block, in reading order, and a
// sheet of result metadata.
func (s *Service) ResultXLSX(res *entity.ExtractionResult) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("xlsx close error", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", BlocksSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(MetaSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(BlocksSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{"Order", "Text", "X1", "Y1", "X2", "Y2", "Page", "Confidence"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(BlocksSheet, cell, h)
	}

	row := 2
	for i, b := range res.Blocks {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(BlocksSheet, cell, v)
		}
		write(1, i+1)
		write(2, b.Text)
		write(3, b.BBox.X1())
		write(4, b.BBox.Y1())
		write(5, b.BBox.X2())
		write(6, b.BBox.Y2())
		write(7, b.Page)
		if b.Confidence != nil {
			write(8, *b.Confidence)
		}
		row++
	}

	_ = f.SetColWidth(BlocksSheet, "A", "A", 8)  // order
	_ = f.SetColWidth(BlocksSheet, "B", "B", 48) // text
	_ = f.SetColWidth(BlocksSheet, "C", "F", 10) // bbox
	_ = f.SetColWidth(BlocksSheet, "H", "H", 12) // confidence

	meta := [][2]any{
		{"Idempotency Key", res.IdempotencyKey},
		{"Engine", res.Engine},
		{"Pages", res.Meta.Pages},
		{"Duration (ms)", res.Meta.DurationMS},
		{"Engine Duration (ms)", res.Meta.EngineDurationMS},
		{"Blocks", len(res.Blocks)},
		{"Full Text", res.FullText},
	}
	for i, kv := range meta {
		_ = f.SetCellValue(MetaSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(MetaSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(MetaSheet, "A", "A", 22)
	_ = f.SetColWidth(MetaSheet, "B", "B", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"idempotency_key", res.IdempotencyKey,
		"blocks", len(res.Blocks),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
