package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// cliRecognizer shells out to the tesseract binary in TSV mode.
// Each call is a separate process, so calls may overlap.
type cliRecognizer struct {
	cfg    Config
	runner Runner
}

func (c *cliRecognizer) Serialized() bool { return false }
func (c *cliRecognizer) Close() error     { return nil }

func (c *cliRecognizer) Recognize(ctx context.Context, path string) ([]region, error) {
	// tesseract <file> stdout -l <lang> --psm N [--oem N] [--tessdata-dir D] tsv
	args := []string{path, "stdout", "-l", c.cfg.Lang, "--psm", strconv.Itoa(c.cfg.pageSegMode())}
	if c.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(c.cfg.OEM))
	}
	if c.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", c.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := c.runner.Run(ctx, c.cfg.Tesseract, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	words, err := parseTSV(string(out))
	if err != nil {
		return nil, err
	}
	if c.cfg.Level == LevelWord {
		regions := make([]region, 0, len(words))
		for _, w := range words {
			regions = append(regions, region{
				Quad: rectQuad(w.left, w.top, w.width, w.height),
				Text: w.text,
				Conf: w.conf,
			})
		}
		return regions, nil
	}
	return groupLines(words), nil
}

// tsvWord is one level-5 row of tesseract TSV output.
type tsvWord struct {
	page, block, par, line int
	left, top              float64
	width, height          float64
	conf                   float64
	text                   string
}

// TSV columns: level page_num block_num par_num line_num word_num left top width height conf text
const tsvColumns = 12

func parseTSV(out string) ([]tsvWord, error) {
	lines := strings.Split(out, "\n")
	words := make([]tsvWord, 0, len(lines))
	for i, ln := range lines {
		ln = strings.TrimRight(ln, "\r")
		if i == 0 || ln == "" {
			continue
		} // skip header
		cols := strings.SplitN(ln, "\t", tsvColumns)
		if len(cols) < tsvColumns {
			continue
		}
		if cols[0] != "5" || strings.TrimSpace(cols[11]) == "" {
			continue
		}
		ints := make([]int, 4)
		for j := range ints {
			v, err := strconv.Atoi(cols[j+1])
			if err != nil {
				return nil, fmt.Errorf("tsv line %d: bad column %d: %w", i+1, j+1, err)
			}
			ints[j] = v
		}
		geom := make([]float64, 5)
		for j := range geom {
			v, err := strconv.ParseFloat(cols[j+6], 64)
			if err != nil {
				return nil, fmt.Errorf("tsv line %d: bad column %d: %w", i+1, j+6, err)
			}
			geom[j] = v
		}
		words = append(words, tsvWord{
			page: ints[0], block: ints[1], par: ints[2], line: ints[3],
			left: geom[0], top: geom[1], width: geom[2], height: geom[3],
			conf: geom[4],
			text: cols[11],
		})
	}
	return words, nil
}

// groupLines merges words sharing (page, block, par, line) into one region, in first-seen order.
// Line confidence is the mean of the word confidences that are known.
func groupLines(words []tsvWord) []region {
	type lineKey struct{ page, block, par, line int }
	type acc struct {
		quad   []extract.Point
		texts  []string
		sum    float64
		scored int
	}
	order := make([]lineKey, 0)
	lines := make(map[lineKey]*acc)
	for _, w := range words {
		k := lineKey{w.page, w.block, w.par, w.line}
		a, ok := lines[k]
		if !ok {
			a = &acc{}
			lines[k] = a
			order = append(order, k)
		}
		a.quad = append(a.quad, rectQuad(w.left, w.top, w.width, w.height)...)
		a.texts = append(a.texts, w.text)
		if w.conf >= 0 {
			a.sum += w.conf
			a.scored++
		}
	}

	out := make([]region, 0, len(order))
	for _, k := range order {
		a := lines[k]
		conf := -1.0
		if a.scored > 0 {
			conf = a.sum / float64(a.scored)
		}
		out = append(out, region{Quad: a.quad, Text: strings.Join(a.texts, " "), Conf: conf})
	}
	return out
}
