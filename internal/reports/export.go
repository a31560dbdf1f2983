package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatPNG  = "png"
)

var ErrUnknownFormat = errors.New("unknown export format")

type ExportFile struct {
	Name    string
	MIME    string
	Content []byte
	// Records is the number of data rows written into Content.
	Records int
}

// Export renders res in format. base names the file without extension.
func Export(base, format string, res Result) (ExportFile, error) {
	name := sanitizeName(base)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		b, err := exportCSV(res)
		return ExportFile{Name: name + ".csv", MIME: "text/csv", Content: b, Records: len(res.Rows)}, err
	case FormatJSON:
		b, err := exportJSON(res)
		return ExportFile{Name: name + ".json", MIME: "application/json", Content: b, Records: len(res.Rows)}, err
	case FormatPNG:
		b, n, err := exportPNG(res)
		return ExportFile{Name: name + ".png", MIME: "image/png", Content: b, Records: n}, err
	default:
		return ExportFile{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func exportCSV(res Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(res.Columns); err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cell(v)
		}
		if err := w.Write(cells); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func exportJSON(res Result) ([]byte, error) {
	out := make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		obj := make(map[string]any, len(res.Columns))
		for i, c := range res.Columns {
			if i < len(row) {
				obj[c] = row[i]
			}
		}
		out = append(out, obj)
	}
	return json.MarshalIndent(out, "", "  ")
}

const (
	pngMaxRows   = 40
	pngRowHeight = 22.0
	pngPadding   = 12.0
	pngMaxCell   = 32
)

var (
	faceOnce sync.Once
	faceErr  error
	pngFace  font.Face
)

func tableFace() (font.Face, error) {
	faceOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			faceErr = fmt.Errorf("parse font: %w", err)
			return
		}
		pngFace = truetype.NewFace(f, &truetype.Options{Size: 12})
	})
	return pngFace, faceErr
}

// exportPNG draws a snapshot of the first rows as a simple grid and
// returns how many data rows it drew.
func exportPNG(res Result) ([]byte, int, error) {
	face, err := tableFace()
	if err != nil {
		return nil, 0, err
	}
	rows := res.Rows
	truncated := 0
	if len(rows) > pngMaxRows {
		truncated = len(rows) - pngMaxRows
		rows = rows[:pngMaxRows]
	}

	measure := gg.NewContext(1, 1)
	measure.SetFontFace(face)
	widths := make([]float64, len(res.Columns))
	for i, c := range res.Columns {
		w, _ := measure.MeasureString(c)
		widths[i] = w
	}
	text := make([][]string, len(rows))
	for r, row := range rows {
		text[r] = make([]string, len(res.Columns))
		for i := range res.Columns {
			s := ""
			if i < len(row) {
				s = clip(cell(row[i]))
			}
			text[r][i] = s
			if w, _ := measure.MeasureString(s); w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := pngPadding
	for _, w := range widths {
		total += w + 2*pngPadding
	}
	lines := len(rows) + 1
	if truncated > 0 {
		lines++
	}
	width := int(total)
	if width < 200 {
		width = 200
	}
	height := int(float64(lines)*pngRowHeight + 2*pngPadding)

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(face)

	y := pngPadding
	dc.SetColor(color.RGBA{R: 0xe8, G: 0xec, B: 0xf1, A: 0xff})
	dc.DrawRectangle(0, y, float64(width), pngRowHeight)
	dc.Fill()
	drawRow(dc, res.Columns, widths, y)
	for _, line := range text {
		y += pngRowHeight
		dc.SetColor(color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff})
		dc.DrawLine(0, y, float64(width), y)
		dc.Stroke()
		drawRow(dc, line, widths, y)
	}
	if truncated > 0 {
		y += pngRowHeight
		dc.SetColor(color.Gray{Y: 0x66})
		dc.DrawString(fmt.Sprintf("... %d more rows", truncated), pngPadding, y+pngRowHeight*0.7)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, 0, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), len(rows), nil
}

func drawRow(dc *gg.Context, cells []string, widths []float64, y float64) {
	dc.SetColor(color.Black)
	x := pngPadding
	for i, s := range cells {
		dc.DrawString(s, x+pngPadding, y+pngRowHeight*0.7)
		x += widths[i] + 2*pngPadding
	}
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= pngMaxCell {
		return s
	}
	return string(r[:pngMaxCell-1]) + "…"
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "report"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
