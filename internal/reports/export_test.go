package reports

import (
	"bytes"
	"encoding/json"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() Result {
	return Result{
		Columns: []string{"name", "score", "passed"},
		Rows: [][]any{
			{"Ada, the first", 91.5, true},
			{"Grace", nil, false},
		},
	}
}

func TestExportCSVQuotesCells(t *testing.T) {
	f, err := Export("Weekly Scores", FormatCSV, sampleResult())
	require.NoError(t, err)
	assert.Equal(t, "weekly_scores.csv", f.Name)
	assert.Equal(t, "text/csv", f.MIME)
	assert.Equal(t, 2, f.Records)
	assert.Equal(t, "name,score,passed\n\"Ada, the first\",91.5,true\nGrace,,false\n", string(f.Content))
}

func TestExportJSONKeysByColumn(t *testing.T) {
	f, err := Export("scores", FormatJSON, sampleResult())
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(f.Content, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Grace", rows[1]["name"])
	assert.Nil(t, rows[1]["score"])
}

func TestExportPNGRendersImage(t *testing.T) {
	res := sampleResult()
	for i := 0; i < 60; i++ {
		res.Rows = append(res.Rows, []any{strings.Repeat("x", 50), i, true})
	}
	f, err := Export("scores", FormatPNG, res)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(f.Content))
	require.NoError(t, err)
	// Header, forty rows and the truncation note.
	assert.Equal(t, int(42*pngRowHeight+2*pngPadding), img.Bounds().Dy())
	assert.Equal(t, pngMaxRows, f.Records)
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := Export("scores", "xlsx", sampleResult())
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNextRunAndBackoff(t *testing.T) {
	at := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * 1", at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), next)

	next, err = NextRun("@hourly", at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC), next)

	_, err = NextRun("", at)
	assert.ErrorIs(t, err, ErrBadRecurrence)

	assert.Equal(t, time.Duration(0), Backoff(0, time.Minute, time.Hour))
	assert.Equal(t, time.Minute, Backoff(1, time.Minute, time.Hour))
	assert.Equal(t, 8*time.Minute, Backoff(4, time.Minute, time.Hour))
	assert.Equal(t, time.Hour, Backoff(30, time.Minute, time.Hour))
}
