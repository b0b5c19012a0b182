package plotter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sampleSeries() Series {
	return Series{
		Title: "point 0",
		Time:  TimeAxis(4, 10000),
		Rows:  []float64{0, 0.1, 0.2, 0.1},
		Cols:  []float64{0, -0.3, -0.5, -0.2},
	}
}

func TestTimeAxisDividesByFPS(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, TimeAxis(4, 2))
	assert.InDelta(t, 3e-4, TimeAxis(4, 10000)[3], 1e-15)
	assert.Equal(t, []float64{0, 1, 2}, TimeAxis(3, 0))
	assert.Empty(t, TimeAxis(0, 30))
}

func TestPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "point_0.png")
	require.NoError(t, PNG(path, sampleSeries(), 10000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, sampleSeries(), 0))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, sampleSeries(), 10000))

	page := buf.String()
	assert.Contains(t, page, LabelX)
	assert.Contains(t, page, LabelY)
	assert.Contains(t, page, "Time (s)")
	assert.Contains(t, page, "dotted")
	assert.Contains(t, page, "dashed")
}

func TestHTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "point_0.html")
	require.NoError(t, HTMLFile(path, sampleSeries(), 10000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<html"))
}

func TestSeriesErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WritePNG(&buf, Series{}, 1), ErrEmptySeries)

	s := sampleSeries()
	s.Rows = s.Rows[:2]
	assert.ErrorIs(t, HTML(&buf, s, 1), ErrLengthMismatch)
	assert.ErrorIs(t, PNG(filepath.Join(t.TempDir(), "x.png"), s, 1), ErrLengthMismatch)
}
