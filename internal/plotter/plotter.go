// Package plotter draws displacement-vs-time figures for tracked points.
package plotter

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	LabelX = "2D - x"
	LabelY = "2D - y"
)

var (
	ErrEmptySeries    = errors.New("empty series")
	ErrLengthMismatch = errors.New("series length mismatch")
)

// halfRed is the trace colour at 50% alpha.
var halfRed = color.NRGBA{R: 255, A: 128}

// Series is one point's displacement over time
type Series struct {
	Title string
	Time  []float64
	Rows  []float64 // y component
	Cols  []float64 // x component
}

func (s Series) validate() error {
	if len(s.Time) == 0 {
		return ErrEmptySeries
	}
	if len(s.Rows) != len(s.Time) || len(s.Cols) != len(s.Time) {
		return fmt.Errorf("%w: time=%d rows=%d cols=%d", ErrLengthMismatch, len(s.Time), len(s.Rows), len(s.Cols))
	}
	return nil
}

// TimeAxis returns the sample times i/fps in seconds for n frames. A
// non-positive fps yields frame indices.
func TimeAxis(n int, fps float64) []float64 {
	t := make([]float64, max(n, 0))
	for i := range t {
		if fps > 0 {
			t[i] = float64(i) / fps
		} else {
			t[i] = float64(i)
		}
	}
	return t
}

type trace struct {
	label  string
	values []float64
	dashes []vg.Length
	css    string
}

func (s Series) traces() []trace {
	return []trace{
		{label: LabelX, values: s.Cols, dashes: []vg.Length{vg.Points(1), vg.Points(2)}, css: "dotted"},
		{label: LabelY, values: s.Rows, dashes: []vg.Length{vg.Points(5), vg.Points(3)}, css: "dashed"},
	}
}

func (s Series) xAxisLabel(fps float64) string {
	if fps > 0 {
		return "Time (s)"
	}
	return "Frame"
}

// newPlot builds the gonum figure with one legend entry per label.
func newPlot(s Series, fps float64) (*plot.Plot, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = s.xAxisLabel(fps)
	p.Y.Label.Text = "Displacement (pixels)"
	p.Add(plotter.NewGrid())

	seen := make(map[string]bool)
	for _, tr := range s.traces() {
		pts := make(plotter.XYs, len(s.Time))
		for i := range s.Time {
			pts[i] = plotter.XY{X: s.Time[i], Y: tr.values[i]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s line: %w", tr.label, err)
		}
		line.Color = halfRed
		line.Width = vg.Points(1.5)
		line.Dashes = tr.dashes
		p.Add(line)

		if !seen[tr.label] {
			p.Legend.Add(tr.label, line)
			seen[tr.label] = true
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PNG writes the figure to path, creating parent directories.
func PNG(path string, s Series, fps float64) error {
	p, err := newPlot(s, fps)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot '%s': %w", path, err)
	}
	return nil
}

// WritePNG writes the PNG figure to w.
func WritePNG(w io.Writer, s Series, fps float64) error {
	p, err := newPlot(s, fps)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// HTML renders the figure as an interactive go-echarts page.
func HTML(w io.Writer, s Series, fps float64) error {
	if err := s.validate(); err != nil {
		return err
	}

	labels := make([]string, len(s.Time))
	for i, t := range s.Time {
		labels[i] = strconv.FormatFloat(t, 'g', 6, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Title, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: s.xAxisLabel(fps), NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Displacement (pixels)", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(labels)

	for _, tr := range s.traces() {
		data := make([]opts.LineData, len(tr.values))
		for i, v := range tr.values {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(tr.label, data,
			charts.WithLineStyleOpts(opts.LineStyle{Color: "rgba(255,0,0,0.5)", Type: tr.css}),
		)
	}
	return line.Render(w)
}

// HTMLFile renders the interactive page to path.
func HTMLFile(path string, s Series, fps float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", path, err)
	}
	defer file.Close()

	if err := HTML(file, s, fps); err != nil {
		return fmt.Errorf("failed to render '%s': %w", path, err)
	}
	return file.Close()
}
