// Package grid builds the regular point grids the tracker follows.
package grid

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/bdougie/lktrack/internal/models"
)

// Default grid dimensions
const (
	DefaultRows = 12
	DefaultCols = 40
)

var (
	ErrInvalidGrid  = errors.New("invalid grid dimensions")
	ErrPointOutside = errors.New("point outside image")
)

// Linspace returns n evenly spaced integers over [start, stop]. Values are
// truncated toward zero after spacing, so the endpoints are always included.
func Linspace(start, stop, n int) []int {
	switch {
	case n <= 0:
		return []int{}
	case n == 1:
		return []int{start}
	}

	span := floats.Span(make([]float64, n), float64(start), float64(stop))
	// Span can land just below stop, which truncation would turn into stop-1.
	span[n-1] = float64(stop)
	out := make([]int, n)
	for i, v := range span {
		out[i] = int(v)
	}
	return out
}

// Regular returns a rows x cols grid spanning a height x width image,
// ordered row-major.
func Regular(height, width, rows, cols int) ([]models.Point, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d", ErrInvalidGrid, height, width)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrInvalidGrid, rows, cols)
	}

	ys := Linspace(0, height-1, rows)
	xs := Linspace(0, width-1, cols)

	points := make([]models.Point, 0, rows*cols)
	for _, y := range ys {
		for _, x := range xs {
			points = append(points, models.Point{Row: y, Col: x})
		}
	}
	return points, nil
}

// Validate checks that every point lies inside a height x width image.
func Validate(points []models.Point, height, width int) error {
	for i, p := range points {
		if p.Row < 0 || p.Row >= height || p.Col < 0 || p.Col >= width {
			return fmt.Errorf("%w: point %d at (%d, %d) in %dx%d image", ErrPointOutside, i, p.Row, p.Col, height, width)
		}
	}
	return nil
}
