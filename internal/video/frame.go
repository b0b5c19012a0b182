package video

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a grayscale image plane stored row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the intensity at (row, col). It panics outside the frame.
func (f *Frame) At(row, col int) float64 {
	return f.Pix[row*f.Width+col]
}

// Set stores the intensity at (row, col).
func (f *Frame) Set(row, col int, v float64) {
	f.Pix[row*f.Width+col] = v
}

// AtClamped returns the intensity at (row, col) with coordinates clamped to
// the frame border.
func (f *Frame) AtClamped(row, col int) float64 {
	return f.At(clamp(row, 0, f.Height-1), clamp(col, 0, f.Width-1))
}

// FromImage converts any image to a grayscale frame using 16-bit luminance.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			f.Set(y-b.Min.Y, x-b.Min.X, float64(g.Y))
		}
	}
	return f
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame %dx%d", f.Width, f.Height)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
