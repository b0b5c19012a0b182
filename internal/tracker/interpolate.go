package tracker

import (
	"fmt"
	"math"
	"strings"

	"github.com/bdougie/lktrack/internal/video"
)

// Interpolation selects how frames are sampled at sub-pixel positions
type Interpolation int

const (
	Bilinear Interpolation = 1
	Bicubic  Interpolation = 3
)

func (i Interpolation) String() string {
	switch i {
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	}
	return fmt.Sprintf("interpolation(%d)", int(i))
}

// ParseInterpolation accepts "bilinear"/"linear"/"1" and "bicubic"/"cubic"/"3".
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bilinear", "linear", "1":
		return Bilinear, nil
	case "bicubic", "cubic", "3":
		return Bicubic, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

// window is the guard-band crop samples are confined to, inclusive bounds.
type window struct {
	r0, r1, c0, c1 int
}

func newWindow(f *video.Frame, row, col, halfH, halfW int) window {
	return window{
		r0: max(0, row-halfH),
		r1: min(f.Height-1, row+halfH),
		c0: max(0, col-halfW),
		c1: min(f.Width-1, col+halfW),
	}
}

func (w window) at(f *video.Frame, r, c int) float64 {
	return f.At(min(max(r, w.r0), w.r1), min(max(c, w.c0), w.c1))
}

// sample evaluates f at (y, x) with coordinates clamped to the window.
func (w window) sample(f *video.Frame, y, x float64, interp Interpolation) float64 {
	y = math.Min(math.Max(y, float64(w.r0)), float64(w.r1))
	x = math.Min(math.Max(x, float64(w.c0)), float64(w.c1))

	fy, fx := math.Floor(y), math.Floor(x)
	r, c := int(fy), int(fx)
	ty, tx := y-fy, x-fx

	if interp == Bilinear {
		top := (1-tx)*w.at(f, r, c) + tx*w.at(f, r, c+1)
		bottom := (1-tx)*w.at(f, r+1, c) + tx*w.at(f, r+1, c+1)
		return (1-ty)*top + ty*bottom
	}

	wy := cubicWeights(ty)
	wx := cubicWeights(tx)
	var v float64
	for i := 0; i < 4; i++ {
		var row float64
		for j := 0; j < 4; j++ {
			row += wx[j] * w.at(f, r-1+i, c-1+j)
		}
		v += wy[i] * row
	}
	return v
}

// cubicWeights are the Keys (a = -0.5) kernel weights for offsets -1..2.
func cubicWeights(t float64) [4]float64 {
	const a = -0.5
	k := func(s float64) float64 {
		s = math.Abs(s)
		switch {
		case s <= 1:
			return (a+2)*s*s*s - (a+3)*s*s + 1
		case s < 2:
			return a*s*s*s - 5*a*s*s + 8*a*s - 4*a
		}
		return 0
	}
	return [4]float64{k(1 + t), k(t), k(1 - t), k(2 - t)}
}

// gradient returns the intensity gradient of f at (r, c) in the style of
// numpy.gradient: central differences inside, one-sided at the border and
// zero across positions that lie outside the frame.
func gradient(f *video.Frame, r, c int) (gr, gc float64) {
	inRow := r >= 0 && r < f.Height
	inCol := c >= 0 && c < f.Width
	rr := min(max(r, 0), f.Height-1)
	cc := min(max(c, 0), f.Width-1)

	if inRow && f.Height > 1 {
		switch {
		case rr == 0:
			gr = f.At(1, cc) - f.At(0, cc)
		case rr == f.Height-1:
			gr = f.At(rr, cc) - f.At(rr-1, cc)
		default:
			gr = (f.At(rr+1, cc) - f.At(rr-1, cc)) / 2
		}
	}
	if inCol && f.Width > 1 {
		switch {
		case cc == 0:
			gc = f.At(rr, 1) - f.At(rr, 0)
		case cc == f.Width-1:
			gc = f.At(rr, cc) - f.At(rr, cc-1)
		default:
			gc = (f.At(rr, cc+1) - f.At(rr, cc-1)) / 2
		}
	}
	return gr, gc
}
