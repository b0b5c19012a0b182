package video

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// MemoryReader serves frames held in memory.
type MemoryReader struct {
	frames []*Frame
	fps    float64
}

// NewMemoryReader wraps frames of identical size.
func NewMemoryReader(frames []*Frame, fps float64) (*MemoryReader, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("memory reader needs at least one frame")
	}
	w, h := frames[0].Width, frames[0].Height
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, f.Width, f.Height, w, h)
		}
	}
	return &MemoryReader{frames: frames, fps: fps}, nil
}

func (r *MemoryReader) Width() int      { return r.frames[0].Width }
func (r *MemoryReader) Height() int     { return r.frames[0].Height }
func (r *MemoryReader) FPS() float64    { return r.fps }
func (r *MemoryReader) FrameCount() int { return len(r.frames) }
func (r *MemoryReader) Close() error    { return nil }

func (r *MemoryReader) Frame(ctx context.Context, i int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, len(r.frames)); err != nil {
		return nil, err
	}
	return r.frames[i], nil
}

// SyntheticOptions describe a translating speckle video
type SyntheticOptions struct {
	Width  int
	Height int
	Frames int
	FPS    float64
	// Motion returns the (drow, dcol) shift of frame i relative to frame 0.
	Motion func(i int) (float64, float64)
	// SpeckleRadius is the Gaussian radius of each speckle in pixels.
	SpeckleRadius float64
	// Density is the number of speckles per pixel.
	Density float64
	Seed    int64
}

// DefaultSyntheticOptions yields a small recording whose points oscillate
// sinusoidally by up to half a pixel horizontally and a quarter vertically.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Width:  256,
		Height: 128,
		Frames: 50,
		FPS:    10000,
		Motion: func(i int) (float64, float64) {
			phase := 2 * math.Pi * float64(i) / 25
			return 0.25 * math.Sin(phase), 0.5 * math.Sin(phase)
		},
		SpeckleRadius: 2,
		Density:       0.05,
		Seed:          1,
	}
}

type speckle struct {
	row, col, amp float64
}

// Synthetic renders a speckle pattern shifted by opts.Motion per frame. The
// pattern is evaluated analytically so shifts are exact at sub-pixel scale.
func Synthetic(opts SyntheticOptions) (*MemoryReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Frames <= 0 {
		return nil, fmt.Errorf("invalid synthetic geometry %dx%d with %d frames", opts.Width, opts.Height, opts.Frames)
	}
	if opts.Motion == nil {
		opts.Motion = func(int) (float64, float64) { return 0, 0 }
	}
	if opts.SpeckleRadius <= 0 {
		opts.SpeckleRadius = 2
	}
	if opts.Density <= 0 {
		opts.Density = 0.05
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	margin := 4 * opts.SpeckleRadius
	n := int(opts.Density * float64(opts.Width*opts.Height))
	speckles := make([]speckle, n)
	for i := range speckles {
		speckles[i] = speckle{
			row: rng.Float64()*(float64(opts.Height)+2*margin) - margin,
			col: rng.Float64()*(float64(opts.Width)+2*margin) - margin,
			amp: 0.5 + rng.Float64()*0.5,
		}
	}

	inv := 1 / (2 * opts.SpeckleRadius * opts.SpeckleRadius)
	reach := int(math.Ceil(4 * opts.SpeckleRadius))
	frames := make([]*Frame, opts.Frames)
	for i := range frames {
		dr, dc := opts.Motion(i)
		f := NewFrame(opts.Width, opts.Height)
		for _, s := range speckles {
			cr, cc := s.row+dr, s.col+dc
			r0, c0 := int(math.Floor(cr)), int(math.Floor(cc))
			for r := max(0, r0-reach); r <= min(opts.Height-1, r0+reach); r++ {
				for c := max(0, c0-reach); c <= min(opts.Width-1, c0+reach); c++ {
					d2 := (float64(r)-cr)*(float64(r)-cr) + (float64(c)-cc)*(float64(c)-cc)
					f.Pix[r*f.Width+c] += s.amp * math.Exp(-d2*inv)
				}
			}
		}
		// Soft saturation keeps overlapping speckles smooth.
		for p, v := range f.Pix {
			f.Pix[p] = 4095 * (1 - math.Exp(-v))
		}
		frames[i] = f
	}
	return NewMemoryReader(frames, opts.FPS)
}
