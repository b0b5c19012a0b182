// Package tracker implements Lucas-Kanade digital image correlation over a
// grid of points. Each point's reference subset is taken from one frame and
// matched in every other frame by Gauss-Newton iterations on the intensity
// residual.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/bdougie/lktrack/internal/grid"
	"github.com/bdougie/lktrack/internal/models"
	"github.com/bdougie/lktrack/internal/video"
)

// Defaults match the usual 15x15 subset with a 3 pixel guard band.
const (
	DefaultROI           = 15
	DefaultPad           = 3
	DefaultProcesses     = 4
	DefaultMaxIterations = 20
	DefaultTolerance     = 1e-8
)

var (
	ErrNoPoints   = errors.New("no points to track")
	ErrInvalidROI = errors.New("invalid roi size")
)

type settings struct {
	roiH, roiW int
	pad        int
	processes  int
	maxIter    int
	tol        float64
	interp     Interpolation
	ref        int
	progress   func(done, total int)
}

// Option configures a LucasKanade tracker
type Option func(*settings)

// WithROISize sets the subset window; both sides must be odd.
func WithROISize(h, w int) Option { return func(s *settings) { s.roiH, s.roiW = h, w } }

// WithPad sets the guard band around the subset window.
func WithPad(pad int) Option { return func(s *settings) { s.pad = pad } }

// WithProcesses sets how many workers share the points of each frame.
func WithProcesses(n int) Option { return func(s *settings) { s.processes = n } }

func WithMaxIterations(n int) Option { return func(s *settings) { s.maxIter = n } }

func WithTolerance(tol float64) Option { return func(s *settings) { s.tol = tol } }

func WithInterpolation(i Interpolation) Option { return func(s *settings) { s.interp = i } }

// WithReferenceFrame selects the frame displacements are measured against.
func WithReferenceFrame(i int) Option { return func(s *settings) { s.ref = i } }

// WithProgress registers a callback invoked after each frame is tracked.
func WithProgress(fn func(done, total int)) Option { return func(s *settings) { s.progress = fn } }

func (s settings) validate() error {
	if s.roiH <= 0 || s.roiW <= 0 || s.roiH%2 == 0 || s.roiW%2 == 0 {
		return fmt.Errorf("%w: %dx%d (sides must be odd and positive)", ErrInvalidROI, s.roiH, s.roiW)
	}
	if s.pad < 0 {
		return fmt.Errorf("pad must be >= 0, got %d", s.pad)
	}
	if s.processes < 1 {
		return fmt.Errorf("processes must be >= 1, got %d", s.processes)
	}
	if s.maxIter < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", s.maxIter)
	}
	if !(s.tol > 0) {
		return fmt.Errorf("tolerance must be > 0, got %g", s.tol)
	}
	if s.interp != Bilinear && s.interp != Bicubic {
		return fmt.Errorf("unsupported %s", s.interp)
	}
	if s.ref < 0 {
		return fmt.Errorf("reference frame must be >= 0, got %d", s.ref)
	}
	return nil
}

// LucasKanade tracks a set of points through a video.
type LucasKanade struct {
	reader video.Reader
	logger *slog.Logger
	points []models.Point
	cfg    settings
	status []models.PointStatus
}

// New returns a tracker with default settings.
func New(reader video.Reader, logger *slog.Logger) *LucasKanade {
	if logger == nil {
		logger = slog.Default()
	}
	return &LucasKanade{
		reader: reader,
		logger: logger,
		cfg: settings{
			roiH:      DefaultROI,
			roiW:      DefaultROI,
			pad:       DefaultPad,
			processes: DefaultProcesses,
			maxIter:   DefaultMaxIterations,
			tol:       DefaultTolerance,
			interp:    Bicubic,
		},
	}
}

// SetPoints sets the (row, col) pixels to follow.
func (lk *LucasKanade) SetPoints(points []models.Point) {
	lk.points = append([]models.Point(nil), points...)
	lk.status = nil
}

// Points returns the points being tracked.
func (lk *LucasKanade) Points() []models.Point { return lk.points }

// Configure applies options on top of the current settings. The settings are
// left untouched if the result is invalid.
func (lk *LucasKanade) Configure(opts ...Option) error {
	next := lk.cfg
	for _, opt := range opts {
		opt(&next)
	}
	if err := next.validate(); err != nil {
		return err
	}
	lk.cfg = next
	return nil
}

// Settings reports the active configuration.
func (lk *LucasKanade) Settings() models.Settings {
	return models.Settings{
		ROIHeight:      lk.cfg.roiH,
		ROIWidth:       lk.cfg.roiW,
		Pad:            lk.cfg.pad,
		Processes:      lk.cfg.processes,
		MaxIterations:  lk.cfg.maxIter,
		Tolerance:      lk.cfg.tol,
		Interpolation:  lk.cfg.interp.String(),
		ReferenceFrame: lk.cfg.ref,
	}
}

// Status returns per-point outcomes of the last Displacements call.
func (lk *LucasKanade) Status() []models.PointStatus { return lk.status }

// subset is a point's reference window and the inverse of its normal matrix.
type subset struct {
	ref        []float64
	gr, gc     []float64
	inv        [4]float64
	degenerate bool
	exhausted  bool
}

type frameJob struct {
	index int
	from  int
	frame *video.Frame
	err   error
}

// Displacements tracks every point through every frame and returns a
// (frames, points, 2) array of (drow, dcol) relative to the reference frame.
func (lk *LucasKanade) Displacements(ctx context.Context) (*models.Displacements, error) {
	if len(lk.points) == 0 {
		return nil, ErrNoPoints
	}
	h, w, n := lk.reader.Height(), lk.reader.Width(), lk.reader.FrameCount()
	if err := grid.Validate(lk.points, h, w); err != nil {
		return nil, err
	}
	if lk.cfg.ref >= n {
		return nil, fmt.Errorf("reference frame %d beyond %d frames: %w", lk.cfg.ref, n, video.ErrFrameOutOfRange)
	}

	refFrame, err := lk.reader.Frame(ctx, lk.cfg.ref)
	if err != nil {
		return nil, fmt.Errorf("reference frame %d: %w", lk.cfg.ref, err)
	}

	pool := newPool(lk.cfg.processes)
	defer pool.close()

	subsets := make([]subset, len(lk.points))
	pool.run(len(lk.points), func(start, end int) {
		for p := start; p < end; p++ {
			subsets[p] = lk.newSubset(refFrame, lk.points[p])
		}
	})

	degenerate := 0
	for p := range subsets {
		if subsets[p].degenerate {
			degenerate++
		}
	}
	if degenerate > 0 {
		lk.logger.Warn("points without texture will not move", "count", degenerate, "total", len(lk.points))
	}

	disp := models.NewDisplacements(n, len(lk.points))
	total := n - 1
	remaining := atomic.Int64{}
	remaining.Store(int64(total))

	// Frames are read ahead of the workers, forward from the reference and
	// then backward from it.
	jobs := make(chan frameJob, 1)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer close(jobs)
		send := func(index, from int) bool {
			f, err := lk.reader.Frame(readCtx, index)
			select {
			case jobs <- frameJob{index: index, from: from, frame: f, err: err}:
				return err == nil
			case <-readCtx.Done():
				return false
			}
		}
		for i := lk.cfg.ref + 1; i < n; i++ {
			if !send(i, i-1) {
				return
			}
		}
		for i := lk.cfg.ref - 1; i >= 0; i-- {
			if !send(i, i+1) {
				return
			}
		}
	}()

	for job := range jobs {
		if job.err != nil {
			return nil, fmt.Errorf("frame %d: %w", job.index, job.err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pool.run(len(lk.points), func(start, end int) {
			for p := start; p < end; p++ {
				sub := &subsets[p]
				if sub.degenerate {
					continue
				}
				dr, dc := disp.At(job.from, p)
				dr, dc, ok := lk.track(sub, job.frame, lk.points[p], dr, dc)
				if !ok {
					sub.exhausted = true
				}
				disp.Set(job.index, p, dr, dc)
			}
		})

		left := remaining.Add(-1)
		lk.logger.Debug("tracked frame", "frame", job.index, "remaining", left)
		if lk.cfg.progress != nil {
			lk.cfg.progress(total-int(left), total)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lk.status = make([]models.PointStatus, len(subsets))
	for p := range subsets {
		switch {
		case subsets[p].degenerate:
			lk.status[p] = models.StatusDegenerate
		case subsets[p].exhausted:
			lk.status[p] = models.StatusMaxIterations
		default:
			lk.status[p] = models.StatusConverged
		}
	}
	return disp, nil
}

func (lk *LucasKanade) newSubset(f *video.Frame, p models.Point) subset {
	hh, hw := lk.cfg.roiH/2, lk.cfg.roiW/2
	size := lk.cfg.roiH * lk.cfg.roiW
	s := subset{
		ref: make([]float64, size),
		gr:  make([]float64, size),
		gc:  make([]float64, size),
	}

	var a00, a01, a11 float64
	k := 0
	for i := -hh; i <= hh; i++ {
		for j := -hw; j <= hw; j++ {
			r, c := p.Row+i, p.Col+j
			s.ref[k] = f.AtClamped(r, c)
			s.gr[k], s.gc[k] = gradient(f, r, c)
			a00 += s.gr[k] * s.gr[k]
			a01 += s.gr[k] * s.gc[k]
			a11 += s.gc[k] * s.gc[k]
			k++
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(2, 2, []float64{a00, a01, a01, a11})); err != nil {
		s.degenerate = true
		return s
	}
	s.inv = [4]float64{inv.At(0, 0), inv.At(0, 1), inv.At(1, 0), inv.At(1, 1)}
	return s
}

// track refines the displacement (dr, dc) of p in frame f. It reports false
// when the iteration budget ran out before the update fell below tolerance.
func (lk *LucasKanade) track(s *subset, f *video.Frame, p models.Point, dr, dc float64) (float64, float64, bool) {
	hh, hw := lk.cfg.roiH/2, lk.cfg.roiW/2
	win := newWindow(f,
		p.Row+int(math.Round(dr)), p.Col+int(math.Round(dc)),
		hh+lk.cfg.pad, hw+lk.cfg.pad)

	for it := 0; it < lk.cfg.maxIter; it++ {
		var b0, b1 float64
		k := 0
		for i := -hh; i <= hh; i++ {
			y := float64(p.Row+i) + dr
			for j := -hw; j <= hw; j++ {
				e := s.ref[k] - win.sample(f, y, float64(p.Col+j)+dc, lk.cfg.interp)
				b0 += s.gr[k] * e
				b1 += s.gc[k] * e
				k++
			}
		}

		d0 := s.inv[0]*b0 + s.inv[1]*b1
		d1 := s.inv[2]*b0 + s.inv[3]*b1
		dr += d0
		dc += d1
		if math.Hypot(d0, d1) < lk.cfg.tol {
			return dr, dc, true
		}
	}
	return dr, dc, false
}

// pool runs chunks of a point range on a fixed set of goroutines.
type pool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	p := &pool{size: size, tasks: make(chan func())}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// run splits [0, n) into at most size contiguous chunks, hands them to the
// workers and waits for all of them.
func (p *pool) run(n int, fn func(start, end int)) {
	chunk := (n + p.size - 1) / p.size
	var done sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		done.Add(1)
		p.tasks <- func() {
			defer done.Done()
			fn(start, end)
		}
	}
	done.Wait()
}

func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}
