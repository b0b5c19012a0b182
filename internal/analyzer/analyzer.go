// Package analyzer runs the tracking pipeline end to end: it lays a grid over
// a recording, tracks it, stores the trajectories and plots one of them.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdougie/lktrack/internal/config"
	"github.com/bdougie/lktrack/internal/grid"
	"github.com/bdougie/lktrack/internal/models"
	"github.com/bdougie/lktrack/internal/plotter"
	"github.com/bdougie/lktrack/internal/storage"
	"github.com/bdougie/lktrack/internal/tracker"
	"github.com/bdougie/lktrack/internal/video"
)

// Report summarises a finished run
type Report struct {
	Run           models.Run
	Displacements *models.Displacements
	Status        []models.PointStatus
	StatusCounts  map[models.PointStatus]int
	Paths         []string // figures written
}

type Processor struct {
	storage storage.Storage
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(store storage.Storage, logger *slog.Logger) *Processor {
	if store == nil {
		store = storage.NewNopStorage()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		storage: store,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessVideo opens cfg.Video and runs the pipeline on it.
func (p *Processor) ProcessVideo(ctx context.Context, cfg *config.Config) (*Report, error) {
	p.logger.Info("opening video", "path", cfg.Video)

	reader, err := video.Open(ctx, cfg.Video, video.Options{FPS: cfg.FPS})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return p.ProcessReader(ctx, reader, video.Name(cfg.Video), cfg)
}

// ProcessReader runs the pipeline on an already open reader.
func (p *Processor) ProcessReader(ctx context.Context, reader video.Reader, videoName string, cfg *config.Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	h, w, n := reader.Height(), reader.Width(), reader.FrameCount()
	p.logger.Info("video loaded",
		"name", videoName, "height", h, "width", w, "frames", n, "fps", reader.FPS())

	points, err := grid.Regular(h, w, cfg.GridRows, cfg.GridCols)
	if err != nil {
		return nil, err
	}
	p.logger.Info("grid built", "rows", cfg.GridRows, "cols", cfg.GridCols, "points", len(points))

	interp, err := tracker.ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return nil, err
	}

	lk := tracker.New(reader, p.logger)
	lk.SetPoints(points)
	err = lk.Configure(
		tracker.WithROISize(cfg.ROIHeight, cfg.ROIWidth),
		tracker.WithPad(cfg.Pad),
		tracker.WithProcesses(cfg.Processes),
		tracker.WithMaxIterations(cfg.MaxIterations),
		tracker.WithTolerance(cfg.Tolerance),
		tracker.WithInterpolation(interp),
		tracker.WithReferenceFrame(cfg.ReferenceFrame),
		tracker.WithProgress(func(done, total int) {
			if done == total || done%100 == 0 {
				p.logger.Info("tracking", "done", done, "total", total)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	start := p.now()
	disp, err := lk.Displacements(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracking failed: %w", err)
	}
	f, np, c := disp.Shape()
	p.logger.Info("displacements computed", "shape", fmt.Sprintf("(%d, %d, %d)", f, np, c),
		"elapsed", p.now().Sub(start).Round(time.Millisecond))

	report := &Report{
		Run: models.Run{
			ID:         uuid.NewString(),
			VideoName:  videoName,
			Height:     h,
			Width:      w,
			FPS:        reader.FPS(),
			FrameCount: n,
			GridRows:   cfg.GridRows,
			GridCols:   cfg.GridCols,
			Settings:   lk.Settings(),
			CreatedAt:  p.now().UTC(),
		},
		Displacements: disp,
		Status:        lk.Status(),
		StatusCounts:  make(map[models.PointStatus]int),
	}
	for _, s := range report.Status {
		report.StatusCounts[s]++
	}
	p.logger.Info("point status",
		"converged", report.StatusCounts[models.StatusConverged],
		"max_iterations", report.StatusCounts[models.StatusMaxIterations],
		"degenerate", report.StatusCounts[models.StatusDegenerate])

	if err := p.store(ctx, report, points); err != nil {
		return report, err
	}

	paths, err := p.plot(cfg, report)
	report.Paths = paths
	if err != nil {
		return report, err
	}
	return report, nil
}

// store streams every trajectory through a results channel into storage.
func (p *Processor) store(ctx context.Context, report *Report, points []models.Point) error {
	if err := p.storage.BeginRun(ctx, report.Run); err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}

	resultsChan := make(chan models.TrackResult, 16)
	errorsChan := make(chan error, len(points)+2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range resultsChan {
			if err := p.storage.AddResult(ctx, result); err != nil {
				errorsChan <- fmt.Errorf("point %d: %w", result.Index, err)
			}
		}
	}()

	go func() {
		defer close(resultsChan)
		for i, pt := range points {
			rows, cols := report.Displacements.Series(i)
			select {
			case resultsChan <- models.TrackResult{
				Index:  i,
				Point:  pt,
				Status: report.Status[i],
				Rows:   rows,
				Cols:   cols,
			}:
			case <-ctx.Done():
				errorsChan <- ctx.Err()
				return
			}
		}
	}()

	wg.Wait()

	// Flush any remaining results
	if err := p.storage.Flush(); err != nil {
		errorsChan <- fmt.Errorf("failed to flush final results: %w", err)
	}
	close(errorsChan)

	var errs []error
	for err := range errorsChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("encountered errors while storing results: %w", errors.Join(errs...))
	}
	p.logger.Debug("results stored", "run", report.Run.ID, "points", len(points))
	return nil
}

// plot writes the configured figures of cfg.PlotPoint under
// <output>/<video>/.
func (p *Processor) plot(cfg *config.Config, report *Report) ([]string, error) {
	formats, err := cfg.PlotFormats()
	if err != nil || len(formats) == 0 {
		return nil, err
	}

	rows, cols := report.Displacements.Series(cfg.PlotPoint)
	series := plotter.Series{
		Title: fmt.Sprintf("Point %d", cfg.PlotPoint),
		Time:  plotter.TimeAxis(len(rows), report.Run.FPS),
		Rows:  rows,
		Cols:  cols,
	}

	dir := filepath.Join(cfg.OutputDir, report.Run.VideoName)
	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, fmt.Sprintf("point_%d.%s", cfg.PlotPoint, format))
		switch format {
		case config.PlotPNG:
			err = plotter.PNG(path, series, report.Run.FPS)
		case config.PlotHTML:
			err = plotter.HTMLFile(path, series, report.Run.FPS)
		}
		if err != nil {
			return paths, fmt.Errorf("failed to plot point %d: %w", cfg.PlotPoint, err)
		}
		p.logger.Info("figure written", "path", path)
		paths = append(paths, path)
	}
	return paths, nil
}
