// Command lktrack lays a regular grid over a high-speed recording, tracks
// every grid point with Lucas-Kanade digital image correlation and plots the
// displacement of one point over time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/bdougie/lktrack/internal/analyzer"
	"github.com/bdougie/lktrack/internal/config"
	"github.com/bdougie/lktrack/internal/storage"
	"github.com/bdougie/lktrack/internal/video"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("lktrack failed", "err", err)
		}
		os.Exit(1)
	}
}

type flags struct {
	configPath      string
	synthetic       bool
	exportSynthetic string
	logLevel        string
}

func parseFlags(args []string) (*config.Config, flags, error) {
	fs := flag.NewFlagSet("lktrack", flag.ContinueOnError)
	var f flags
	fs.StringVar(&f.configPath, "config", "", "JSON config file; flags override its values")
	fs.BoolVar(&f.synthetic, "synthetic", false, "track a generated speckle recording instead of -video")
	fs.StringVar(&f.exportSynthetic, "export-synthetic", "", "write the generated recording to this .cih path and exit")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")

	// Values are read back only for flags set on the command line.
	d := config.Default()
	videoPath := fs.String("video", d.Video, "recording: .cih, image directory or any ffmpeg input")
	output := fs.String("output", d.OutputDir, "output directory")
	fps := fs.Float64("fps", 0, "frame rate override")
	rows := fs.Int("rows", d.GridRows, "grid rows")
	cols := fs.Int("cols", d.GridCols, "grid columns")
	roi := fs.Int("roi", d.ROIHeight, "square subset size in pixels (odd)")
	pad := fs.Int("pad", d.Pad, "guard band around the subset")
	processes := fs.Int("processes", d.Processes, "parallel workers")
	maxIter := fs.Int("max-iter", d.MaxIterations, "iteration budget per point and frame")
	tol := fs.Float64("tol", d.Tolerance, "convergence tolerance in pixels")
	interp := fs.String("interp", d.Interpolation, "bilinear or bicubic")
	ref := fs.Int("ref", d.ReferenceFrame, "reference frame")
	point := fs.Int("point", d.PlotPoint, "grid point to plot")
	store := fs.String("store", d.Store, "none, json, sqlite or postgres")
	dsn := fs.String("dsn", "", "PostgreSQL connection string (default from PG* env)")
	plot := fs.String("plot", d.Plot, "comma separated figure formats: png, html")

	if err := fs.Parse(args); err != nil {
		return nil, f, err
	}
	if fs.NArg() > 0 {
		return nil, f, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Read(f.configPath)
		if err != nil {
			return nil, f, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "video":
			cfg.Video = *videoPath
		case "output":
			cfg.OutputDir = *output
		case "fps":
			cfg.FPS = *fps
		case "rows":
			cfg.GridRows = *rows
		case "cols":
			cfg.GridCols = *cols
		case "roi":
			cfg.ROIHeight, cfg.ROIWidth = *roi, *roi
		case "pad":
			cfg.Pad = *pad
		case "processes":
			cfg.Processes = *processes
		case "max-iter":
			cfg.MaxIterations = *maxIter
		case "tol":
			cfg.Tolerance = *tol
		case "interp":
			cfg.Interpolation = *interp
		case "ref":
			cfg.ReferenceFrame = *ref
		case "point":
			cfg.PlotPoint = *point
		case "store":
			cfg.Store = *store
		case "dsn":
			cfg.PostgresDSN = *dsn
		case "plot":
			cfg.Plot = *plot
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, f, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, f, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      l,
			TimeFormat: "15:04:05",
		}),
	), nil
}

func run(args []string) error {
	cfg, f, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(f.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if f.exportSynthetic != "" {
		reader, err := syntheticReader(cfg)
		if err != nil {
			return err
		}
		if err := video.WriteCIH(ctx, f.exportSynthetic, reader, 12); err != nil {
			return err
		}
		logger.Info("synthetic recording written", "path", f.exportSynthetic, "frames", reader.FrameCount())
		return nil
	}

	videoName := video.Name(cfg.Video)
	if f.synthetic {
		videoName = "synthetic"
	}

	storeOpts := cfg.StorageOptions(videoName)
	storeOpts.Logger = logger
	store, err := storage.Open(ctx, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	processor := analyzer.NewProcessor(store, logger)

	var report *analyzer.Report
	if f.synthetic {
		reader, err := syntheticReader(cfg)
		if err != nil {
			return err
		}
		report, err = processor.ProcessReader(ctx, reader, videoName, cfg)
		if err != nil {
			return err
		}
	} else {
		report, err = processor.ProcessVideo(ctx, cfg)
		if err != nil {
			return err
		}
	}

	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	logger.Info("run complete", "run", report.Run.ID, "figures", len(report.Paths))
	return nil
}

func syntheticReader(cfg *config.Config) (*video.MemoryReader, error) {
	opts := video.DefaultSyntheticOptions()
	if cfg.FPS > 0 {
		opts.FPS = cfg.FPS
	}
	return video.Synthetic(opts)
}
