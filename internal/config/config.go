package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bdougie/lktrack/internal/grid"
	"github.com/bdougie/lktrack/internal/storage"
	"github.com/bdougie/lktrack/internal/tracker"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Plot formats
const (
	PlotPNG  = "png"
	PlotHTML = "html"
)

// Config holds everything one tracking run needs. Zero values in a loaded
// file are not special: fields absent from the JSON keep their defaults.
type Config struct {
	Video     string  `json:"video"`
	OutputDir string  `json:"output_dir"`
	FPS       float64 `json:"fps,omitempty"` // overrides the container rate when > 0

	GridRows int `json:"grid_rows"`
	GridCols int `json:"grid_cols"`

	ROIHeight      int     `json:"roi_height"`
	ROIWidth       int     `json:"roi_width"`
	Pad            int     `json:"pad"`
	Processes      int     `json:"processes"`
	MaxIterations  int     `json:"max_iterations"`
	Tolerance      float64 `json:"tolerance"`
	Interpolation  string  `json:"interpolation"`
	ReferenceFrame int     `json:"reference_frame"`

	PlotPoint int    `json:"plot_point"`
	Plot      string `json:"plot"` // comma separated: png, html

	Store       string                 `json:"store"`
	SQLitePath  string                 `json:"sqlite_path,omitempty"`
	PostgresDSN string                 `json:"postgres_dsn,omitempty"`
	Postgres    storage.PostgresConfig `json:"postgres"`
}

// Default returns the settings of the reference demonstration run.
func Default() *Config {
	return &Config{
		Video:          "data/data_synthetic.cih",
		OutputDir:      "output",
		GridRows:       grid.DefaultRows,
		GridCols:       grid.DefaultCols,
		ROIHeight:      tracker.DefaultROI,
		ROIWidth:       tracker.DefaultROI,
		Pad:            tracker.DefaultPad,
		Processes:      tracker.DefaultProcesses,
		MaxIterations:  tracker.DefaultMaxIterations,
		Tolerance:      tracker.DefaultTolerance,
		Interpolation:  tracker.Bicubic.String(),
		ReferenceFrame: 0,
		PlotPoint:      0,
		Plot:           PlotPNG,
		Store:          storage.KindNone,
	}
}

// Load reads a JSON config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read decodes a JSON config file over the defaults without validating it,
// for callers that apply further overrides first.
func Read(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot produce a run.
func (c *Config) Validate() error {
	if c.GridRows < 1 || c.GridCols < 1 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.GridRows, c.GridCols)
	}
	if c.ROIHeight < 1 || c.ROIWidth < 1 || c.ROIHeight%2 == 0 || c.ROIWidth%2 == 0 {
		return fmt.Errorf("roi must be odd and positive, got %dx%d", c.ROIHeight, c.ROIWidth)
	}
	if c.Pad < 0 {
		return fmt.Errorf("pad must be non-negative, got %d", c.Pad)
	}
	if c.Processes < 1 {
		return fmt.Errorf("processes must be at least 1, got %d", c.Processes)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", c.Tolerance)
	}
	if _, err := tracker.ParseInterpolation(c.Interpolation); err != nil {
		return err
	}
	if c.ReferenceFrame < 0 {
		return fmt.Errorf("reference_frame must be non-negative, got %d", c.ReferenceFrame)
	}
	if c.PlotPoint < 0 || c.PlotPoint >= c.GridRows*c.GridCols {
		return fmt.Errorf("plot_point %d outside grid of %d points", c.PlotPoint, c.GridRows*c.GridCols)
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must be non-negative, got %g", c.FPS)
	}
	if _, err := c.PlotFormats(); err != nil {
		return err
	}

	switch c.Store {
	case storage.KindNone, storage.KindJSON, storage.KindSQLite, storage.KindPostgres:
	default:
		return fmt.Errorf("unknown store %q (want none, json, sqlite or postgres)", c.Store)
	}
	return nil
}

// PlotFormats splits Plot into its formats. An empty value disables plotting.
func (c *Config) PlotFormats() ([]string, error) {
	var formats []string
	for _, f := range strings.Split(c.Plot, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
			continue
		case PlotPNG, PlotHTML:
			formats = append(formats, f)
		default:
			return nil, fmt.Errorf("unknown plot format %q", f)
		}
	}
	return formats, nil
}

// StorageOptions maps the store settings onto storage.Options for videoName.
func (c *Config) StorageOptions(videoName string) storage.Options {
	return storage.Options{
		Kind:        c.Store,
		OutputDir:   c.OutputDir,
		VideoName:   videoName,
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
		Postgres:    storage.PostgresConfigFromEnv(c.Postgres),
	}
}
