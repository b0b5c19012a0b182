package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/lktrack/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, f, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, "info", f.logLevel)
	assert.False(t, f.synthetic)
}

func TestParseFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"grid_rows": 6, "pad": 5, "store": "json"}`), 0644))

	cfg, f, err := parseFlags([]string{
		"-config", path,
		"-rows", "3",
		"-roi", "21",
		"-interp", "bilinear",
		"-plot", "html",
		"-synthetic",
		"-log-level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GridRows, "flags win over the file")
	assert.Equal(t, 5, cfg.Pad, "file wins over defaults")
	assert.Equal(t, "json", cfg.Store)
	assert.Equal(t, 21, cfg.ROIHeight)
	assert.Equal(t, 21, cfg.ROIWidth)
	assert.Equal(t, "bilinear", cfg.Interpolation)
	assert.Equal(t, "html", cfg.Plot)
	assert.True(t, f.synthetic)
	assert.Equal(t, "debug", f.logLevel)
}

func TestParseFlagsOverrideInvalidFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"plot_point": 500}`), 0644))

	_, _, err := parseFlags([]string{"-config", path})
	require.Error(t, err)

	cfg, _, err := parseFlags([]string{"-config", path, "-rows", "20", "-cols", "40"})
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.PlotPoint)
	assert.Equal(t, 800, cfg.GridRows*cfg.GridCols)
}

func TestParseFlagsInvalid(t *testing.T) {
	_, _, err := parseFlags([]string{"-roi", "16"})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"stray"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("warn")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestRunSynthetic(t *testing.T) {
	out := t.TempDir()
	err := run([]string{
		"-synthetic",
		"-output", out,
		"-rows", "2",
		"-cols", "4",
		"-store", "sqlite",
		"-log-level", "error",
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "synthetic", "point_0.png"))
	assert.FileExists(t, filepath.Join(out, "synthetic", "lktrack.db"))
}

func TestRunExportSynthetic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speckle.cih")
	require.NoError(t, run([]string{"-export-synthetic", path, "-log-level", "error"}))
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "speckle.mraw"))
}
