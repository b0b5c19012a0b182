package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/lktrack/internal/config"
	"github.com/bdougie/lktrack/internal/models"
	"github.com/bdougie/lktrack/internal/storage"
	"github.com/bdougie/lktrack/internal/video"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.GridRows = 4
	cfg.GridCols = 8
	cfg.Processes = 2
	cfg.PlotPoint = 10
	cfg.Plot = "png,html"
	cfg.Store = storage.KindJSON
	return cfg
}

func syntheticReader(t *testing.T, frames int) *video.MemoryReader {
	t.Helper()
	opts := video.DefaultSyntheticOptions()
	opts.Frames = frames
	r, err := video.Synthetic(opts)
	require.NoError(t, err)
	return r
}

func TestProcessReader(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	reader := syntheticReader(t, 6)

	store, err := storage.Open(ctx, cfg.StorageOptions("speckle"))
	require.NoError(t, err)
	defer store.Close()

	report, err := NewProcessor(store, quietLogger()).ProcessReader(ctx, reader, "speckle", cfg)
	require.NoError(t, err)

	f, p, c := report.Displacements.Shape()
	assert.Equal(t, []int{6, 32, 2}, []int{f, p, c})
	assert.Len(t, report.Status, 32)

	total := 0
	for _, n := range report.StatusCounts {
		total += n
	}
	assert.Equal(t, 32, total)

	_, err = uuid.Parse(report.Run.ID)
	assert.NoError(t, err)
	assert.Equal(t, "speckle", report.Run.VideoName)
	assert.Equal(t, 10000.0, report.Run.FPS)
	assert.Equal(t, "bicubic", report.Run.Settings.Interpolation)

	dir := filepath.Join(cfg.OutputDir, "speckle")
	assert.Equal(t, []string{
		filepath.Join(dir, "point_10.png"),
		filepath.Join(dir, "point_10.html"),
	}, report.Paths)
	for _, path := range report.Paths {
		assert.FileExists(t, path)
	}

	doc, err := storage.LoadJSON(filepath.Join(dir, storage.ResultsFile))
	require.NoError(t, err)
	assert.Equal(t, report.Run.ID, doc.Run.ID)
	require.Len(t, doc.Points, 32)
	for i, r := range doc.Points {
		assert.Equal(t, i, r.Index)
		assert.Len(t, r.Rows, 6)
		rows, cols := report.Displacements.Series(i)
		assert.Equal(t, rows, r.Rows)
		assert.Equal(t, cols, r.Cols)
	}
}

func TestProcessReaderNoPlot(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Plot = ""
	cfg.Store = storage.KindNone

	report, err := NewProcessor(nil, quietLogger()).ProcessReader(context.Background(), syntheticReader(t, 3), "speckle", cfg)
	require.NoError(t, err)
	assert.Empty(t, report.Paths)
}

func TestProcessReaderInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.ROIHeight = 14

	_, err := NewProcessor(nil, quietLogger()).ProcessReader(context.Background(), syntheticReader(t, 2), "speckle", cfg)
	assert.Error(t, err)
}

type failingStore struct {
	added int
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) BeginRun(context.Context, models.Run) error { return nil }
func (s *failingStore) AddResult(_ context.Context, r models.TrackResult) error {
	s.added++
	if r.Index%2 == 1 {
		return errDiskFull
	}
	return nil
}
func (s *failingStore) Flush() error { return nil }
func (s *failingStore) Close() error { return nil }

func TestProcessReaderJoinsStorageErrors(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Plot = ""
	store := &failingStore{}

	report, err := NewProcessor(store, quietLogger()).ProcessReader(context.Background(), syntheticReader(t, 2), "speckle", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotNil(t, report)
	assert.Equal(t, 32, store.added, "every result is still offered to storage")
}

func TestProcessVideoMissing(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Video = filepath.Join(t.TempDir(), "missing.cih")

	_, err := NewProcessor(nil, quietLogger()).ProcessVideo(context.Background(), cfg)
	assert.Error(t, err)
}

func TestProcessVideoCIH(t *testing.T) {
	ctx := context.Background()
	cfg := smallConfig(t)
	cfg.Store = storage.KindNone
	cfg.Plot = "png"
	cfg.Video = filepath.Join(t.TempDir(), "speckle.cih")
	require.NoError(t, video.WriteCIH(ctx, cfg.Video, syntheticReader(t, 3), 12))

	report, err := NewProcessor(nil, quietLogger()).ProcessVideo(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "speckle", report.Run.VideoName)
	assert.Equal(t, 3, report.Run.FrameCount)
	assert.Len(t, report.Paths, 1)
}
