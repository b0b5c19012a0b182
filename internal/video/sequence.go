package video

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/tiff"
)

var sequenceExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// SequenceReader serves a directory of still images as frames, ordered by
// file name.
type SequenceReader struct {
	dir    string
	files  []string
	width  int
	height int
	fps    float64
}

// OpenSequence lists the image files in dir. fps is used as-is since still
// images carry no frame rate.
func OpenSequence(dir string, fps float64) (*SequenceReader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && sequenceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image frames found in directory '%s'", dir)
	}
	sort.Strings(files)

	first, err := os.Open(filepath.Join(dir, files[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to open frame '%s': %w", files[0], err)
	}
	defer first.Close()

	cfg, _, err := image.DecodeConfig(first)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame '%s': %w", files[0], err)
	}

	return &SequenceReader{
		dir:    dir,
		files:  files,
		width:  cfg.Width,
		height: cfg.Height,
		fps:    fps,
	}, nil
}

func (r *SequenceReader) Width() int      { return r.width }
func (r *SequenceReader) Height() int     { return r.height }
func (r *SequenceReader) FPS() float64    { return r.fps }
func (r *SequenceReader) FrameCount() int { return len(r.files) }
func (r *SequenceReader) Close() error    { return nil }

func (r *SequenceReader) Frame(ctx context.Context, i int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, len(r.files)); err != nil {
		return nil, err
	}

	path := filepath.Join(r.dir, r.files[i])
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame '%s': %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame '%s': %w", path, err)
	}
	f := FromImage(img)
	if f.Width != r.width || f.Height != r.height {
		return nil, fmt.Errorf("frame '%s' is %dx%d, expected %dx%d", path, f.Width, f.Height, r.width, r.height)
	}
	return f, nil
}
