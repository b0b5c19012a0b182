// Package video provides random-access grayscale frame sources for the
// tracker: Photron CIH/MRAW recordings, image sequences, anything ffmpeg can
// decode, and in-memory frames.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrFrameOutOfRange   = errors.New("frame index out of range")
)

// Reader is a random-access source of frames. Implementations must be safe
// for concurrent calls to Frame.
type Reader interface {
	Width() int
	Height() int
	FPS() float64
	FrameCount() int
	Frame(ctx context.Context, i int) (*Frame, error)
	Close() error
}

// Options tune how Open treats inputs that carry no frame rate
type Options struct {
	// FPS overrides the frame rate reported by the source when positive.
	FPS float64
	// FFmpegPath and FFprobePath default to the binaries on PATH.
	FFmpegPath  string
	FFprobePath string
}

// Open picks a reader from the path: .cih files are Photron recordings,
// directories are image sequences and everything else is handed to ffmpeg.
func Open(ctx context.Context, path string, opts Options) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("video file does not exist at path '%s': %w", path, err)
	}

	var r Reader
	switch {
	case info.IsDir():
		r, err = OpenSequence(path, opts.FPS)
	case strings.EqualFold(filepath.Ext(path), ".cih"):
		r, err = OpenCIH(path)
	case strings.EqualFold(filepath.Ext(path), ".cihx"):
		return nil, fmt.Errorf("%w: %s (XML headers are not supported, export a .cih)", ErrUnsupportedFormat, path)
	default:
		r, err = OpenFFmpeg(ctx, path, opts)
	}
	if err != nil {
		return nil, err
	}

	if opts.FPS > 0 {
		r = &fpsOverride{Reader: r, fps: opts.FPS}
	}
	return r, nil
}

// Name returns the base name of a video path without its extension.
func Name(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

type fpsOverride struct {
	Reader
	fps float64
}

func (r *fpsOverride) FPS() float64 { return r.fps }

func checkIndex(i, count int) error {
	if i < 0 || i >= count {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrFrameOutOfRange, i, count)
	}
	return nil
}
