package video

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/bdougie/lktrack/internal/extractor"
)

// OpenFFmpeg decodes the whole video into memory through ffmpeg.
func OpenFFmpeg(ctx context.Context, path string, opts Options) (*MemoryReader, error) {
	info, err := extractor.Probe(ctx, opts.FFprobePath, path)
	if err != nil {
		return nil, err
	}

	frames := make([]*Frame, 0, info.Frames)
	_, err = extractor.ExtractFrames(ctx, opts.FFmpegPath, path, info, func(i int, buf []byte) error {
		f := NewFrame(info.Width, info.Height)
		for p := range f.Pix {
			f.Pix[p] = float64(binary.LittleEndian.Uint16(buf[2*p:]))
		}
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract frames from '%s': %w", path, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames decoded from '%s'", path)
	}
	return NewMemoryReader(frames, info.FPS)
}
