// Package extractor wraps the ffprobe and ffmpeg binaries to read video
// metadata and decode raw grayscale frames.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Info is the subset of ffprobe stream metadata needed to decode frames
type Info struct {
	Width  int
	Height int
	FPS    float64
	Frames int
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry and frame rate.
func Probe(ctx context.Context, ffprobe, videoPath string) (Info, error) {
	// Check if video file exists
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return Info{}, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}

	cmd := exec.CommandContext(ctx,
		ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-of", "json",
		videoPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, stderr.String())
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return Info{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Info{}, errors.New("no video stream found")
	}

	s := out.Streams[0]
	info := Info{Width: s.Width, Height: s.Height}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("invalid stream geometry %dx%d", info.Width, info.Height)
	}

	fps, err := parseRate(s.RFrameRate)
	if err != nil {
		return Info{}, err
	}
	info.FPS = fps

	// nb_frames is "N/A" for some containers; frames are then counted while decoding.
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.Frames = n
	}
	return info, nil
}

func parseRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// ExtractFrames decodes every frame as 16-bit little-endian grayscale and
// passes each raw buffer to fn in order. The buffer is reused between calls.
func ExtractFrames(ctx context.Context, ffmpeg, videoPath string, info Info, fn func(i int, buf []byte) error) (int, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx,
		ffmpeg,
		"-v", "error",
		"-i", videoPath,
		"-f", "rawvideo",
		"-pix_fmt", "gray16le",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frameBytes := info.Width * info.Height * 2
	buf := make([]byte, frameBytes)
	r := bufio.NewReaderSize(stdout, frameBytes)

	count := 0
	var readErr error
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("truncated frame %d: %w", count, err)
			}
			break
		}
		if err := fn(count, buf); err != nil {
			readErr = err
			break
		}
		count++
	}

	if readErr != nil {
		// Drain so ffmpeg is not left blocked on a full pipe.
		io.Copy(io.Discard, r)
	}
	if err := cmd.Wait(); err != nil && readErr == nil {
		return count, fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, stderr.String())
	}
	return count, readErr
}
