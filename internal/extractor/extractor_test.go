package extractor

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"width":256,"height":128,"r_frame_rate":"30000/1001","nb_frames":"42"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 256, info.Width)
	assert.Equal(t, 128, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 42, info.Frames)
}

func TestParseProbeUnknownFrameCount(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"width":4,"height":2,"r_frame_rate":"25","nb_frames":"N/A"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 25.0, info.FPS)
	assert.Zero(t, info.Frames)
}

func TestParseProbeErrors(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`{"streams":[{"width":4,"height":2,"r_frame_rate":"25/0"}]}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestProbeMissingFile(t *testing.T) {
	_, err := Probe(context.Background(), "", "does/not/exist.mp4")
	assert.ErrorContains(t, err, "does not exist")
}

func TestProbeMissingBinary(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err == nil {
		t.Skip("ffprobe is installed")
	}
	_, err := Probe(context.Background(), "", "extractor_test.go")
	assert.Error(t, err)
}
