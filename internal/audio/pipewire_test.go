package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	out := "Output ports:\nsystem:capture_1\n  Chrome:output_FL  \n\nInput ports:\nsystem:playback_1\n"
	assert.Equal(t, []string{"system:capture_1", "Chrome:output_FL", "system:playback_1"}, parsePorts(out))
}

func TestValidatePortInList(t *testing.T) {
	ports := []string{"Chrome:output_FL", "system:capture_1", "Chrome:output_FL"}

	assert.NoError(t, validatePortInList("system:capture_1", ports))

	err := validatePortInList("nonexistent:port", ports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port not found")

	err = validatePortInList("Chrome:output_FL", ports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sources detected")
}

func TestPipeWireSourceArgs(t *testing.T) {
	s := NewPipeWireSource(48000, 2, 64, "")
	assert.Equal(t, "--format f32 --rate 48000 --channels 2 -", strings.Join(s.args(), " "))

	s = NewPipeWireSource(44100, 1, 64, "alsa_input.usb")
	assert.Contains(t, s.args(), "alsa_input.usb")
}

func interleaved(frames, channels int) []byte {
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			binary.Write(&buf, binary.LittleEndian, math.Float32bits(float32(c)+float32(i)/100))
		}
	}
	return buf.Bytes()
}

func TestPipeWireSourceDeinterleaves(t *testing.T) {
	s := NewPipeWireSource(48000, 2, 4, "")
	var got [][]float32
	err := s.readBlocks(bytes.NewReader(interleaved(9, 2)), func(blocks []SampleBlock) {
		got = append(got, append([]float32(nil), blocks[1]...))
	})
	require.NoError(t, err)

	// the trailing partial block is discarded
	require.Len(t, got, 2)
	assert.InDelta(t, 1.04, got[1][0], 1e-6)
	assert.InDelta(t, 1.07, got[1][3], 1e-6)
}

func TestPipeWireSourceRunsCommand(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	path := filepath.Join(t.TempDir(), "capture.raw")
	require.NoError(t, os.WriteFile(path, interleaved(8, 1), 0o644))

	s := NewPipeWireSource(8000, 1, 4, "")
	s.command = func(ctx context.Context, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "cat", path)
	}
	blocks := 0
	require.NoError(t, s.Run(context.Background(), func([]SampleBlock) { blocks++ }))
	assert.Equal(t, 2, blocks)
}
