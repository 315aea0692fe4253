package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/earcapture/internal/config"
	"github.com/audiolibrelab/earcapture/internal/protocol"
)

func decodeFrame(t *testing.T, frame []byte) protocol.Record {
	t.Helper()
	f := protocol.NewFramer(protocol.DefaultMaxPayload)
	for i, b := range frame {
		got, err := f.Feed(b)
		require.NoError(t, err)
		if got.Kind == protocol.FrameStream {
			require.Equal(t, len(frame)-1, i)
			rec, err := protocol.DecodePayload(got.Payload)
			require.NoError(t, err)
			return rec
		}
	}
	t.Fatal("frame never completed")
	return nil
}

func TestBuildRecordFrameDefaults(t *testing.T) {
	frame, err := buildRecordFrame("test", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.TestEcho{Int: 42, Float: 3.14}, decodeFrame(t, frame))

	_, err = buildRecordFrame("eq", "")
	assert.Error(t, err)
}

func TestBuildRecordFrameOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gha.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attack: 12\nbolt: 95\n"), 0o644))

	frame, err := buildRecordFrame("GHA", path)
	require.NoError(t, err)
	rec, ok := decodeFrame(t, frame).(protocol.GHA)
	require.True(t, ok)
	assert.Equal(t, float32(12), rec.Attack)
	assert.Equal(t, float32(95), rec.Bolt)
	assert.Equal(t, float32(50), rec.Release)
}

func TestApplyRunFlags(t *testing.T) {
	c := config.Default()
	require.NoError(t, runCmd.Flags().Set("transport", "tcp"))
	require.NoError(t, runCmd.Flags().Set("port", "9000"))
	t.Cleanup(func() {
		runCmd.Flags().Set("transport", "")
		runCmd.Flags().Set("port", "0")
	})

	require.NoError(t, applyRunFlags(runCmd, c))
	assert.Equal(t, "tcp", c.Link.Transport)
	assert.Equal(t, 9000, c.Server.Port)

	require.NoError(t, runCmd.Flags().Set("transport", "ble"))
	assert.Error(t, applyRunFlags(runCmd, config.Default()))
}
