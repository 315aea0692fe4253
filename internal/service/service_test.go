package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/earcapture/internal/audio"
	"github.com/audiolibrelab/earcapture/internal/config"
	"github.com/audiolibrelab/earcapture/internal/link"
	"github.com/audiolibrelab/earcapture/internal/protocol"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// lockedBuffer collects link output written by the device loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeSampler struct{}

func (fakeSampler) Sample() (float64, uint64, error) { return 12.5, 3 * 1024 * 1024, nil }

type testDevice struct {
	*Device
	link   *link.Link
	medium *storage.AferoMedium
	out    *lockedBuffer
	stop   func()
}

func startDevice(t *testing.T) *testDevice {
	t.Helper()
	cfg := config.Default()
	cfg.Protocol.TelemetryInterval = time.Millisecond

	medium := storage.NewAferoMedium(afero.NewMemMapFs(), "/sd")
	rec, err := audio.NewRecorderFromConfig(cfg, medium)
	require.NoError(t, err)

	l := link.New(1024, nil)
	out := &lockedBuffer{}
	l.Attach(out)

	dev, err := New(Options{
		Config:        cfg,
		Recorder:      rec,
		Medium:        medium,
		Link:          l,
		Sampler:       fakeSampler{},
		ServicePeriod: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	td := &testDevice{Device: dev, link: l, medium: medium, out: out}
	var once sync.Once
	td.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Error("device loop did not stop")
			}
		})
	}
	t.Cleanup(td.stop)
	return td
}

func (td *testDevice) outputContains(t *testing.T, s string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(td.out.String(), s) },
		2*time.Second, time.Millisecond, "output never contained %q:\n%s", s, td.out.String())
}

func TestDeviceRecordsOverLink(t *testing.T) {
	td := startDevice(t)

	td.link.Deliver([]byte("r"))
	td.outputContains(t, "STATE=BTN:recordStart:1")
	require.Equal(t, audio.StatusRecording, td.recorder.Status())

	src := audio.NewToneSource(44100, 2, 128, 440, 0.5)
	for i := 0; i < 20; i++ {
		require.True(t, td.recorder.OnSampleBlocks(src.Fill()))
	}

	td.link.Deliver([]byte("R"))
	td.outputContains(t, "STATE=BTN:recordStart:0")
	_, session := td.GetRecordingStatus()
	require.NotNil(t, session)
	assert.Equal(t, "AUDIO001.WAV", session.OutputFile)

	raw, err := afero.ReadFile(td.medium.Fs(), "/sd/AUDIO001.WAV")
	require.NoError(t, err)
	assert.EqualValues(t, 20*128*2*2, binary.LittleEndian.Uint32(raw[40:44]))
	assert.EqualValues(t, session.AcceptedBytes, binary.LittleEndian.Uint32(raw[40:44]))
}

func TestDeviceAppliesStreamRecords(t *testing.T) {
	td := startDevice(t)

	frame, err := protocol.EncodeFrame(protocol.GHA{Attack: 7, Release: 70})
	require.NoError(t, err)
	td.link.Deliver(frame)

	td.outputContains(t, "SUCCESS.")
	assert.Equal(t, float32(7), td.GetTuning().GHA.Attack)
}

func TestDeviceReportsFramingErrors(t *testing.T) {
	td := startDevice(t)

	bad := protocol.WrapFrame([]byte("afc\x03"))
	bad[len(bad)-1] = 'Z'
	td.link.Deliver(bad)
	td.outputContains(t, "ERROR: framing error")
	assert.EqualValues(t, 1, td.GetStats().FramingErrors)

	td.link.Deliver([]byte("c"))
	td.outputContains(t, "STATE=BTN:cpuStart:1")
	td.outputContains(t, "CPU Cur/Peak: 12.50%/12.50%, MEM: 3.0 MB")
}

func TestDeviceControlRequests(t *testing.T) {
	td := startDevice(t)
	ctx := context.Background()

	require.NoError(t, td.StartRecording(ctx))
	status, _ := td.GetRecordingStatus()
	assert.Equal(t, audio.StatusRecording, status)

	err := td.StartRecording(ctx)
	assert.ErrorIs(t, err, audio.ErrInvalidState)
	assert.NotEmpty(t, td.GetLastError())

	resp, err := td.SendCommand(ctx, 'g')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp, "Gain settings:"))

	resp, err = td.SendCommand(ctx, '~')
	assert.ErrorIs(t, err, protocol.ErrUnrecognizedCommand)
	assert.Equal(t, "Unrecognized command: 0x7E\n", resp)

	require.NoError(t, td.StopRecording(ctx))
	assert.Empty(t, td.GetLastError())

	recs, err := td.ListRecordings()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "AUDIO001.WAV", recs[0].Name)
	assert.Equal(t, "44 B", recs[0].SizeHuman)
}

func TestDeviceStopsRecordingOnShutdown(t *testing.T) {
	td := startDevice(t)
	require.NoError(t, td.StartRecording(context.Background()))

	td.stop()
	assert.Equal(t, audio.StatusStopped, td.recorder.Status())

	err := td.Do(context.Background(), func() {})
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestDeviceHandlesCommandQueuedBeforeShutdown(t *testing.T) {
	// A piped command followed by EOF cancels the loop right after delivery.
	for i := 0; i < 20; i++ {
		td := startDevice(t)
		td.link.Deliver([]byte("r"))
		td.stop()

		ok, err := td.medium.Exists("AUDIO001.WAV")
		require.NoError(t, err)
		require.True(t, ok, "iteration %d: queued record command was dropped", i)
		assert.Equal(t, audio.StatusStopped, td.recorder.Status())
		assert.Contains(t, td.out.String(), "STATE=BTN:recordStart:1")
	}
}

func TestDeviceResetSequence(t *testing.T) {
	td := startDevice(t)
	ctx := context.Background()

	require.NoError(t, td.StartRecording(ctx))
	err := td.ResetSequence(ctx)
	assert.ErrorIs(t, err, audio.ErrInvalidState)
	assert.NotEmpty(t, td.GetLastError())
	require.NoError(t, td.StopRecording(ctx))

	require.NoError(t, td.StartRecording(ctx))
	require.NoError(t, td.StopRecording(ctx))
	_, session := td.GetRecordingStatus()
	require.NotNil(t, session)
	assert.Equal(t, "AUDIO002.WAV", session.OutputFile)

	require.NoError(t, td.ResetSequence(ctx))
	assert.Empty(t, td.GetLastError())
	assert.Zero(t, td.recorder.SequenceCount())

	require.NoError(t, td.medium.Fs().Remove("/sd/AUDIO001.WAV"))
	require.NoError(t, td.StartRecording(ctx))
	_, session = td.GetRecordingStatus()
	require.NotNil(t, session)
	assert.Equal(t, "AUDIO001.WAV", session.OutputFile)
}

func TestNewRequiresParts(t *testing.T) {
	_, err := New(Options{Config: config.Default()})
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
