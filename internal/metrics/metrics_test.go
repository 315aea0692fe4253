package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestRecorderEvents(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordingStarted()
	m.ChunkFlushed(512)
	m.ChunkFlushed(512)
	m.Overruns(3)
	m.RecordingStopped(1024, 2*time.Second)
	m.WriteFailed()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordingsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordingsStopped))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.chunksFlushed))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.bytesFlushed))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.overrunsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.writeFailures))
}

func TestLinkEvents(t *testing.T) {
	m := newTestMetrics(t)

	m.FrameDecoded("char")
	m.FrameDecoded("stream")
	m.FrameDecoded("char")
	m.FramingError()
	m.CommandHandled(nil)
	m.CommandHandled(errors.New("bad"))
	m.RecordHandled("dsl", nil)
	m.RecordHandled("", errors.New("bad"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.framesTotal.WithLabelValues("char")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framingErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.commandsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordsDecoded.WithLabelValues("dsl", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordsDecoded.WithLabelValues("unknown", "error")))
}

func TestRegisterGauge(t *testing.T) {
	m := newTestMetrics(t)
	require.NoError(t, m.RegisterGauge("capture_buffered_bytes", "Bytes waiting in the capture buffer", func() float64 { return 42 }))

	expected := `
# HELP earcapture_capture_buffered_bytes Bytes waiting in the capture buffer
# TYPE earcapture_capture_buffered_bytes gauge
earcapture_capture_buffered_bytes 42
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "earcapture_capture_buffered_bytes"))

	assert.Error(t, m.RegisterGauge("capture_buffered_bytes", "dup", func() float64 { return 0 }))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
