// Package metrics exposes recorder and protocol counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "earcapture"

// Metrics collects capture and remote-control statistics. Its recorder
// methods satisfy the recorder's observer interface.
type Metrics struct {
	registry *prometheus.Registry

	recordingsStarted prometheus.Counter
	recordingsStopped prometheus.Counter
	recordingBytes    prometheus.Histogram
	recordingSeconds  prometheus.Histogram
	chunksFlushed     prometheus.Counter
	bytesFlushed      prometheus.Counter
	overrunsTotal     prometheus.Counter
	writeFailures     prometheus.Counter

	framesTotal    *prometheus.CounterVec
	framingErrors  prometheus.Counter
	commandsTotal  *prometheus.CounterVec
	recordsDecoded *prometheus.CounterVec
}

// New creates and registers the collectors on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.recordingsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_started_total",
		Help:      "Recording sessions opened",
	})
	m.recordingsStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_stopped_total",
		Help:      "Recording sessions closed, including aborted ones",
	})
	m.recordingBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recording_data_bytes",
		Help:      "PCM bytes written per closed recording",
		Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8), // 64KiB to ~1GiB
	})
	m.recordingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recording_duration_seconds",
		Help:      "Wall-clock length of closed recordings",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.chunksFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_chunks_flushed_total",
		Help:      "Chunks moved from the capture buffer to storage",
	})
	m.bytesFlushed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_bytes_flushed_total",
		Help:      "Bytes moved from the capture buffer to storage",
	})
	m.overrunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_overruns_total",
		Help:      "Sample blocks dropped because the capture buffer was full",
	})
	m.writeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_write_failures_total",
		Help:      "Medium write errors that aborted a recording",
	})

	m.framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_frames_total",
		Help:      "Frames decoded from the remote link",
	}, []string{"kind"}) // kind: char, stream
	m.framingErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_framing_errors_total",
		Help:      "Binary frames abandoned for a framing error",
	})
	m.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_commands_total",
		Help:      "Single-character commands handled",
	}, []string{"status"}) // status: ok, error
	m.recordsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_records_total",
		Help:      "Stream records handled by type",
	}, []string{"type", "status"})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recordingsStarted, m.recordingsStopped, m.recordingBytes, m.recordingSeconds,
		m.chunksFlushed, m.bytesFlushed, m.overrunsTotal, m.writeFailures,
		m.framesTotal, m.framingErrors, m.commandsTotal, m.recordsDecoded,
	}
}

// Registry returns the registry the collectors were registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordingStarted() { m.recordingsStarted.Inc() }

func (m *Metrics) RecordingStopped(dataBytes int64, elapsed time.Duration) {
	m.recordingsStopped.Inc()
	m.recordingBytes.Observe(float64(dataBytes))
	m.recordingSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ChunkFlushed(bytes int) {
	m.chunksFlushed.Inc()
	m.bytesFlushed.Add(float64(bytes))
}

func (m *Metrics) Overruns(n uint64) { m.overrunsTotal.Add(float64(n)) }

func (m *Metrics) WriteFailed() { m.writeFailures.Inc() }

// FrameDecoded counts a completed frame of kind "char" or "stream".
func (m *Metrics) FrameDecoded(kind string) { m.framesTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) FramingError() { m.framingErrors.Inc() }

// CommandHandled counts a dispatched command by outcome.
func (m *Metrics) CommandHandled(err error) {
	m.commandsTotal.WithLabelValues(status(err)).Inc()
}

// RecordHandled counts a stream record by tag and outcome.
func (m *Metrics) RecordHandled(tag string, err error) {
	if tag == "" {
		tag = "unknown"
	}
	m.recordsDecoded.WithLabelValues(tag, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RegisterGauge adds a gauge whose value is read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
