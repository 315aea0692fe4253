package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/earcapture/internal/audio"
	"github.com/audiolibrelab/earcapture/internal/config"
	"github.com/audiolibrelab/earcapture/internal/dsp"
	"github.com/audiolibrelab/earcapture/internal/link"
	"github.com/audiolibrelab/earcapture/internal/protocol"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

// Service is the control surface of a running device.
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	ResetSequence(ctx context.Context) error
	GetRecordingStatus() (audio.Status, *audio.SessionInfo)

	// Remote-control operations
	SendCommand(ctx context.Context, c byte) (string, error)
	GetTuning() protocol.Snapshot

	// Information operations
	ListRecordings() ([]RecordingInfo, error)
	GetStats() DeviceStats
	GetConfig() *config.Config
	GetLastError() string
}

// RecordingInfo describes one file on the medium.
type RecordingInfo struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

// DeviceStats aggregates the counters shown on the status page.
type DeviceStats struct {
	BufferedBytes  int    `json:"buffered_bytes"`
	Overruns       uint64 `json:"overruns"`
	DroppedBytes   uint64 `json:"dropped_bytes"`
	LinkReceived   uint64 `json:"link_received"`
	LinkDropped    uint64 `json:"link_dropped"`
	FramingErrors  uint64 `json:"framing_errors"`
	SequenceNumber int    `json:"sequence_number"`
}

// LinkObserver receives remote-control events, normally a metrics collector.
type LinkObserver interface {
	FrameDecoded(kind string)
	FramingError()
	CommandHandled(err error)
	RecordHandled(tag string, err error)
}

type nopLinkObserver struct{}

func (nopLinkObserver) FrameDecoded(string)         {}
func (nopLinkObserver) FramingError()               {}
func (nopLinkObserver) CommandHandled(error)        {}
func (nopLinkObserver) RecordHandled(string, error) {}

// ErrNotRunning is returned when a request is made after the loop exited.
var ErrNotRunning = errors.New("device loop is not running")

const (
	// DefaultServicePeriod is how often the loop flushes storage.
	DefaultServicePeriod = 2 * time.Millisecond
	maxFlushesPerTick    = 8
	linkReadBytes        = 256
)

// Options configures a Device. Zero values select defaults.
type Options struct {
	Config        *config.Config
	Recorder      *audio.Recorder
	Medium        *storage.AferoMedium
	Tuning        *dsp.State
	Link          *link.Link
	Observer      LinkObserver
	Sampler       ResourceSampler
	ServicePeriod time.Duration
	Logger        *slog.Logger
}

// Device owns the single consumer loop: it services storage, decodes the
// link byte stream and runs queued control requests.
type Device struct {
	cfg      *config.Config
	logger   *slog.Logger
	recorder *audio.Recorder
	medium   *storage.AferoMedium
	tuning   *dsp.State
	link     *link.Link
	observer LinkObserver

	framer     *protocol.Framer
	dispatcher *protocol.Dispatcher
	codec      *protocol.Codec
	telemetry  *telemetry
	out        *responseWriter

	period        time.Duration
	requests      chan func()
	running       atomic.Bool
	done          chan struct{}
	framingErrors atomic.Uint64

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*Device)(nil)

// New wires a device from its parts.
func New(opts Options) (*Device, error) {
	if opts.Config == nil || opts.Recorder == nil || opts.Link == nil {
		return nil, errors.New("device needs a config, a recorder and a link")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tuning == nil {
		opts.Tuning = dsp.New(opts.Logger)
	}
	if opts.Observer == nil {
		opts.Observer = nopLinkObserver{}
	}
	if opts.ServicePeriod <= 0 {
		opts.ServicePeriod = DefaultServicePeriod
	}

	d := &Device{
		cfg:      opts.Config,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		medium:   opts.Medium,
		tuning:   opts.Tuning,
		link:     opts.Link,
		observer: opts.Observer,
		framer:   protocol.NewFramer(opts.Config.Protocol.MaxPayloadBytes),
		out:      &responseWriter{link: opts.Link},
		period:   opts.ServicePeriod,
		requests: make(chan func()),
		done:     make(chan struct{}),
	}
	d.dispatcher = protocol.NewDispatcher(d.tuning, d.recorder, d.out, opts.Config.Protocol.GainStepDB, d.logger)
	d.codec = protocol.NewCodec(d.tuning, d.out, d.logger)
	d.telemetry = newTelemetry(opts.Sampler, opts.Config.Protocol.TelemetryInterval)
	return d, nil
}

// Run drives the device until ctx is done. An open recording is stopped
// before Run returns.
func (d *Device) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("device loop already running")
	}
	defer close(d.done)

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	d.logger.Info("Device loop started", "service_period", d.period)
	for {
		select {
		case <-ctx.Done():
			// Bytes queued before cancellation still reach the framer.
			d.pollLink()
			d.shutdown()
			return nil
		case fn := <-d.requests:
			fn()
		case <-d.link.Ready():
			d.pollLink()
		case <-ticker.C:
			d.serviceStorage()
			d.pollLink()
			d.reportTelemetry()
		}
	}
}

func (d *Device) shutdown() {
	if d.recorder.IsRecording() {
		if err := d.recorder.Stop(); err != nil {
			d.logger.Error("Failed to close recording on shutdown", "error", err)
		}
	}
	d.logger.Info("Device loop stopped")
}

// Do runs fn on the device loop and waits for it to finish.
func (d *Device) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case d.requests <- wrapped:
	case <-d.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) serviceStorage() {
	for i := 0; i < maxFlushesPerTick; i++ {
		wrote, err := d.recorder.Service()
		if err != nil {
			d.setLastError(fmt.Sprintf("Recording aborted: %v", err))
			fmt.Fprintf(d.out, "ERROR: recording aborted: %v\n", err)
			fmt.Fprintln(d.out, protocol.StateLine(protocol.ButtonRecord, false))
			return
		}
		if !wrote {
			return
		}
	}
}

func (d *Device) pollLink() {
	var buf [linkReadBytes]byte
	for {
		n := d.link.ReadAvailable(buf[:])
		if n == 0 {
			return
		}
		for _, b := range buf[:n] {
			d.handleByte(b)
		}
	}
}

func (d *Device) handleByte(b byte) {
	frame, err := d.framer.Feed(b)
	if err != nil {
		d.framingErrors.Add(1)
		d.observer.FramingError()
		d.logger.Warn("Dropped malformed frame", "error", err)
		fmt.Fprintf(d.out, "ERROR: %v\n", err)
		return
	}
	switch frame.Kind {
	case protocol.FrameChar:
		d.observer.FrameDecoded("char")
		err := d.dispatcher.Dispatch(frame.Char)
		d.observer.CommandHandled(err)
		if err != nil && !errors.Is(err, protocol.ErrUnrecognizedCommand) {
			d.setLastError(err.Error())
		}
	case protocol.FrameStream:
		d.observer.FrameDecoded("stream")
		tag, _, _ := protocol.SplitPayload(frame.Payload)
		err := d.codec.Handle(frame.Payload)
		d.observer.RecordHandled(tag, err)
	}
}

func (d *Device) reportTelemetry() {
	if !d.tuning.Telemetry() {
		return
	}
	if _, err := d.telemetry.report(d.out, d.recorder.Stats().Overruns); err != nil {
		d.logger.Debug("Telemetry sample failed", "error", err)
	}
}

// StartRecording opens a new auto-named recording on the device loop.
func (d *Device) StartRecording(ctx context.Context) error {
	var err error
	if doErr := d.Do(ctx, func() {
		err = d.recorder.Start()
		if err == nil {
			fmt.Fprintln(d.out, protocol.StateLine(protocol.ButtonRecord, true))
		}
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		d.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	d.clearLastError()
	return nil
}

// StopRecording closes the open recording, if any.
func (d *Device) StopRecording(ctx context.Context) error {
	var err error
	if doErr := d.Do(ctx, func() {
		err = d.recorder.Stop()
		fmt.Fprintln(d.out, protocol.StateLine(protocol.ButtonRecord, false))
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		d.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}
	d.clearLastError()
	return nil
}

// ResetSequence restarts auto naming at AUDIO001.WAV. It fails while a
// recording is open.
func (d *Device) ResetSequence(ctx context.Context) error {
	var err error
	if doErr := d.Do(ctx, func() { err = d.recorder.ResetSequence() }); doErr != nil {
		return doErr
	}
	if err != nil {
		d.setLastError(fmt.Sprintf("Failed to reset sequence: %v", err))
		return err
	}
	d.logger.Info("Recording sequence reset")
	d.clearLastError()
	return nil
}

// GetRecordingStatus returns the recorder state and the current or last session.
func (d *Device) GetRecordingStatus() (audio.Status, *audio.SessionInfo) {
	return d.recorder.Status(), d.recorder.Session()
}

// SendCommand runs a single-character command as if it came over the link
// and returns the response text. The response is also sent to the link.
func (d *Device) SendCommand(ctx context.Context, c byte) (string, error) {
	var (
		buf bytes.Buffer
		err error
	)
	if doErr := d.Do(ctx, func() {
		d.out.capture = &buf
		err = d.dispatcher.Dispatch(c)
		d.out.capture = nil
		d.observer.CommandHandled(err)
	}); doErr != nil {
		return "", doErr
	}
	return buf.String(), err
}

// GetTuning returns the current tuning state.
func (d *Device) GetTuning() protocol.Snapshot { return d.tuning.Snapshot() }

// ListRecordings returns the WAV files on the medium.
func (d *Device) ListRecordings() ([]RecordingInfo, error) {
	if d.medium == nil {
		return nil, nil
	}
	recs, err := d.medium.List()
	if err != nil {
		return nil, err
	}
	out := make([]RecordingInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, RecordingInfo{Name: r.Name, Size: r.Bytes, SizeHuman: formatBytes(r.Bytes)})
	}
	return out, nil
}

// GetStats returns capture and link counters.
func (d *Device) GetStats() DeviceStats {
	st := d.recorder.Stats()
	return DeviceStats{
		BufferedBytes:  st.Buffered,
		Overruns:       st.Overruns,
		DroppedBytes:   st.DroppedBytes,
		LinkReceived:   d.link.Received(),
		LinkDropped:    d.link.Dropped(),
		FramingErrors:  d.framingErrors.Load(),
		SequenceNumber: d.recorder.SequenceCount(),
	}
}

// GetConfig returns the current configuration
func (d *Device) GetConfig() *config.Config {
	return d.cfg
}

// GetLastError returns the last error message (thread-safe)
func (d *Device) GetLastError() string {
	d.lastErrorMutex.RLock()
	defer d.lastErrorMutex.RUnlock()
	return d.lastError
}

// setLastError sets the last error message (thread-safe)
func (d *Device) setLastError(err string) {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = err

	// Log all errors for debugging and monitoring
	d.logger.Error("Device error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (d *Device) clearLastError() {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = ""
}

// responseWriter sends responses to the link and, while a control request
// is running, also to its capture buffer. Only the device loop writes.
type responseWriter struct {
	link    io.Writer
	capture *bytes.Buffer
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.capture != nil {
		w.capture.Write(p)
	}
	return w.link.Write(p)
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
