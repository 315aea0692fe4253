package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/earcapture/internal/capture"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusUnprepared Status = "UNPREPARED"
	StatusStopped    Status = "STOPPED"
	StatusRecording  Status = "RECORDING"
)

const (
	stateUnprepared int32 = iota
	stateStopped
	stateRecording
)

var statusNames = [...]Status{StatusUnprepared, StatusStopped, StatusRecording}

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current recorder state")
	// ErrFormatLocked is returned when the format is changed during a recording.
	ErrFormatLocked = errors.New("audio format cannot change while recording")
)

// SessionInfo contains information about the current or last recording session
type SessionInfo struct {
	ID            string         `json:"id"`
	OutputFile    string         `json:"output_file"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time,omitempty"`
	Format        storage.Format `json:"format"`
	DataBytes     int64          `json:"data_bytes"`
	AcceptedBytes uint64         `json:"accepted_bytes"`
	Overruns      uint64         `json:"overruns"`
	Aborted       bool           `json:"aborted,omitempty"`
}

// Observer receives recorder events, normally a metrics collector.
type Observer interface {
	RecordingStarted()
	RecordingStopped(dataBytes int64, elapsed time.Duration)
	ChunkFlushed(bytes int)
	Overruns(n uint64)
	WriteFailed()
}

type nopObserver struct{}

func (nopObserver) RecordingStarted()                     {}
func (nopObserver) RecordingStopped(int64, time.Duration) {}
func (nopObserver) ChunkFlushed(int)                      {}
func (nopObserver) Overruns(uint64)                       {}
func (nopObserver) WriteFailed()                          {}

// RecorderConfig sizes the capture path and fixes the initial format.
type RecorderConfig struct {
	Channels       int
	SampleRate     int
	Encoding       capture.Encoding
	BufferBytes    int
	ChunkBytes     int
	MaxBlockFrames int
}

// Recorder moves sample blocks from the audio producer into WAV files.
//
// OnSampleBlocks is the only method the producer may call; it is lock free.
// Every other method belongs to the device loop.
type Recorder struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	medium storage.Medium
	sink   *storage.WAVSink
	buf    *capture.Buffer
	seq    storage.Sequence

	state     atomic.Int32
	producing atomic.Bool
	channels  atomic.Int32
	seqCount  atomic.Int32

	mu           sync.RWMutex
	format       storage.Format
	session      *SessionInfo
	lastOverruns uint64
}

// NewRecorder creates an unprepared recorder writing to medium.
func NewRecorder(medium storage.Medium, cfg RecorderConfig, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Encoding == nil {
		cfg.Encoding = capture.DefaultEncoding
	}
	format := storage.Format{Channels: cfg.Channels, SampleRate: cfg.SampleRate, BitDepth: cfg.Encoding.BitDepth()}
	if format.Channels == 0 {
		format.Channels = storage.DefaultFormat.Channels
	}
	if format.SampleRate == 0 {
		format.SampleRate = storage.DefaultFormat.SampleRate
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	buf, err := capture.NewBuffer(capture.Config{
		SizeBytes:      cfg.BufferBytes,
		ChunkBytes:     cfg.ChunkBytes,
		MaxBlockFrames: cfg.MaxBlockFrames,
		Encoding:       cfg.Encoding,
	}, logger)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		logger:   logger,
		observer: nopObserver{},
		now:      time.Now,
		medium:   medium,
		sink:     storage.NewWAVSink(medium, logger),
		buf:      buf,
		format:   format,
	}
	r.channels.Store(int32(format.Channels))
	return r, nil
}

// SetObserver installs an event observer. Call before the device loop starts.
func (r *Recorder) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// Status returns the current state. Safe from any goroutine.
func (r *Recorder) Status() Status {
	return statusNames[r.state.Load()]
}

// IsRecording reports whether a session is open.
func (r *Recorder) IsRecording() bool {
	return r.state.Load() == stateRecording
}

// Format returns the format the next recording will use.
func (r *Recorder) Format() storage.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.format
}

// Session returns a copy of the current or most recent session, or nil.
// Safe from any goroutine.
func (r *Recorder) Session() *SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return nil
	}
	s := *r.session
	if r.state.Load() == stateRecording {
		st := r.buf.Stats()
		s.AcceptedBytes = st.Accepted
		s.Overruns = st.Overruns
		s.DataBytes = int64(st.Flushed)
	}
	return &s
}

// Stats returns the capture buffer counters for the running session.
func (r *Recorder) Stats() capture.Stats { return r.buf.Stats() }

// SequenceCount returns the auto-naming counter.
func (r *Recorder) SequenceCount() int { return int(r.seqCount.Load()) }

// Prepare initialises the medium. It is a no-op once prepared.
func (r *Recorder) Prepare() error {
	if r.state.Load() != stateUnprepared {
		return nil
	}
	if err := r.medium.Init(); err != nil {
		return fmt.Errorf("prepare medium: %w", err)
	}
	r.state.Store(stateStopped)
	r.logger.Debug("Storage medium prepared")
	return nil
}

// Start begins a recording under the next auto-generated name.
func (r *Recorder) Start() error {
	return r.start("")
}

// StartNamed begins a recording into name, which must not exist yet.
func (r *Recorder) StartNamed(name string) error {
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	return r.start(name)
}

func (r *Recorder) start(name string) error {
	if r.state.Load() == stateRecording {
		return fmt.Errorf("start recording: %w (current: %s)", ErrInvalidState, StatusRecording)
	}
	if err := r.Prepare(); err != nil {
		return err
	}

	var err error
	if name == "" {
		// The counter advances even if the open below fails.
		name, err = r.seq.Next()
		r.seqCount.Store(int32(r.seq.Count()))
		if err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	} else {
		exists, err := r.medium.Exists(name)
		if err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		if exists {
			return fmt.Errorf("start recording: %w: %s", storage.ErrNameExists, name)
		}
	}

	r.mu.Lock()
	format := r.format
	r.mu.Unlock()

	r.buf.Reset()
	if err := r.sink.SetFormat(format); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	if err := r.sink.Open(name); err != nil {
		return fmt.Errorf("start recording %s: %w", name, err)
	}

	r.mu.Lock()
	r.session = &SessionInfo{
		ID:         uuid.NewString(),
		OutputFile: name,
		StartTime:  r.now(),
		Format:     format,
	}
	r.lastOverruns = 0
	r.mu.Unlock()

	r.state.Store(stateRecording)
	r.observer.RecordingStarted()
	r.logger.Info("Recording started", "file", name, "channels", format.Channels,
		"sample_rate", format.SampleRate, "bit_depth", format.BitDepth)
	return nil
}

// OnSampleBlocks hands one tick of audio to the recorder. Blocks are copied
// and not retained. It returns false if the blocks were not queued.
func (r *Recorder) OnSampleBlocks(blocks [][]float32) bool {
	r.producing.Store(true)
	if r.state.Load() != stateRecording {
		r.producing.Store(false)
		return false
	}
	ok := r.buf.Write(blocks, int(r.channels.Load()))
	r.producing.Store(false)
	return ok
}

// quiesce unpublishes the recording state and waits for the producer to
// leave OnSampleBlocks.
func (r *Recorder) quiesce() {
	r.state.Store(stateStopped)
	for r.producing.Load() {
		runtime.Gosched()
	}
}

// Service writes at most one chunk to the open file. A write failure ends
// the session and is returned.
func (r *Recorder) Service() (bool, error) {
	if r.state.Load() != stateRecording {
		return false, nil
	}
	wrote, err := r.buf.ServiceFlush(r.sink)
	r.reportOverruns()
	if err != nil {
		r.observer.WriteFailed()
		r.abort(err)
		return wrote, err
	}
	if wrote {
		r.observer.ChunkFlushed(r.buf.ChunkBytes())
	}
	return wrote, nil
}

func (r *Recorder) abort(cause error) {
	r.quiesce()
	data, closeErr := r.sink.Close()
	r.finishSession(data, true)
	r.buf.Reset()
	r.logger.Error("Recording aborted", "error", cause, "data_bytes", data)
	if closeErr != nil {
		r.logger.Warn("Failed to close aborted recording", "error", closeErr)
	}
}

// Stop ends the recording, flushing every queued byte before the header is
// finalised. It is a no-op unless recording.
func (r *Recorder) Stop() error {
	if r.state.Load() != stateRecording {
		return nil
	}
	r.quiesce()

	_, drainErr := r.buf.Drain(r.sink)
	r.reportOverruns()
	data, closeErr := r.sink.Close()
	session := r.finishSession(data, false)
	r.buf.Reset()

	if err := errors.Join(drainErr, closeErr); err != nil {
		r.observer.WriteFailed()
		r.logger.Error("Recording stopped with errors", "file", session.OutputFile, "error", err)
		return fmt.Errorf("stop recording: %w", err)
	}
	r.logger.Info("Recording stopped", "file", session.OutputFile, "data_bytes", data,
		"duration", session.EndTime.Sub(session.StartTime).Round(time.Millisecond),
		"overruns", session.Overruns)
	return nil
}

func (r *Recorder) finishSession(data int64, aborted bool) SessionInfo {
	st := r.buf.Stats()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return SessionInfo{}
	}
	r.session.EndTime = r.now()
	r.session.DataBytes = data
	r.session.AcceptedBytes = st.Accepted
	r.session.Overruns = st.Overruns
	r.session.Aborted = aborted
	r.observer.RecordingStopped(data, r.session.EndTime.Sub(r.session.StartTime))
	return *r.session
}

func (r *Recorder) reportOverruns() {
	n := r.buf.Overruns()
	if n <= r.lastOverruns {
		return
	}
	delta := n - r.lastOverruns
	r.lastOverruns = n
	r.observer.Overruns(delta)
	r.logger.Warn("Capture buffer overrun, dropped newest audio", "blocks", delta, "total", n)
}

// SetFormat sets channel count and sample rate for the next recording.
func (r *Recorder) SetFormat(channels, sampleRate int) error {
	if r.state.Load() == stateRecording {
		return ErrFormatLocked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f := storage.Format{Channels: channels, SampleRate: sampleRate, BitDepth: r.format.BitDepth}
	if err := f.Validate(); err != nil {
		return err
	}
	r.format = f
	r.channels.Store(int32(channels))
	return nil
}

// ResetSequence restarts auto naming at AUDIO001.WAV.
func (r *Recorder) ResetSequence() error {
	if r.state.Load() == stateRecording {
		return fmt.Errorf("reset sequence: %w", ErrInvalidState)
	}
	r.seq.Reset()
	r.seqCount.Store(0)
	return nil
}
