package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// HeaderBytes is the size of the canonical PCM WAV header.
	HeaderBytes  = 44
	wavFormatPCM = 1
)

var (
	ErrSinkOpen      = errors.New("a recording file is already open")
	ErrSinkClosed    = errors.New("no recording file is open")
	ErrInvalidFormat = errors.New("invalid audio format")
)

// Format describes the PCM layout written to the container.
type Format struct {
	Channels   int `json:"channels"`
	SampleRate int `json:"sample_rate"`
	BitDepth   int `json:"bit_depth"`
}

// DefaultFormat matches the device defaults: stereo, 44.1 kHz, 16 bit.
var DefaultFormat = Format{Channels: 2, SampleRate: 44100, BitDepth: 16}

// Validate checks the format is one the sink can write.
func (f Format) Validate() error {
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got: %d", ErrInvalidFormat, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got: %d", ErrInvalidFormat, f.SampleRate)
	}
	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth must be 16, 24 or 32, got: %d", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// FrameBytes is the size of one interleaved frame.
func (f Format) FrameBytes() int { return f.Channels * f.BitDepth / 8 }

// WAVSink writes interleaved PCM bytes into WAV files on a Medium. The header
// is written on Open and the size fields are patched on Close.
type WAVSink struct {
	medium Medium
	format Format
	logger *slog.Logger

	name  string
	file  File
	enc   *wav.Encoder
	pcm   *audio.IntBuffer
	carry []byte
	data  int64
}

// NewWAVSink returns a closed sink using DefaultFormat.
func NewWAVSink(medium Medium, logger *slog.Logger) *WAVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVSink{medium: medium, format: DefaultFormat, logger: logger}
}

// SetFormat changes the layout of the next file. It fails while a file is open.
func (s *WAVSink) SetFormat(f Format) error {
	if s.file != nil {
		return ErrSinkOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}
	s.format = f
	return nil
}

// Format returns the configured layout.
func (s *WAVSink) Format() Format { return s.format }

// IsOpen reports whether a file is being written.
func (s *WAVSink) IsOpen() bool { return s.file != nil }

// Name returns the open file name, or "" when closed.
func (s *WAVSink) Name() string { return s.name }

// DataBytes returns the PCM bytes committed to the open file so far.
func (s *WAVSink) DataBytes() int64 { return s.data }

// Open creates name on the medium and writes the WAV header.
func (s *WAVSink) Open(name string) error {
	if s.file != nil {
		return ErrSinkOpen
	}
	f, err := s.medium.Create(name)
	if err != nil {
		return err
	}

	fm := &audio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate}
	enc := wav.NewEncoder(f, s.format.SampleRate, s.format.BitDepth, s.format.Channels, wavFormatPCM)
	pcm := &audio.IntBuffer{Format: fm, SourceBitDepth: s.format.BitDepth}
	// An empty buffer makes the encoder emit the RIFF/fmt header and open the data chunk.
	if err := enc.Write(pcm); err != nil {
		f.Close()
		return fmt.Errorf("%w: write header to %s: %v", ErrMedium, name, err)
	}

	s.name = name
	s.file = f
	s.enc = enc
	s.pcm = pcm
	s.carry = s.carry[:0]
	s.data = 0
	s.logger.Debug("Opened recording file", "file", name, "channels", s.format.Channels,
		"sample_rate", s.format.SampleRate, "bit_depth", s.format.BitDepth)
	return nil
}

// Write appends interleaved little-endian PCM. A trailing partial frame is
// held until the rest of it arrives.
func (s *WAVSink) Write(p []byte) (int, error) {
	if s.file == nil {
		return 0, ErrSinkClosed
	}
	n := len(p)
	frame := s.format.FrameBytes()
	s.pcm.Data = s.pcm.Data[:0]

	if len(s.carry) > 0 {
		need := frame - len(s.carry)
		if len(p) < need {
			s.carry = append(s.carry, p...)
			return n, nil
		}
		s.carry = append(s.carry, p[:need]...)
		s.appendSamples(s.carry)
		s.carry = s.carry[:0]
		p = p[need:]
	}
	whole := len(p) - len(p)%frame
	s.appendSamples(p[:whole])
	s.carry = append(s.carry, p[whole:]...)

	if len(s.pcm.Data) == 0 {
		return n, nil
	}
	if err := s.enc.Write(s.pcm); err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrMedium, s.name, err)
	}
	s.data += int64(len(s.pcm.Data) * s.format.BitDepth / 8)
	return n, nil
}

func (s *WAVSink) appendSamples(p []byte) {
	switch s.format.BitDepth {
	case 16:
		for i := 0; i+2 <= len(p); i += 2 {
			s.pcm.Data = append(s.pcm.Data, int(int16(binary.LittleEndian.Uint16(p[i:]))))
		}
	case 24:
		for i := 0; i+3 <= len(p); i += 3 {
			s.pcm.Data = append(s.pcm.Data, int(audio.Int24LETo32(p[i:i+3])))
		}
	case 32:
		for i := 0; i+4 <= len(p); i += 4 {
			s.pcm.Data = append(s.pcm.Data, int(int32(binary.LittleEndian.Uint32(p[i:]))))
		}
	}
}

// Close patches the header sizes, closes the file and returns the number of
// PCM bytes it holds.
func (s *WAVSink) Close() (int64, error) {
	if s.file == nil {
		return 0, ErrSinkClosed
	}
	if len(s.carry) > 0 {
		s.logger.Warn("Discarding partial frame at close", "file", s.name, "bytes", len(s.carry))
	}
	encErr := s.enc.Close()
	closeErr := s.file.Close()
	data := s.data
	name := s.name

	s.file = nil
	s.enc = nil
	s.pcm = nil
	s.name = ""
	s.carry = s.carry[:0]
	s.data = 0

	if encErr != nil {
		return data, fmt.Errorf("%w: finalize %s: %v", ErrMedium, name, encErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("%w: close %s: %v", ErrMedium, name, closeErr)
	}
	s.logger.Debug("Closed recording file", "file", name, "data_bytes", data)
	return data, nil
}
