package audio

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/earcapture/internal/capture"
	"github.com/audiolibrelab/earcapture/internal/config"
	"github.com/audiolibrelab/earcapture/internal/storage"
)

// SourceType names a sample producer implementation
type SourceType string

const (
	SourceTypeTone     SourceType = "tone"
	SourceTypeSilence  SourceType = "silence"
	SourceTypePipeWire SourceType = "pipewire"
)

// NewSource creates the sample producer selected by configuration
func NewSource(cfg *config.Config) (Source, error) {
	a := cfg.Audio
	switch determineSource(cfg) {
	case SourceTypeTone:
		return NewToneSource(a.SampleRate, a.Channels, a.BlockSize, a.ToneHz, a.Amplitude), nil
	case SourceTypeSilence:
		return NewSilenceSource(a.SampleRate, a.Channels, a.BlockSize), nil
	case SourceTypePipeWire:
		return NewPipeWireSource(a.SampleRate, a.Channels, a.BlockSize, a.Target), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", a.Source)
	}
}

// determineSource maps the configured source name, defaulting to the tone generator
func determineSource(cfg *config.Config) SourceType {
	switch strings.ToLower(strings.TrimSpace(cfg.Audio.Source)) {
	case "", "tone":
		return SourceTypeTone
	case "silence":
		return SourceTypeSilence
	case "pipewire":
		return SourceTypePipeWire
	}
	return SourceType(cfg.Audio.Source)
}

// GetAvailableSources returns the producers this build can run
func GetAvailableSources() []SourceType {
	return []SourceType{SourceTypeTone, SourceTypeSilence, SourceTypePipeWire}
}

// NewRecorderFromConfig builds a recorder writing into the configured storage directory
func NewRecorderFromConfig(cfg *config.Config, medium storage.Medium) (*Recorder, error) {
	enc, err := capture.ParseEncoding(cfg.Capture.Encoding)
	if err != nil {
		return nil, err
	}
	return NewRecorder(medium, RecorderConfig{
		Channels:       cfg.Audio.Channels,
		SampleRate:     cfg.Audio.SampleRate,
		Encoding:       enc,
		BufferBytes:    cfg.Capture.BufferBytes,
		ChunkBytes:     cfg.Capture.ChunkBytes,
		MaxBlockFrames: cfg.Audio.BlockSize,
	}, nil)
}
